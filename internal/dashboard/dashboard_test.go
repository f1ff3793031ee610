package dashboard

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/dgallion1/docdash/internal/model"
	"github.com/dgallion1/docdash/internal/page"
)

const personaOutput = `{
  "Metadata": {"source_file": "report.pdf", "persona": "Analyst", "job_to_be_done": "Compare revenue"},
  "Extracted Sections": [{"level": "H1", "text": "Revenue", "page": 2, "importance_rank": 1, "similarity": 0.8234, "explanation": "matches job"}],
  "Sub-section Analysis": [{"section": "Revenue", "highlights": [{"text": "grew 12%", "similarity": 0.61}], "summary": ["Revenue grew."]}],
  "explainability_and_compliance": {"heuristics": ["embedding rank"], "compliance": {"offline": true, "cpu_only": true, "model_size_mb": 80}, "signals_summary": "1 section"}
}`

func setup(t *testing.T) (*page.Document, *Controller) {
	t.Helper()
	doc, err := page.Default()
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	return doc, New(doc, nil, Options{})
}

func decode(t *testing.T, mode model.Mode, raw string) model.Result {
	t.Helper()
	r, err := model.DecodeResult(mode, []byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return r
}

func dashboardHTML(doc *page.Document) string {
	return page.InnerHTML(doc.ByID(DashboardID))
}

func TestRender_Persona(t *testing.T) {
	doc, c := setup(t)
	if err := c.Render(decode(t, model.ModePersona, personaOutput), model.ModePersona, "report.pdf"); err != nil {
		t.Fatalf("render: %v", err)
	}

	got := dashboardHTML(doc)
	for _, want := range []string{"<h2>Persona-Driven Insights</h2>", "<b>Persona:</b> Analyst", "Compare revenue", "Score: 0.823", "<h3>Sub-section Analysis</h3>"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in dashboard, got %q", want, got)
		}
	}
	if strings.Contains(got, "explainability-section") {
		t.Error("expected no explainability block with Judges Mode off")
	}
	if display := page.Style(doc.ByID(ResultsID), "display"); display != "block" {
		t.Errorf("expected results revealed, display=%q", display)
	}

	links := page.InnerHTML(doc.ByID(DownloadLinksID))
	want := `<a href="/output/report_challenge1b_output.json" class="btn-secondary" download="">Download Persona JSON</a> ` +
		`<a href="/output/report.json" class="btn-secondary" download="">Download Structure JSON</a>`
	if links != want {
		t.Errorf("unexpected links\n got %q\nwant %q", links, want)
	}
}

func TestRender_Structure(t *testing.T) {
	doc, c := setup(t)
	raw := `{"title": "Annual Report", "outline": []}`
	if err := c.Render(decode(t, model.ModeStructure, raw), model.ModeStructure, "Annual.PDF"); err != nil {
		t.Fatalf("render: %v", err)
	}
	got := dashboardHTML(doc)
	for _, want := range []string{`<h3 class="title-block">Annual Report</h3>`, `<div id="pdfPreview"></div>`, "<h2>Document Outline</h2>", "<em>No headings found.</em>"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
	links := page.InnerHTML(doc.ByID(DownloadLinksID))
	if strings.Count(links, "<a ") != 1 || !strings.Contains(links, `href="/output/Annual.json"`) {
		t.Errorf("unexpected structure links %q", links)
	}
}

func TestRender_MismatchedDataRendersEmpty(t *testing.T) {
	doc, c := setup(t)
	if err := c.Render(nil, model.ModeStructure, "x.pdf"); err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := dashboardHTML(doc); !strings.Contains(got, "<em>No headings found.</em>") {
		t.Errorf("expected empty outline, got %q", got)
	}
}

func TestToggleJudgesMode_Twice(t *testing.T) {
	doc, c := setup(t)
	data := decode(t, model.ModePersona, personaOutput)
	if err := c.Render(data, model.ModePersona, "report.pdf"); err != nil {
		t.Fatalf("render: %v", err)
	}
	before := dashboardHTML(doc)

	if err := c.ToggleJudgesMode(); err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !c.State().JudgesMode {
		t.Fatal("expected Judges Mode on")
	}
	dash := doc.ByID(DashboardID)
	blocks := page.FindAll(dash, func(n *html.Node) bool { return page.HasClass(n, "explainability-section") })
	if len(blocks) != 1 {
		t.Fatalf("expected one explainability block, found %d", len(blocks))
	}
	on := page.InnerHTML(dash)
	for _, want := range []string{"offline: <b>true</b>", "model_size_mb: <b>80</b>", `data-intent="export"`} {
		if !strings.Contains(on, want) {
			t.Errorf("expected %q in %q", want, on)
		}
	}
	page.Detach(blocks[0])
	if stripped := page.InnerHTML(dash); stripped != before {
		t.Errorf("non-explainability markup changed\n got %q\nwant %q", stripped, before)
	}

	if err := c.ToggleJudgesMode(); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if after := dashboardHTML(doc); after != before {
		t.Errorf("markup differs after toggling twice\n got %q\nwant %q", after, before)
	}
}

func TestToggleJudgesMode_NoResult(t *testing.T) {
	doc, c := setup(t)
	if err := c.ToggleJudgesMode(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := dashboardHTML(doc); got != "" {
		t.Errorf("expected dashboard untouched, got %q", got)
	}
	if display := page.Style(doc.ByID(ResultsID), "display"); display != "none" {
		t.Errorf("expected results hidden, display=%q", display)
	}
}

func TestMountJudgesToggle_Once(t *testing.T) {
	doc, c := setup(t)
	c.MountJudgesToggle()
	c.MountJudgesToggle()
	toggles := page.FindAll(doc.Root(), func(n *html.Node) bool { return page.Attr(n, "data-intent") == "judges" })
	if len(toggles) != 1 {
		t.Fatalf("expected one toggle, found %d", len(toggles))
	}
	if toggles[0].Parent != doc.ByID(HeaderID) {
		t.Error("expected toggle in header")
	}
}

func TestExportExplainability(t *testing.T) {
	_, c := setup(t)
	if _, ok, _ := c.ExportExplainability(); ok {
		t.Fatal("expected nothing to export before a result")
	}

	if err := c.Render(decode(t, model.ModeStructure, `{"title":"T","outline":[]}`), model.ModeStructure, "t.pdf"); err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, ok, _ := c.ExportExplainability(); ok {
		t.Fatal("expected nothing to export without explainability")
	}

	if err := c.Render(decode(t, model.ModePersona, personaOutput), model.ModePersona, "report.pdf"); err != nil {
		t.Fatalf("render: %v", err)
	}
	out, ok, err := c.ExportExplainability()
	if err != nil || !ok {
		t.Fatalf("expected export, ok=%v err=%v", ok, err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "{\n  \"heuristics\"") {
		t.Errorf("expected 2-space indented object, got %q", s)
	}
	if strings.Index(s, "offline") > strings.Index(s, "cpu_only") || strings.Index(s, "cpu_only") > strings.Index(s, "model_size_mb") {
		t.Errorf("expected compliance keys in source order, got %s", s)
	}
}

func TestRewriteFilename(t *testing.T) {
	tests := []struct {
		in, suffix, want string
	}{
		{"report.pdf", ".json", "report.json"},
		{"report.pdf", "_challenge1b_output.json", "report_challenge1b_output.json"},
		{"Report.PDF", ".json", "Report.json"},
		{"a.pdf.pdf", ".json", "a.pdf.json"},
		{"notes.txt", ".json", "notes.txt"},
		{"pdf", ".json", "pdf"},
	}
	for _, tc := range tests {
		if got := RewriteFilename(tc.in, tc.suffix); got != tc.want {
			t.Errorf("RewriteFilename(%q, %q) = %q, want %q", tc.in, tc.suffix, got, tc.want)
		}
	}
}

func TestEncodeURIComponent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.json", "report.json"},
		{"my file (1).pdf", "my%20file%20(1).pdf"},
		{"a&b=c/d?", "a%26b%3Dc%2Fd%3F"},
		{"it's~*!", "it's~*!"},
		{"café", "caf%C3%A9"},
	}
	for _, tc := range tests {
		if got := EncodeURIComponent(tc.in); got != tc.want {
			t.Errorf("EncodeURIComponent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPreviewURL(t *testing.T) {
	_, c := setup(t)
	if got := c.PreviewURL("my doc.pdf"); got != "/uploads/my%20doc.pdf" {
		t.Errorf("unexpected preview url %q", got)
	}
}
