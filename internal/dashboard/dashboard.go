// Package dashboard renders analysis results into the results region of
// the page and owns the Judges Mode overlay.
package dashboard

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgallion1/docdash/internal/model"
	"github.com/dgallion1/docdash/internal/page"
	"github.com/dgallion1/docdash/internal/render"
)

// ExportFilename is the name of the downloaded explainability artifact.
const ExportFilename = "compliance_report.json"

// Element ids the controller writes to.
const (
	DashboardID     = "dashboard"
	ResultsID       = "resultsSection"
	DownloadLinksID = "downloadLinks"
	HeaderID        = "header"
	JudgesToggleID  = "judgesToggle"
)

// LastResult is the last rendered call. It is replaced wholesale on each
// render and never patched in place.
type LastResult struct {
	Data     model.Result
	Mode     model.Mode
	Filename string
}

// State is the part of the session state owned by the controller.
type State struct {
	JudgesMode bool
	Last       *LastResult
}

// Options configures link generation.
type Options struct {
	OutputPrefix  string
	UploadsPrefix string
}

func (o Options) withDefaults() Options {
	if o.OutputPrefix == "" {
		o.OutputPrefix = "/output"
	}
	if o.UploadsPrefix == "" {
		o.UploadsPrefix = "/uploads"
	}
	return o
}

// Controller maps results onto the page.
type Controller struct {
	doc    *page.Document
	state  *State
	opts   Options
	toggle *html.Node
}

// New creates a controller over doc. A nil state starts a fresh session.
func New(doc *page.Document, state *State, opts Options) *Controller {
	if state == nil {
		state = &State{}
	}
	return &Controller{doc: doc, state: state, opts: opts.withDefaults()}
}

// State returns the controller's session state.
func (c *Controller) State() *State {
	return c.state
}

// MountJudgesToggle appends the Judges Mode button to the page header once.
func (c *Controller) MountJudgesToggle() {
	header := c.doc.ByID(HeaderID)
	if header == nil {
		return
	}
	if c.toggle == nil {
		c.toggle = page.Element("button",
			html.Attribute{Key: "type", Val: "button"},
			html.Attribute{Key: "id", Val: JudgesToggleID},
			html.Attribute{Key: "class", Val: "btn-secondary"},
			html.Attribute{Key: "data-intent", Val: "judges"},
			html.Attribute{Key: "style", Val: "float:right"},
		)
		page.SetText(c.toggle, "Judges Mode")
	}
	if c.toggle.Parent != header || header.LastChild != c.toggle {
		page.Detach(c.toggle)
		header.AppendChild(c.toggle)
	}
}

// Render records the call as the last result and rebuilds the results region.
func (c *Controller) Render(data model.Result, mode model.Mode, filename string) error {
	c.state.Last = &LastResult{Data: data, Mode: mode, Filename: filename}

	if markup, ok := c.Markup(data, mode); ok {
		if dash := c.doc.ByID(DashboardID); dash != nil {
			if err := page.SetInnerHTML(dash, markup); err != nil {
				return err
			}
		}
	}
	if results := c.doc.ByID(ResultsID); results != nil {
		page.SetDisplay(results, "block")
	}
	if links := c.doc.ByID(DownloadLinksID); links != nil {
		if err := page.SetInnerHTML(links, LinksMarkup(DownloadLinks(c.opts.OutputPrefix, mode, filename))); err != nil {
			return err
		}
	}
	return nil
}

// Markup builds the dashboard markup for data under the current Judges
// Mode setting. It reports false for an unknown mode.
func (c *Controller) Markup(data model.Result, mode model.Mode) (string, bool) {
	explain := ""
	if c.state.JudgesMode && data != nil {
		if ec := data.Explainability(); ec != nil {
			explain = render.Explainability(ec)
		}
	}

	switch mode {
	case model.ModeStructure:
		r, _ := data.(*model.StructureResult)
		if r == nil {
			r = &model.StructureResult{}
		}
		return `<h3 class="title-block">` + html.EscapeString(r.Title) + `</h3><div id="pdfPreview"></div>` +
			explain + `<h2>Document Outline</h2>` + render.Outline(r.Outline), true

	case model.ModePersona:
		r, _ := data.(*model.PersonaResult)
		if r == nil {
			r = &model.PersonaResult{}
		}
		var persona, job string
		if r.Metadata != nil {
			persona, job = r.Metadata.Persona, r.Metadata.JobToBeDone
		}
		var b strings.Builder
		b.WriteString(explain)
		b.WriteString(`<h2>Persona-Driven Insights</h2><div class="meta"><b>Persona:</b> `)
		b.WriteString(html.EscapeString(persona))
		b.WriteString(`<br><b>Job to be done:</b> `)
		b.WriteString(html.EscapeString(job))
		b.WriteString(`</div>`)
		b.WriteString(render.ExtractedSections(r.Sections))
		b.WriteString(`<hr><h3>Sub-section Analysis</h3>`)
		b.WriteString(render.SubsectionAnalysis(r.Subsections))
		return b.String(), true
	}
	return "", false
}

// ToggleJudgesMode flips the overlay and re-renders the last result.
func (c *Controller) ToggleJudgesMode() error {
	c.state.JudgesMode = !c.state.JudgesMode
	if last := c.state.Last; last != nil {
		return c.Render(last.Data, last.Mode, last.Filename)
	}
	return nil
}

// ExportExplainability returns the explainability artifact of the last
// result. It reports false when there is nothing to export.
func (c *Controller) ExportExplainability() ([]byte, bool, error) {
	last := c.state.Last
	if last == nil || last.Data == nil {
		return nil, false, nil
	}
	ec := last.Data.Explainability()
	if ec == nil {
		return nil, false, nil
	}
	out, err := ec.Indented()
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// PreviewURL is the uploaded-file URL handed to the preview embed.
func (c *Controller) PreviewURL(filename string) string {
	return c.opts.UploadsPrefix + "/" + EncodeURIComponent(filename)
}

// Link is one derived download link.
type Link struct {
	Label string
	File  string
	Href  string
}

const (
	structureSuffix = ".json"
	personaSuffix   = "_challenge1b_output.json"
)

var pdfExt = regexp.MustCompile(`(?i)\.pdf$`)

// RewriteFilename replaces a trailing .pdf (any case) with suffix. Names
// without the extension are returned unchanged.
func RewriteFilename(filename, suffix string) string {
	return pdfExt.ReplaceAllLiteralString(filename, suffix)
}

// DownloadLinks derives the output artifact links for a mode.
func DownloadLinks(prefix string, mode model.Mode, filename string) []Link {
	var links []Link
	add := func(label, suffix string) {
		file := RewriteFilename(filename, suffix)
		links = append(links, Link{
			Label: label,
			File:  file,
			Href:  prefix + "/" + EncodeURIComponent(file),
		})
	}
	switch mode {
	case model.ModeStructure:
		add("Download Structure JSON", structureSuffix)
	case model.ModePersona:
		add("Download Persona JSON", personaSuffix)
		add("Download Structure JSON", structureSuffix)
	}
	return links
}

// LinksMarkup renders links as space separated anchors.
func LinksMarkup(links []Link) string {
	parts := make([]string, len(links))
	for i, l := range links {
		parts[i] = `<a href="` + html.EscapeString(l.Href) + `" class="btn-secondary" download>` + html.EscapeString(l.Label) + `</a>`
	}
	return strings.Join(parts, " ")
}

// EncodeURIComponent percent-encodes everything except the unreserved
// set A-Z a-z 0-9 - _ . ! ~ * ' ( ), matching the browser function.
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if unreserved(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[ch>>4])
		b.WriteByte(hex[ch&0x0f])
	}
	return b.String()
}

func unreserved(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", ch) >= 0
}
