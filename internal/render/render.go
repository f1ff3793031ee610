// Package render turns analysis results into dashboard markup fragments.
// Every function is pure: it never mutates its input and treats missing
// optional fields as "render nothing".
package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgallion1/docdash/internal/model"
)

// NoHeadings is shown in place of an empty outline.
const NoHeadings = `<em>No headings found.</em>`

var levelColors = map[string]string{
	model.LevelH2:   "#2196f3",
	model.LevelH3:   "#43a047",
	model.LevelBody: "#aaa",
}

const defaultColor = "#f44336"

// BadgeColor maps a heading level to its badge color. TITLE, H1 and
// unknown levels share the default.
func BadgeColor(level string) string {
	if c, ok := levelColors[level]; ok {
		return c
	}
	return defaultColor
}

// Badge renders a colored level badge with an optional language marker.
func Badge(level, lang string) string {
	label := esc(level)
	if lang != "" && lang != model.DefaultLang {
		label += ` <span class="lang-badge">` + esc(lang) + `</span>`
	}
	return `<span class="badge" style="background:` + BadgeColor(level) + `">` + label + `</span>`
}

// Tooltip wraps already-rendered content with a hover list of bullets.
func Tooltip(content string, explanations []string) string {
	bullets := make([]string, len(explanations))
	for i, e := range explanations {
		bullets[i] = "• " + esc(e)
	}
	return `<span class="tooltip">` + content + `<span class="tooltiptext">` + strings.Join(bullets, "<br>") + `</span></span>`
}

func pageBadge(page int) string {
	return `<span class="page-badge">p.` + strconv.Itoa(page) + `</span>`
}

// Outline renders the structural heading tree.
func Outline(outline []model.Heading) string {
	if len(outline) == 0 {
		return NoHeadings
	}
	var b strings.Builder
	b.WriteString(`<ul class="outline-tree">`)
	for _, h := range outline {
		b.WriteString("<li>")
		b.WriteString(Badge(h.Level, h.Lang))
		b.WriteString(" ")
		b.WriteString(Tooltip(esc(h.Text), h.Explanation))
		b.WriteString(" ")
		b.WriteString(pageBadge(h.Page))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

// Similarity formats a score to three decimals, or "" when absent.
func Similarity(s *float64) string {
	if s == nil {
		return ""
	}
	return strconv.FormatFloat(*s, 'f', 3, 64)
}

// ExtractedSections renders the ranked section list.
func ExtractedSections(sections []model.Section) string {
	if len(sections) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<h3>Top Sections</h3><ul class="section-list">`)
	for _, s := range sections {
		b.WriteString("<li>")
		b.WriteString(Badge(s.Level, ""))
		b.WriteString(" <b>" + esc(s.Text) + "</b> ")
		b.WriteString(pageBadge(s.Page))
		b.WriteString(`<br><span class="sim-score">Score: ` + Similarity(s.Similarity) + `</span>`)
		b.WriteString(`<br><span class="explanation">` + esc(s.Explanation) + `</span>`)
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

// Highlights renders the highlighted passages of one sub-section.
func Highlights(highlights []model.Highlight) string {
	if len(highlights) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<ul class="highlight-list">`)
	for _, h := range highlights {
		b.WriteString("<li><mark>" + esc(h.Text) + "</mark> ")
		b.WriteString(`<span class="sim-score">` + Similarity(h.Similarity) + `</span> `)
		b.WriteString(`<span class="explanation">` + esc(h.Explanation) + `</span></li>`)
	}
	b.WriteString("</ul>")
	return b.String()
}

// SubsectionAnalysis renders one block per analysed section.
func SubsectionAnalysis(analysis []model.SubAnalysis) string {
	if len(analysis) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range analysis {
		b.WriteString(`<div class="sub-analysis">`)
		b.WriteString("<b>Section:</b> <span>" + esc(a.Section) + "</span><br>")
		b.WriteString("<b>Highlights:</b> " + Highlights(a.Highlights))
		b.WriteString(`<b>Summary:</b> <span class="summary">` + esc(strings.Join(a.Summary, " ")) + `</span>`)
		b.WriteString("</div>")
	}
	return b.String()
}

// ExportIntent is the data-intent value of the compliance export button.
const ExportIntent = "export"

// Explainability renders the Judges Mode panel. A nil block renders nothing.
func Explainability(ec *model.Explainability) string {
	if ec == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<div class="explainability-section"><h3>Explainability &amp; Compliance</h3>`)
	b.WriteString("<b>Heuristics:</b> <ul>")
	for _, h := range ec.Heuristics {
		b.WriteString("<li>" + esc(h) + "</li>")
	}
	b.WriteString("</ul><b>Compliance:</b> <ul>")
	if ec.Compliance != nil {
		for pair := ec.Compliance.Oldest(); pair != nil; pair = pair.Next() {
			b.WriteString("<li>" + esc(pair.Key) + ": <b>" + esc(ComplianceValue(pair.Value)) + "</b></li>")
		}
	}
	b.WriteString("</ul><b>Signals Summary:</b> <span>" + esc(ec.SignalsSummary) + "</span>")
	b.WriteString(`<button type="button" class="btn-secondary" data-intent="` + ExportIntent + `" style="margin-top:8px">Download Compliance Report</button>`)
	b.WriteString("</div>")
	return b.String()
}

// ComplianceValue prints a decoded JSON value the way a browser would
// interpolate it into text.
func ComplianceValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return jsNumber(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return jsNumber(f)
		}
		return t.String()
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

// jsNumber formats f like Number.prototype.toString: plain decimals for
// magnitudes in [1e-6, 1e21), exponent form with no padded digits outside.
func jsNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	if a := math.Abs(f); a >= 1e-6 && a < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	return mant + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
}

func esc(s string) string {
	return html.EscapeString(s)
}
