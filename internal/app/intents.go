package app

import (
	"golang.org/x/net/html"

	"github.com/dgallion1/docdash/internal/analysis"
	"github.com/dgallion1/docdash/internal/model"
)

// Intent is a request to change the page.
type Intent interface {
	intent()
}

// Fields carries the persona and job text as currently typed in the
// browser. Nil leaves the stored values unchanged.
type Fields struct {
	Persona string
	Job     string
}

// ChangeMode selects structure or persona analysis.
type ChangeMode struct {
	Mode   model.Mode
	Fields *Fields
}

// ChooseTemplate applies a persona or job template.
type ChooseTemplate struct {
	Field  string
	Value  string
	Fields *Fields
}

// Submit sends File for analysis. With a nil File only the fields are
// recorded and nothing is sent.
type Submit struct {
	File   *analysis.Upload
	Fields *Fields
}

type (
	RunDemo      struct{}
	ToggleJudges struct{}
	OpenHelp     struct{}
	CloseHelp    struct{}
)

type analysisDone struct {
	seq  uint64
	resp *analysis.Response
	err  error
}

type sampleFetched struct {
	file analysis.Upload
	err  error
}

type previewDue struct {
	url string
}

func (ChangeMode) intent()     {}
func (ChooseTemplate) intent() {}
func (Submit) intent()         {}
func (RunDemo) intent()        {}
func (ToggleJudges) intent()   {}
func (OpenHelp) intent()       {}
func (CloseHelp) intent()      {}
func (analysisDone) intent()   {}
func (sampleFetched) intent()  {}
func (previewDue) intent()     {}

func isBody(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "body"
}
