// Package form is the upload form state machine. Transitions mutate the
// page and return Commands; the caller performs any I/O they describe.
package form

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/net/html"

	"github.com/dgallion1/docdash/internal/analysis"
	"github.com/dgallion1/docdash/internal/docinfo"
	"github.com/dgallion1/docdash/internal/model"
	"github.com/dgallion1/docdash/internal/page"
)

// Status is the submission status.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Demo values filled in by the one-click demo.
const (
	DemoPersona = "PhD Researcher in Computational Biology"
	DemoJob     = "Prepare a comprehensive literature review focusing on methodologies, datasets, and performance benchmarks"
)

// User-facing messages.
const (
	MsgUploading      = `<span class="spinner"></span> Uploading...`
	MsgSucceeded      = `<span style="color:#43a047">✔ Analysis complete!</span>`
	MsgUploadFailed   = "Upload failed."
	MsgNetworkFailure = "Error uploading or analyzing file."
	MsgSampleAbsent   = "Sample PDF not found on server. Please upload manually."
	msgDemoFailed     = "Demo failed: "
)

// Element ids the machine writes to.
const (
	FormID          = "uploadForm"
	ModeSelectID    = "modeSelect"
	PersonaInputsID = "personaInputs"
	PersonaInputID  = "personaInput"
	JobInputID      = "jobInput"
	PersonaTplID    = "personaTemplate"
	JobTplID        = "jobTemplate"
	FileSummaryID   = "fileSummary"
	StatusID        = "uploadStatus"
	DemoButtonID    = "demoBtn"
)

const (
	demoStyle  = "flex:1 1 0;max-width:180px;min-width:120px;height:42px;font-size:1.01em;margin-left:0"
	demoMarkup = `<span class="btn-icon" aria-hidden="true"><svg width="18" height="18" fill="none" viewBox="0 0 20 20"><path d="M3 17l4.5-4.5m4.5-4.5l4.5-4.5m-9 9l6-6m-6 6l2 2m4-8l2 2" stroke="#f44336" stroke-width="2" stroke-linecap="round" stroke-linejoin="round"></path></svg></span>One-Click Demo`
)

// Command is an effect requested by a transition.
type Command interface {
	command()
}

// Analyze sends Request to the analysis service. The result must be fed
// back through Completed with the same Seq.
type Analyze struct {
	Seq     uint64
	Request analysis.Request
}

// FetchSample downloads the demo sample; feed the result to SampleFetched.
type FetchSample struct{}

// ShowPreview opens the document preview after Delay.
type ShowPreview struct {
	URL   string
	Delay time.Duration
}

// Notify shows a blocking notice.
type Notify struct {
	Text string
}

func (Analyze) command()     {}
func (FetchSample) command() {}
func (ShowPreview) command() {}
func (Notify) command()      {}

// Dashboard renders analysis results. *dashboard.Controller satisfies it.
type Dashboard interface {
	Render(data model.Result, mode model.Mode, filename string) error
	PreviewURL(filename string) string
}

// Options tunes the machine.
type Options struct {
	PreviewDelay time.Duration
}

// Machine owns the form region of the page.
type Machine struct {
	doc  *page.Document
	dash Dashboard
	opts Options

	mode    model.Mode
	status  Status
	persona string
	job     string
	file    *analysis.Upload

	demo *html.Node

	seq           uint64
	submittedMode model.Mode
}

// New binds a machine to doc and applies the mode checked in the markup.
func New(doc *page.Document, dash Dashboard, opts Options) *Machine {
	if opts.PreviewDelay <= 0 {
		opts.PreviewDelay = 300 * time.Millisecond
	}
	m := &Machine{doc: doc, dash: dash, opts: opts, mode: model.ModeStructure, status: StatusIdle}
	if n := page.FindFirst(doc.ByID(ModeSelectID), isCheckedModeRadio); n != nil {
		if mode, err := model.ParseMode(page.Attr(n, "value")); err == nil {
			m.mode = mode
		}
	}
	m.persona = inputValue(doc.ByID(PersonaInputID))
	m.job = inputValue(doc.ByID(JobInputID))
	m.applyMode()
	return m
}

// Mode returns the selected analysis mode.
func (m *Machine) Mode() model.Mode { return m.mode }

// Status returns the submission status.
func (m *Machine) Status() Status { return m.status }

// Persona returns the persona text last recorded.
func (m *Machine) Persona() string { return m.persona }

// Job returns the job text last recorded.
func (m *Machine) Job() string { return m.job }

// Seq returns the sequence number of the latest submission.
func (m *Machine) Seq() uint64 { return m.seq }

// DemoMounted reports whether the demo control is attached to the page.
func (m *Machine) DemoMounted() bool { return m.demo != nil && m.demo.Parent != nil }

// File returns the selected document, or nil.
func (m *Machine) File() *analysis.Upload { return m.file }

// SetFields records the persona and job text as typed in the browser.
func (m *Machine) SetFields(persona, job string) {
	m.persona, m.job = persona, job
	if n := m.doc.ByID(PersonaInputID); n != nil {
		page.SetAttr(n, "value", persona)
	}
	if n := m.doc.ByID(JobInputID); n != nil {
		page.SetAttr(n, "value", job)
	}
}

// SetMode switches mode, toggles the persona fields and mounts or
// unmounts the demo control.
func (m *Machine) SetMode(mode model.Mode) error {
	if _, err := model.ParseMode(string(mode)); err != nil {
		return err
	}
	m.mode = mode
	m.applyMode()
	return nil
}

func (m *Machine) applyMode() {
	persona := m.mode == model.ModePersona

	for _, radio := range page.FindAll(m.doc.ByID(ModeSelectID), isModeRadio) {
		if page.Attr(radio, "value") == string(m.mode) {
			page.SetAttr(radio, "checked", "")
		} else {
			page.RemoveAttr(radio, "checked")
		}
	}
	if inputs := m.doc.ByID(PersonaInputsID); inputs != nil {
		if persona {
			page.SetDisplay(inputs, "block")
		} else {
			page.SetDisplay(inputs, "none")
		}
	}
	if persona {
		m.mountDemo()
	} else if m.demo != nil {
		page.Detach(m.demo)
	}
}

// mountDemo places the demo control directly after the submit button. It
// is created once and only moved when it is not already in place.
func (m *Machine) mountDemo() {
	form := m.doc.ByID(FormID)
	row := page.FindFirst(form, func(n *html.Node) bool {
		return n.Type == html.ElementNode && page.HasClass(n, "button-row")
	})
	if row == nil {
		return
	}
	submit := page.FindFirst(row, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "button" && page.Attr(n, "type") == "submit"
	})
	if submit == nil {
		return
	}
	if m.demo == nil {
		m.demo = page.Element("button",
			html.Attribute{Key: "type", Val: "button"},
			html.Attribute{Key: "id", Val: DemoButtonID},
			html.Attribute{Key: "class", Val: "btn-secondary"},
			html.Attribute{Key: "data-intent", Val: "demo"},
		)
		_ = page.SetInnerHTML(m.demo, demoMarkup)
	}
	if m.demo != submit.NextSibling {
		page.InsertAfter(submit, m.demo)
	}
	page.SetAttr(m.demo, "style", demoStyle)
}

// ApplyTemplate copies a template choice into the persona or job field.
// An empty value leaves the field alone.
func (m *Machine) ApplyTemplate(field, value string) error {
	var selectID string
	switch field {
	case "persona":
		selectID = PersonaTplID
	case "job":
		selectID = JobTplID
	default:
		return fmt.Errorf("unknown template field %q", field)
	}
	if sel := m.doc.ByID(selectID); sel != nil {
		for _, opt := range page.FindAll(sel, isOption) {
			if page.Attr(opt, "value") == value {
				page.SetAttr(opt, "selected", "")
			} else {
				page.RemoveAttr(opt, "selected")
			}
		}
	}
	if value == "" {
		return nil
	}
	if field == "persona" {
		m.SetFields(value, m.job)
	} else {
		m.SetFields(m.persona, value)
	}
	return nil
}

// Select records the chosen document. info comes from local inspection
// and may be zero.
func (m *Machine) Select(file analysis.Upload, info docinfo.Info) {
	f := file
	m.file = &f
	if n := m.doc.ByID(FileSummaryID); n != nil {
		page.SetText(n, info.Summary(file.Filename))
	}
}

// Submit starts an analysis of the selected file. Without a file it does
// nothing and returns nil.
func (m *Machine) Submit() Command {
	if m.file == nil {
		return nil
	}
	m.seq++
	m.submittedMode = m.mode
	m.setStatus(StatusSubmitting, MsgUploading)

	req := analysis.Request{Mode: m.mode, File: *m.file}
	if m.mode == model.ModePersona {
		req.Persona, req.Job = m.persona, m.job
	}
	return Analyze{Seq: m.seq, Request: req}
}

// Completed applies the outcome of the analysis started with seq. A
// completion for an older submission is ignored.
func (m *Machine) Completed(seq uint64, resp *analysis.Response, err error) (Command, error) {
	if seq != m.seq || m.status != StatusSubmitting {
		return nil, nil
	}

	if err != nil {
		if rej, ok := analysis.IsRejected(err); ok {
			msg := rej.Message
			if msg == "" {
				msg = MsgUploadFailed
			}
			m.setStatus(StatusFailed, `<span style="color:#e53935">`+html.EscapeString(msg)+`</span>`)
			return nil, nil
		}
		m.failNetwork()
		return nil, nil
	}

	data, err := model.DecodeResult(m.submittedMode, resp.Output)
	if err != nil {
		m.failNetwork()
		return nil, nil
	}
	if err := m.dash.Render(data, m.submittedMode, resp.Filename); err != nil {
		m.setStatus(StatusFailed, `<span style="color:#e53935">`+MsgUploadFailed+`</span>`)
		return nil, fmt.Errorf("render dashboard: %w", err)
	}
	m.setStatus(StatusSucceeded, MsgSucceeded)
	return ShowPreview{URL: m.dash.PreviewURL(resp.Filename), Delay: m.opts.PreviewDelay}, nil
}

func (m *Machine) failNetwork() {
	m.status = StatusFailed
	if n := m.doc.ByID(StatusID); n != nil {
		page.SetText(n, MsgNetworkFailure)
	}
}

func (m *Machine) setStatus(s Status, markup string) {
	m.status = s
	if n := m.doc.ByID(StatusID); n != nil {
		_ = page.SetInnerHTML(n, markup)
	}
}

// Demo fills in the sample persona and job, switches to persona mode and
// asks for the sample document.
func (m *Machine) Demo() Command {
	m.SetFields(DemoPersona, DemoJob)
	m.mode = model.ModePersona
	m.applyMode()
	return FetchSample{}
}

// SampleFetched continues the demo once the sample download finishes.
func (m *Machine) SampleFetched(file analysis.Upload, err error) Command {
	switch {
	case errors.Is(err, analysis.ErrSampleAbsent):
		return Notify{Text: MsgSampleAbsent}
	case err != nil:
		return Notify{Text: msgDemoFailed + err.Error()}
	}
	info, _ := docinfo.Inspect(file.Filename, file.Data)
	m.Select(file, info)
	return m.Submit()
}

func isModeRadio(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "input" && page.Attr(n, "type") == "radio" && page.Attr(n, "name") == "mode"
}

func isCheckedModeRadio(n *html.Node) bool {
	return isModeRadio(n) && page.HasAttr(n, "checked")
}

func isOption(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "option"
}

func inputValue(n *html.Node) string {
	if n == nil {
		return ""
	}
	return page.Attr(n, "value")
}
