// Package app runs the page session. Every intent, whether it comes from
// the browser or from a finished background request, is applied by one
// goroutine, so page state needs no locking.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/docdash/internal/analysis"
	"github.com/dgallion1/docdash/internal/dashboard"
	"github.com/dgallion1/docdash/internal/docinfo"
	"github.com/dgallion1/docdash/internal/form"
	"github.com/dgallion1/docdash/internal/help"
	"github.com/dgallion1/docdash/internal/page"
)

// ErrStopped is returned when the loop is not running.
var ErrStopped = errors.New("app stopped")

// RegionIDs are the page elements the browser replaces wholesale.
var RegionIDs = []string{
	dashboard.HeaderID,
	form.ModeSelectID,
	form.PersonaInputsID,
	"buttonRow",
	form.FileSummaryID,
	form.StatusID,
	dashboard.ResultsID,
	helpModalID,
}

const (
	helpModalID = "howItWorksModal"
	helpBodyID  = "howItWorksBody"
)

// Regions maps element ids to their new outer HTML.
type Regions map[string]string

// Analyzer is the remote analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Response, error)
	FetchSample(ctx context.Context) (analysis.Upload, error)
}

// Notifier pushes updates to connected pages.
type Notifier interface {
	Regions(regions map[string]string)
	Notice(text string)
	Preview(url string)
}

// Options configures a session.
type Options struct {
	PreviewDelay    time.Duration
	OutputPrefix    string
	UploadsPrefix   string
	PreviewClientID string
}

// App is one page session and its event loop.
type App struct {
	log      *slog.Logger
	analyzer Analyzer
	notifier Notifier

	requests chan request
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the loop goroutine.
	doc      *page.Document
	dash     *dashboard.Controller
	form     *form.Machine
	ctx      context.Context
	inflight context.CancelFunc
}

type request struct {
	intent Intent
	fn     func()
	reply  chan reply
}

type reply struct {
	regions Regions
	err     error
}

// New builds a session over a fresh copy of the dashboard page.
func New(log *slog.Logger, analyzer Analyzer, notifier Notifier, opts Options) (*App, error) {
	doc, err := page.Default()
	if err != nil {
		return nil, err
	}
	if body := page.FindFirst(doc.Root(), isBody); body != nil && opts.PreviewClientID != "" {
		page.SetAttr(body, "data-preview-client-id", opts.PreviewClientID)
	}

	dash := dashboard.New(doc, &dashboard.State{}, dashboard.Options{
		OutputPrefix:  opts.OutputPrefix,
		UploadsPrefix: opts.UploadsPrefix,
	})
	dash.MountJudgesToggle()

	return &App{
		log:      log,
		analyzer: analyzer,
		notifier: notifier,
		requests: make(chan request),
		done:     make(chan struct{}),
		doc:      doc,
		dash:     dash,
		form:     form.New(doc, dash, form.Options{PreviewDelay: opts.PreviewDelay}),
		ctx:      context.Background(),
	}, nil
}

// Run applies intents until ctx is cancelled. Background requests started
// by the loop are cancelled with it.
func (a *App) Run(ctx context.Context) {
	a.ctx = ctx
	defer a.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.requests:
			var r reply
			if req.fn != nil {
				req.fn()
			} else {
				r.regions, r.err = a.apply(req.intent)
			}
			if req.reply != nil {
				req.reply <- r
			}
		}
	}
}

func (a *App) stop() {
	a.stopOnce.Do(func() {
		if a.inflight != nil {
			a.inflight()
		}
		close(a.done)
	})
}

// Dispatch applies a browser intent and returns the regions it changed.
// The same regions are pushed to every connected page.
func (a *App) Dispatch(ctx context.Context, in Intent) (Regions, error) {
	rc := make(chan reply, 1)
	if err := a.send(ctx, request{intent: in, reply: rc}); err != nil {
		return nil, err
	}
	select {
	case r := <-rc:
		return r.regions, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Export returns the explainability artifact of the last result. It
// reports false when there is nothing to export.
func (a *App) Export(ctx context.Context) ([]byte, bool, error) {
	var (
		out []byte
		ok  bool
		err error
	)
	if e := a.do(ctx, func() { out, ok, err = a.dash.ExportExplainability() }); e != nil {
		return nil, false, e
	}
	return out, ok, err
}

// Page renders the full current page.
func (a *App) Page(ctx context.Context) ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)
	if e := a.do(ctx, func() { err = a.doc.Render(&buf) }); e != nil {
		return nil, e
	}
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *App) do(ctx context.Context, fn func()) error {
	rc := make(chan reply, 1)
	if err := a.send(ctx, request{fn: fn, reply: rc}); err != nil {
		return err
	}
	select {
	case <-rc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) send(ctx context.Context, req request) error {
	select {
	case a.requests <- req:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues an internal intent from a background goroutine.
func (a *App) post(in Intent) {
	select {
	case a.requests <- request{intent: in}:
	case <-a.done:
	}
}

func (a *App) apply(in Intent) (Regions, error) {
	before := a.snapshot()
	err := a.handle(in)
	changed := a.diff(before)
	if len(changed) > 0 {
		a.notifier.Regions(changed)
	}
	return changed, err
}

func (a *App) handle(in Intent) error {
	switch in := in.(type) {
	case ChangeMode:
		a.syncFields(in.Fields)
		return a.form.SetMode(in.Mode)

	case ChooseTemplate:
		a.syncFields(in.Fields)
		return a.form.ApplyTemplate(in.Field, in.Value)

	case Submit:
		a.syncFields(in.Fields)
		// A page with an empty file input never resubmits an earlier upload.
		if in.File == nil {
			return nil
		}
		info, err := docinfo.Inspect(in.File.Filename, in.File.Data)
		if err != nil {
			a.log.Debug("local inspection skipped", "file", in.File.Filename, "error", err)
		}
		a.form.Select(*in.File, info)
		return a.exec(a.form.Submit())

	case RunDemo:
		return a.exec(a.form.Demo())

	case ToggleJudges:
		return a.dash.ToggleJudgesMode()

	case OpenHelp:
		body, err := help.HTML()
		if err != nil {
			return err
		}
		if n := a.doc.ByID(helpBodyID); n != nil {
			if err := page.SetInnerHTML(n, body); err != nil {
				return err
			}
		}
		if n := a.doc.ByID(helpModalID); n != nil {
			page.SetDisplay(n, "block")
		}
		return nil

	case CloseHelp:
		if n := a.doc.ByID(helpModalID); n != nil {
			page.SetDisplay(n, "none")
		}
		return nil

	case analysisDone:
		log := a.log.With("seq", in.seq)
		if in.seq != a.form.Seq() {
			log.Debug("stale analysis result ignored")
			return nil
		}
		if a.inflight != nil {
			a.inflight()
			a.inflight = nil
		}
		if in.err != nil {
			log.Warn("analysis failed", "error", in.err)
		} else {
			log.Info("analysis complete", "filename", in.resp.Filename)
		}
		cmd, err := a.form.Completed(in.seq, in.resp, in.err)
		if err != nil {
			return err
		}
		return a.exec(cmd)

	case sampleFetched:
		if in.err != nil {
			a.log.Warn("demo sample unavailable", "error", in.err)
		}
		return a.exec(a.form.SampleFetched(in.file, in.err))

	case previewDue:
		a.notifier.Preview(in.url)
		return nil
	}
	return fmt.Errorf("unknown intent %T", in)
}

func (a *App) syncFields(f *Fields) {
	if f != nil {
		a.form.SetFields(f.Persona, f.Job)
	}
}

// exec performs the I/O a transition asked for. Blocking work runs in
// goroutines that post their outcome back to the loop.
func (a *App) exec(cmd form.Command) error {
	switch cmd := cmd.(type) {
	case nil:
		return nil

	case form.Analyze:
		// A newer submission replaces the one in flight.
		if a.inflight != nil {
			a.inflight()
		}
		ctx, cancel := context.WithCancel(a.ctx)
		a.inflight = cancel
		a.log.Info("analysis started", "seq", cmd.Seq, "mode", cmd.Request.Mode, "file", cmd.Request.File.Filename)
		go func() {
			resp, err := a.analyzer.Analyze(ctx, cmd.Request)
			a.post(analysisDone{seq: cmd.Seq, resp: resp, err: err})
		}()
		return nil

	case form.FetchSample:
		ctx := a.ctx
		go func() {
			file, err := a.analyzer.FetchSample(ctx)
			a.post(sampleFetched{file: file, err: err})
		}()
		return nil

	case form.ShowPreview:
		url := cmd.URL
		time.AfterFunc(cmd.Delay, func() {
			a.post(previewDue{url: url})
		})
		return nil

	case form.Notify:
		a.notifier.Notice(cmd.Text)
		return nil
	}
	return fmt.Errorf("unknown command %T", cmd)
}

func (a *App) snapshot() Regions {
	out := make(Regions, len(RegionIDs))
	for _, id := range RegionIDs {
		out[id] = a.doc.OuterHTML(id)
	}
	return out
}

func (a *App) diff(before Regions) Regions {
	changed := Regions{}
	for _, id := range RegionIDs {
		if now := a.doc.OuterHTML(id); now != before[id] {
			changed[id] = now
		}
	}
	return changed
}
