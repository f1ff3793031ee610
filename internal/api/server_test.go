package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/docdash/internal/analysis"
	"github.com/dgallion1/docdash/internal/app"
	"github.com/dgallion1/docdash/internal/config"
	"github.com/dgallion1/docdash/internal/model"
)

type fakeSession struct {
	mu      sync.Mutex
	intents []app.Intent
	regions app.Regions
	export  []byte
	err     error
}

func (f *fakeSession) Dispatch(_ context.Context, in app.Intent) (app.Regions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, in)
	return f.regions, f.err
}

func (f *fakeSession) Export(context.Context) ([]byte, bool, error) {
	return f.export, f.export != nil, nil
}

func (f *fakeSession) Page(context.Context) ([]byte, error) {
	return []byte("<!DOCTYPE html><html></html>"), nil
}

func testConfig(analysisURL string) config.Config {
	return config.Config{
		Port:              "0",
		AnalysisURL:       analysisURL,
		StructureEndpoint: "/upload",
		PersonaEndpoint:   "/persona_upload",
		OutputPrefix:      "/output",
		UploadsPrefix:     "/uploads",
		MaxUploadBytes:    1024,
	}
}

func newTestServer(t *testing.T, sess *fakeSession, analysisURL string) *Server {
	t.Helper()
	live := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	srv, err := NewServer(sess, live, slog.New(slog.NewTextHandler(io.Discard, nil)), testConfig(analysisURL))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func multipartBody(t *testing.T, fields map[string]string, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" || data != nil {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		part.Write(data)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeSession{}, "http://localhost:5000")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestPage(t *testing.T) {
	srv := newTestServer(t, &fakeSession{}, "http://localhost:5000")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("unexpected page response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestMode(t *testing.T) {
	sess := &fakeSession{regions: app.Regions{"modeSelect": "<div></div>"}}
	srv := newTestServer(t, sess, "http://localhost:5000")

	form := url.Values{"mode": {"persona"}, "persona": {"Analyst"}, "job": {""}}
	req := httptest.NewRequest(http.MethodPost, "/intent/mode", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body regionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Type != "regions" || body.Regions["modeSelect"] == "" {
		t.Errorf("unexpected body %+v", body)
	}
	in, ok := sess.intents[0].(app.ChangeMode)
	if !ok || in.Mode != model.ModePersona || in.Fields == nil || in.Fields.Persona != "Analyst" {
		t.Errorf("unexpected intent %#v", sess.intents[0])
	}
}

func TestMode_Invalid(t *testing.T) {
	sess := &fakeSession{}
	srv := newTestServer(t, sess, "http://localhost:5000")
	req := httptest.NewRequest(http.MethodPost, "/intent/mode", strings.NewReader("mode=bogus"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if len(sess.intents) != 0 {
		t.Error("expected nothing dispatched")
	}
}

func TestTemplate(t *testing.T) {
	sess := &fakeSession{}
	srv := newTestServer(t, sess, "http://localhost:5000")
	body, ct := multipartBody(t, map[string]string{"field": "job", "value": "Summarize"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/intent/template", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for no changes, got %d", rec.Code)
	}
	in, ok := sess.intents[0].(app.ChooseTemplate)
	if !ok || in.Field != "job" || in.Value != "Summarize" || in.Fields != nil {
		t.Errorf("unexpected intent %#v", sess.intents[0])
	}

	bad, ct := multipartBody(t, map[string]string{"field": "title", "value": "x"}, "", nil)
	req = httptest.NewRequest(http.MethodPost, "/intent/template", bad)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestSubmit_WithFile(t *testing.T) {
	sess := &fakeSession{regions: app.Regions{"uploadStatus": "<div>Uploading...</div>"}}
	srv := newTestServer(t, sess, "http://localhost:5000")

	body, ct := multipartBody(t, map[string]string{"mode": "structure", "persona": "", "job": ""}, "../../etc/report.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/intent/submit", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sess.intents) != 2 {
		t.Fatalf("expected mode then submit, got %d intents", len(sess.intents))
	}
	if _, ok := sess.intents[0].(app.ChangeMode); !ok {
		t.Errorf("expected ChangeMode first, got %T", sess.intents[0])
	}
	sub, ok := sess.intents[1].(app.Submit)
	if !ok || sub.File == nil {
		t.Fatalf("expected Submit with file, got %#v", sess.intents[1])
	}
	if sub.File.Filename != "report.pdf" || string(sub.File.Data) != "%PDF-1.4" {
		t.Errorf("unexpected upload %q %q", sub.File.Filename, sub.File.Data)
	}
}

func TestSubmit_EmptyFileField(t *testing.T) {
	sess := &fakeSession{}
	srv := newTestServer(t, sess, "http://localhost:5000")
	body, ct := multipartBody(t, nil, "", []byte{})
	req := httptest.NewRequest(http.MethodPost, "/intent/submit", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	sub, ok := sess.intents[0].(app.Submit)
	if !ok || sub.File != nil {
		t.Errorf("expected Submit without file, got %#v", sess.intents[0])
	}
}

func TestSubmit_TooLarge(t *testing.T) {
	sess := &fakeSession{}
	srv := newTestServer(t, sess, "http://localhost:5000")
	body, ct := multipartBody(t, nil, "big.pdf", bytes.Repeat([]byte("x"), 2048))
	req := httptest.NewRequest(http.MethodPost, "/intent/submit", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if len(sess.intents) != 0 {
		t.Error("expected nothing dispatched")
	}
}

type countingAnalyzer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingAnalyzer) Analyze(_ context.Context, req analysis.Request) (*analysis.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return &analysis.Response{Output: []byte(`{"title":"Doc","outline":[]}`), Filename: req.File.Filename}, nil
}

func (c *countingAnalyzer) FetchSample(context.Context) (analysis.Upload, error) {
	return analysis.Upload{}, analysis.ErrSampleAbsent
}

func (c *countingAnalyzer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type nopNotifier struct{}

func (nopNotifier) Regions(map[string]string) {}
func (nopNotifier) Notice(string)             {}
func (nopNotifier) Preview(string)            {}

func TestSubmit_EmptyFileAfterUploadIsNoop(t *testing.T) {
	an := &countingAnalyzer{}
	session, err := app.New(slog.New(slog.NewTextHandler(io.Discard, nil)), an, nopNotifier{}, app.Options{PreviewDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		session.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	live := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	srv, err := NewServer(session, live, slog.New(slog.NewTextHandler(io.Discard, nil)), testConfig("http://localhost:5000"))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	submit := func(filename string, data []byte) int {
		body, ct := multipartBody(t, map[string]string{"mode": "structure", "persona": "", "job": ""}, filename, data)
		req := httptest.NewRequest(http.MethodPost, "/intent/submit", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := submit("doc.pdf", []byte("%PDF-1.4")); code != http.StatusOK {
		t.Fatalf("expected 200 for first upload, got %d", code)
	}
	deadline := time.Now().Add(2 * time.Second)
	for an.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if code := submit("", []byte{}); code != http.StatusNoContent {
		t.Errorf("expected 204 for empty file field, got %d", code)
	}
	time.Sleep(20 * time.Millisecond)
	if n := an.Calls(); n != 1 {
		t.Errorf("expected one analysis request, got %d", n)
	}
}

func TestSimpleIntents(t *testing.T) {
	tests := []struct {
		path string
		want app.Intent
	}{
		{"/intent/demo", app.RunDemo{}},
		{"/intent/judges", app.ToggleJudges{}},
		{"/intent/help", app.OpenHelp{}},
		{"/intent/help/close", app.CloseHelp{}},
	}
	for _, tc := range tests {
		sess := &fakeSession{}
		srv := newTestServer(t, sess, "http://localhost:5000")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: expected 204, got %d", tc.path, rec.Code)
		}
		if len(sess.intents) != 1 || sess.intents[0] != tc.want {
			t.Errorf("%s: unexpected intents %#v", tc.path, sess.intents)
		}
	}
}

func TestDispatchStopped(t *testing.T) {
	sess := &fakeSession{err: app.ErrStopped}
	srv := newTestServer(t, sess, "http://localhost:5000")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/intent/judges", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestExport(t *testing.T) {
	sess := &fakeSession{}
	srv := newTestServer(t, sess, "http://localhost:5000")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/compliance_report.json", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 without a result, got %d", rec.Code)
	}

	sess.export = []byte("{\n  \"heuristics\": []\n}")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/compliance_report.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="compliance_report.json"` {
		t.Errorf("unexpected disposition %q", cd)
	}
	if rec.Body.String() != string(sess.export) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestFileProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "served "+r.URL.Path)
	}))
	defer backend.Close()

	srv := newTestServer(t, &fakeSession{}, backend.URL)
	for _, path := range []string{"/output/report.json", "/uploads/my%20doc.pdf"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
			continue
		}
		if !strings.HasPrefix(rec.Body.String(), "served /") {
			t.Errorf("%s: unexpected body %q", path, rec.Body.String())
		}
	}
}

func TestFileProxy_BackendDown(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	addr := backend.URL
	backend.Close()

	srv := newTestServer(t, &fakeSession{}, addr)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/output/x.json", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestWebsocketRoute(t *testing.T) {
	srv := newTestServer(t, &fakeSession{}, "http://localhost:5000")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected live handler, got %d", rec.Code)
	}
}

func TestOriginChecker(t *testing.T) {
	if OriginChecker(nil) != nil || OriginChecker([]string{"*"}) != nil {
		t.Fatal("expected permissive checker for empty or wildcard list")
	}
	check := OriginChecker([]string{"http://localhost:*", "https://dash.example.com"})
	req := httptest.NewRequest(http.MethodGet, "http://docdash.internal:8090/ws", nil)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8090", true},
		{"https://dash.example.com", true},
		{"http://docdash.internal:8090", true},
		{"http://evil.example", false},
		{"https://localhost:8090", false},
	}
	for _, tc := range tests {
		req.Header.Set("Origin", tc.origin)
		if got := check(req); got != tc.want {
			t.Errorf("origin %q: got %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"", "unnamed"},
		{"a\\b.pdf", "a_b.pdf"},
	}
	for _, tc := range tests {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
