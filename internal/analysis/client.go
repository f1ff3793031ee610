// Package analysis talks to the remote document analysis service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/dgallion1/docdash/internal/model"
)

// ErrSampleAbsent is returned by FetchSample when the service has no
// sample document.
var ErrSampleAbsent = errors.New("sample document not found")

// RejectedError is a non-2xx analysis response. Message carries the
// service's error field and may be empty.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analysis rejected (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("analysis rejected (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// IsRejected reports whether err is a server rejection and returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Upload is a selected document.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Request is one analysis submission.
type Request struct {
	Mode    model.Mode
	File    Upload
	Persona string
	Job     string
}

// Response is a successful analysis response. Output is decoded later
// according to the request mode.
type Response struct {
	Output   json.RawMessage `json:"output"`
	Filename string          `json:"filename"`
}

type responseWire struct {
	Output   json.RawMessage `json:"output"`
	Filename string          `json:"filename"`
	Error    string          `json:"error"`
}

// Options configures the service paths.
type Options struct {
	StructureEndpoint string
	PersonaEndpoint   string
	SamplePath        string
}

// Client communicates with the analysis HTTP API.
type Client struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
}

// NewClient builds a client for baseURL. No request timeout is set;
// callers bound requests through the context.
func NewClient(baseURL string, opts Options) *Client {
	if opts.StructureEndpoint == "" {
		opts.StructureEndpoint = "/upload"
	}
	if opts.PersonaEndpoint == "" {
		opts.PersonaEndpoint = "/persona_upload"
	}
	if opts.SamplePath == "" {
		opts.SamplePath = "/uploads/sample.pdf"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Endpoint returns the path that serves mode.
func (c *Client) Endpoint(mode model.Mode) (string, error) {
	switch mode {
	case model.ModeStructure:
		return c.opts.StructureEndpoint, nil
	case model.ModePersona:
		return c.opts.PersonaEndpoint, nil
	}
	return "", fmt.Errorf("unknown mode %q", mode)
}

// Analyze uploads the document to the endpoint for req.Mode. Persona and
// job are sent only in persona mode, as given.
func (c *Client) Analyze(ctx context.Context, req Request) (*Response, error) {
	endpoint, err := c.Endpoint(req.Mode)
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, fmt.Errorf("encode form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	defer resp.Body.Close()

	var wire responseWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode analysis response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: wire.Error}
	}
	return &Response{Output: wire.Output, Filename: wire.Filename}, nil
}

func encodeForm(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(req.File.Filename)))
	ct := req.File.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.File.Data); err != nil {
		return nil, "", err
	}

	if req.Mode == model.ModePersona {
		if err := w.WriteField("persona", req.Persona); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("job", req.Job); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// FetchSample downloads the demo sample document. A non-2xx status
// returns ErrSampleAbsent.
func (c *Client) FetchSample(ctx context.Context) (Upload, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.opts.SamplePath, nil)
	if err != nil {
		return Upload{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Upload{}, fmt.Errorf("fetch sample: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return Upload{}, fmt.Errorf("fetch sample: status %d: %w", resp.StatusCode, ErrSampleAbsent)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Upload{}, fmt.Errorf("read sample: %w", err)
	}
	return Upload{
		Filename:    path.Base(c.opts.SamplePath),
		ContentType: "application/pdf",
		Data:        data,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
