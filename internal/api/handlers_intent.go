package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docdash/internal/analysis"
	"github.com/dgallion1/docdash/internal/app"
	"github.com/dgallion1/docdash/internal/dashboard"
	"github.com/dgallion1/docdash/internal/model"
)

const formMemory = 32 << 20

type regionsResponse struct {
	Type    string      `json:"type"`
	Regions app.Regions `json:"regions"`
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	out, err := s.session.Page(r.Context())
	if err != nil {
		s.sessionError(w, "render page", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(out)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		jsonError(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := model.ParseMode(r.FormValue("mode"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.dispatch(w, r, app.ChangeMode{Mode: mode, Fields: formFields(r)})
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		jsonError(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	field := r.FormValue("field")
	if field != "persona" && field != "job" {
		jsonError(w, fmt.Sprintf("unknown template field %q", field), http.StatusBadRequest)
		return
	}
	s.dispatch(w, r, app.ChooseTemplate{Field: field, Value: r.FormValue("value"), Fields: formFields(r)})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	upload, err := s.readUpload(r)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	fields := formFields(r)
	regions := app.Regions{}
	if v := r.FormValue("mode"); v != "" {
		mode, err := model.ParseMode(v)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		changed, err := s.session.Dispatch(r.Context(), app.ChangeMode{Mode: mode, Fields: fields})
		if err != nil {
			s.sessionError(w, "change mode", err)
			return
		}
		merge(regions, changed)
		fields = nil
	}

	changed, err := s.session.Dispatch(r.Context(), app.Submit{File: upload, Fields: fields})
	if err != nil {
		s.sessionError(w, "submit", err)
		return
	}
	merge(regions, changed)
	writeRegions(w, regions)
}

var errTooLarge = errors.New("file too large")

// readUpload returns the submitted file, or nil when the file field is
// missing or empty.
func (s *Server) readUpload(r *http.Request) (*analysis.Upload, error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	defer file.Close()
	if header.Filename == "" {
		return nil, nil
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", errTooLarge, s.cfg.MaxUploadBytes)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &analysis.Upload{
		Filename:    sanitizeFilename(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (s *Server) simpleIntent(in app.Intent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.dispatch(w, r, in)
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, in app.Intent) {
	regions, err := s.session.Dispatch(r.Context(), in)
	if err != nil {
		s.sessionError(w, fmt.Sprintf("dispatch %T", in), err)
		return
	}
	writeRegions(w, regions)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	out, ok, err := s.session.Export(r.Context())
	if err != nil {
		s.sessionError(w, "export", err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+dashboard.ExportFilename+`"`)
	w.Write(out)
}

func (s *Server) sessionError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, app.ErrStopped):
		jsonError(w, "session stopped", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		jsonError(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		s.log.Error("intent failed", "op", op, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeRegions(w http.ResponseWriter, regions app.Regions) {
	if len(regions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(regionsResponse{Type: "regions", Regions: regions})
}

func merge(dst, src app.Regions) {
	for k, v := range src {
		dst[k] = v
	}
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(1 << 20)
	}
	return r.ParseForm()
}

// formFields returns the persona and job text when the browser sent them.
func formFields(r *http.Request) *app.Fields {
	_, hasPersona := r.Form["persona"]
	_, hasJob := r.Form["job"]
	if !hasPersona && !hasJob {
		return nil
	}
	return &app.Fields{Persona: r.FormValue("persona"), Job: r.FormValue("job")}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
