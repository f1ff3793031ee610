package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dgallion1/docdash/internal/app"
	"github.com/dgallion1/docdash/internal/config"
)

// Session is the page session the intents are applied to.
type Session interface {
	Dispatch(ctx context.Context, in app.Intent) (app.Regions, error)
	Export(ctx context.Context) ([]byte, bool, error)
	Page(ctx context.Context) ([]byte, error)
}

// Server is the HTTP front end of docdash.
type Server struct {
	router  chi.Router
	session Session
	live    http.Handler
	files   http.Handler
	log     *slog.Logger
	cfg     config.Config
}

// NewServer creates and configures the HTTP server. live serves the
// websocket endpoint.
func NewServer(session Session, live http.Handler, log *slog.Logger, cfg config.Config) (*Server, error) {
	target, err := url.Parse(cfg.AnalysisURL)
	if err != nil {
		return nil, fmt.Errorf("parse analysis url: %w", err)
	}
	s := &Server{
		session: session,
		live:    live,
		files:   newFileProxy(target, log),
		log:     log,
		cfg:     cfg,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handlePage)
	r.Get("/ws", s.live.ServeHTTP)
	r.Get("/compliance_report.json", s.handleExport)

	r.Route("/intent", func(r chi.Router) {
		r.Post("/mode", s.handleMode)
		r.Post("/template", s.handleTemplate)
		r.Post("/submit", s.handleSubmit)
		r.Post("/demo", s.simpleIntent(app.RunDemo{}))
		r.Post("/judges", s.simpleIntent(app.ToggleJudges{}))
		r.Post("/help", s.simpleIntent(app.OpenHelp{}))
		r.Post("/help/close", s.simpleIntent(app.CloseHelp{}))
	})

	r.Get(s.cfg.OutputPrefix+"/*", s.files.ServeHTTP)
	r.Get(s.cfg.UploadsPrefix+"/*", s.files.ServeHTTP)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// newFileProxy forwards artifact and upload downloads to the analysis
// service unchanged.
func newFileProxy(target *url.URL, log *slog.Logger) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("file proxy", "path", r.URL.Path, "error", err)
			jsonError(w, "analysis service unavailable", http.StatusBadGateway)
		},
	}
}

// OriginChecker returns a websocket origin check for the allowed origins.
// Patterns may contain one "*" wildcard. Same-host origins are always
// accepted, and an empty list accepts any origin.
func OriginChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	for _, o := range origins {
		if o == "*" {
			return nil
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, p := range origins {
			if matchOrigin(p, origin) {
				return true
			}
		}
		return false
	}
}

func matchOrigin(pattern, origin string) bool {
	before, after, wild := strings.Cut(pattern, "*")
	if !wild {
		return pattern == origin
	}
	return len(origin) >= len(before)+len(after) &&
		strings.HasPrefix(origin, before) && strings.HasSuffix(origin, after)
}
