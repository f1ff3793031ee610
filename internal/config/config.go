package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// Remote analysis service
	AnalysisURL       string
	StructureEndpoint string
	PersonaEndpoint   string
	SamplePath        string

	// Link prefixes as seen by the browser
	OutputPrefix  string
	UploadsPrefix string

	// Preview embed
	PreviewDelay    time.Duration
	PreviewClientID string

	// Upload limits
	MaxUploadBytes int64

	// CORS
	AllowedOrigins []string
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		AnalysisURL:       envOr("ANALYSIS_URL", "http://localhost:5000"),
		StructureEndpoint: envOr("STRUCTURE_ENDPOINT", "/upload"),
		PersonaEndpoint:   envOr("PERSONA_ENDPOINT", "/persona_upload"),
		SamplePath:        envOr("SAMPLE_PATH", "/uploads/sample.pdf"),

		OutputPrefix:  envOr("OUTPUT_PREFIX", "/output"),
		UploadsPrefix: envOr("UPLOADS_PREFIX", "/uploads"),

		PreviewDelay:    envDuration("PREVIEW_DELAY", 300*time.Millisecond),
		PreviewClientID: os.Getenv("PREVIEW_CLIENT_ID"),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		AllowedOrigins: envList("ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
	}

	if cfg.PreviewDelay < 0 {
		cfg.PreviewDelay = 300 * time.Millisecond
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	cfg.OutputPrefix = strings.TrimSuffix(cfg.OutputPrefix, "/")
	cfg.UploadsPrefix = strings.TrimSuffix(cfg.UploadsPrefix, "/")

	return cfg
}

func (c Config) Validate() error {
	if c.AnalysisURL == "" {
		return fmt.Errorf("ANALYSIS_URL is required")
	}
	u, err := url.Parse(c.AnalysisURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ANALYSIS_URL must be an absolute URL, got %q", c.AnalysisURL)
	}
	if !strings.HasPrefix(c.StructureEndpoint, "/") || !strings.HasPrefix(c.PersonaEndpoint, "/") {
		return fmt.Errorf("analysis endpoints must start with /")
	}
	if c.StructureEndpoint == c.PersonaEndpoint {
		return fmt.Errorf("STRUCTURE_ENDPOINT and PERSONA_ENDPOINT must differ")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma separated variable, dropping empty entries.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
