package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docdash/internal/analysis"
	"github.com/dgallion1/docdash/internal/api"
	"github.com/dgallion1/docdash/internal/app"
	"github.com/dgallion1/docdash/internal/config"
	"github.com/dgallion1/docdash/internal/live"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port        string
		analysisURL string
		logLevel    string
	)
	cmd := &cobra.Command{
		Use:           "docdash",
		Short:         "Serve the document analysis dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("analysis-url") {
				cfg.AnalysisURL = strings.TrimRight(analysisURL, "/")
			}
			log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(logLevel)}))
			if err := cfg.Validate(); err != nil {
				log.Error("invalid configuration", "error", err)
				return err
			}
			return run(log, cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().StringVar(&analysisURL, "analysis-url", "", "analysis service base URL (overrides ANALYSIS_URL)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}

func run(log *slog.Logger, cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	client := analysis.NewClient(cfg.AnalysisURL, analysis.Options{
		StructureEndpoint: cfg.StructureEndpoint,
		PersonaEndpoint:   cfg.PersonaEndpoint,
		SamplePath:        cfg.SamplePath,
	})
	defer client.Close()

	hub := live.NewHub(log, api.OriginChecker(cfg.AllowedOrigins))

	// Initialize the page session.
	session, err := app.New(log, client, hub, app.Options{
		PreviewDelay:    cfg.PreviewDelay,
		OutputPrefix:    cfg.OutputPrefix,
		UploadsPrefix:   cfg.UploadsPrefix,
		PreviewClientID: cfg.PreviewClientID,
	})
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	loopDone := make(chan struct{})
	go func() {
		session.Run(ctx)
		close(loopDone)
	}()

	// Initialize HTTP server.
	srv, err := api.NewServer(session, hub, log, cfg)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Info("starting docdash", "port", cfg.Port, "analysis_url", cfg.AnalysisURL)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		return err
	}
	<-loopDone
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
