package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"handscribe/internal/admission"
	"handscribe/internal/common/fsutil"
	"handscribe/internal/httpapi"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, dev, llamaURL string
	var noWarmup bool
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the web UI and HTTP API",
		Example: "  handscribe serve --addr :8000\n  handscribe serve --device cpu --llama-url http://127.0.0.1:8081",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			if cmd.Flags().Changed("device") {
				a.cfg.Device = dev
			}
			if cmd.Flags().Changed("llama-url") {
				a.cfg.LlamaURL = llamaURL
			}
			return a.serve(cmd.Context(), !noWarmup)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (defaults HANDSCRIBE_ADDR or :8000)")
	cmd.Flags().StringVar(&dev, "device", "", "Device preference: auto|gpu|cpu")
	cmd.Flags().StringVar(&llamaURL, "llama-url", "", "Attach to a running llama-server instead of spawning one")
	cmd.Flags().BoolVar(&noWarmup, "no-warmup", false, "Load the model on the first request instead of at startup")
	return cmd
}

// httpLogLevel maps the process log level onto the per-request default.
func httpLogLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return "debug"
	case "warn", "warning", "error", "fatal", "panic":
		return "error"
	case "disabled", "off":
		return "off"
	}
	return "info"
}

func (a *app) serve(ctx context.Context, warmup bool) error {
	cfg := a.cfg
	svc, err := buildLocal(cfg, a.log, a.getenv, a.version)
	if err != nil {
		return err
	}
	defer svc.Close()
	cacheDir, err := fsutil.ExpandHome(cfg.CacheDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpapi.SetLogger(a.log)
	httpapi.SetDefaultLogLevel(httpLogLevel(cfg.LogLevel))
	httpapi.SetMaxBodyBytes(int64(cfg.MaxUploadMB) << 20)
	httpapi.SetRequestTimeoutSeconds(int64(cfg.TimeoutSeconds + cfg.MaxWaitSeconds))
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
		[]string{"Content-Type", "X-Log-Level"})
	httpapi.SetAdmission(admission.New(admission.Config{
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxInflight:   cfg.MaxInflight,
		MaxWait:       time.Duration(cfg.MaxWaitSeconds) * time.Second,
	}))
	httpapi.SetBaseContext(ctx)

	if warmup {
		svc.Warmup(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(httpService{Service: svc, cacheDir: cacheDir}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", cfg.Addr).Str("repo", cfg.ModelRepo).Str("cache", cacheDir).Msg("handscribe listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown (Ctrl+C / SIGTERM)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
