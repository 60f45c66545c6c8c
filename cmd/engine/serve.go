package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roadrunner-server/endure/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gassist/plugin-engine/internal/engine"
)

func newServeCmd() *cobra.Command {
	var addr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the plugin engine and serve metrics/health over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, debug)
		},
	}
	cmd.Flags().StringVar(&addr, "http-addr", ":2112", "address for the /metrics and /healthz mux")
	cmd.Flags().BoolVar(&debug, "debug", false, "use development (console) logging")
	return cmd
}

func runServe(addr string, debug bool) error {
	v, err := loadViper()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	eng := &engine.Engine{}

	container, err := endure.New(slog.LevelInfo, endure.GracefulShutdownTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	if err := container.RegisterAll(
		&viperConfigurer{v: v},
		&zapLogger{base: log},
		eng,
	); err != nil {
		return fmt.Errorf("register components: %w", err)
	}

	if err := container.Init(); err != nil {
		return fmt.Errorf("init container: %w", err)
	}

	errCh, err := container.Serve()
	if err != nil {
		return fmt.Errorf("serve container: %w", err)
	}

	httpServer := &http.Server{Addr: addr, Handler: buildMux(eng)}
	go func() {
		log.Info("serving metrics and health", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case e := <-errCh:
		log.Error("engine reported a fatal error", zap.Error(e))
	case <-sigCh:
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return container.Stop()
}

// buildMux exposes prometheus metrics, a liveness probe, and the
// diagnostic plugin/function listing.
func buildMux(eng *engine.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/plugins", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.ListPlugins())
	})
	r.Get("/functions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.Describe())
	})
	return r
}
