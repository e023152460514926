// Command orchestrator-gateway serves the HTTP job-submission surface
// (enqueue / read_result / approve / unlock) in front of the queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coderun-ai/orchestrator/internal/artifacts"
	"github.com/coderun-ai/orchestrator/internal/config"
	"github.com/coderun-ai/orchestrator/internal/gateway"
	"github.com/coderun-ai/orchestrator/internal/logging"
	"github.com/coderun-ai/orchestrator/internal/policy"
	"github.com/coderun-ai/orchestrator/internal/queue"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	defer logging.RecoverAndPanic()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator-gateway: loading config:", err)
		return 1
	}

	redactor := policy.NewRedactor(os.Environ(), cfg.SensitiveEnvVars)
	cleanup := logging.InitSentry("gateway", Version, redactor)
	defer cleanup()
	logger := logging.New(redactor, slog.LevelInfo)

	q, err := queue.New(cfg.QueueRoot)
	if err != nil {
		logger.Errorf("opening queue: %v", err)
		return 1
	}

	g := &gateway.Gateway{
		Queue:     q,
		Artifacts: artifacts.New(cfg.ArtifactsRoot),
	}

	addr := os.Getenv("GATEWAY_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      g.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("orchestrator-gateway listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("gateway server stopped: %v", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("graceful shutdown failed: %v", err)
			return 1
		}
	}
	return 0
}
