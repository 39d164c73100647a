// Package bootstrap holds the process setup shared by the binaries under cmd/.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

const metricsShutdownTimeout = 5 * time.Second

// Process is a loaded service: its config, a logger at the configured level and
// a context canceled on SIGINT or SIGTERM.
type Process struct {
	Config *config.Config
	Logger *logger.Logger
	Ctx    context.Context
	stop   context.CancelFunc
}

// Start loads .env when present, then config, and tags every log line with kind.
func Start(kind string) (*Process, error) {
	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	logg = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": kind,
	})
	return &Process{Config: cfg, Logger: logg, Ctx: ctx, stop: stop}, nil
}

// MustStart is Start for main functions: a config failure exits the process.
func MustStart(kind string) *Process {
	proc, err := Start(kind)
	if err != nil {
		os.Exit(1)
	}
	return proc
}

// Stop releases the signal handler.
func (p *Process) Stop() {
	if p != nil && p.stop != nil {
		p.stop()
	}
}

// Exit logs err and exits non-zero unless err is nil or a shutdown cancel.
func (p *Process) Exit(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		p.Logger.Info(p.Ctx, p.Config.Service.Kind+" shutting down gracefully")
		return
	}
	p.Logger.Error(p.Ctx, p.Config.Service.Kind+" stopped unexpectedly", err)
	p.Stop()
	os.Exit(1)
}

// Close closes c and logs a failure under name. Meant for defer.
func Close(logg *logger.Logger, name string, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && logg != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}

// ServeMetrics exposes gatherer on addr at /metrics until ctx is done. An empty
// addr disables the listener.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logg *logger.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return serveMetrics(ctx, ln, gatherer, logg)
}

func serveMetrics(ctx context.Context, ln net.Listener, gatherer prometheus.Gatherer, logg *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	if logg != nil {
		logg.Info(logg.WithField(ctx, "addr", ln.Addr().String()), "metrics listener started")
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	return nil
}
