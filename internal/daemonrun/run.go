package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"photopipe/internal/config"
	"photopipe/internal/coordinator"
	"photopipe/internal/daemon"
	"photopipe/internal/deps"
	"photopipe/internal/ipc"
	"photopipe/internal/jobqueue"
	"photopipe/internal/logging"
	"photopipe/internal/metrics"
	"photopipe/internal/taskstore"
	"photopipe/internal/worker"
)

// Options configures process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
	// SocketPath overrides the daemon IPC socket location.
	SocketPath string
	// MetricsAddr serves worker metrics when set. The coordinator daemon
	// exposes metrics through its API instead.
	MetricsAddr string
	// Consumer overrides queue.consumer for a worker process.
	Consumer string
}

// Run starts the photopipe coordinator daemon and blocks until cmdCtx ends or
// the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, "coordinator", opts)
	if err != nil {
		return err
	}
	logDependencySnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := OpenStore(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}

	queue := jobqueue.NewFromConfig(cfg, logger)
	defer queue.Close()
	if err := queue.Ping(signalCtx); err != nil {
		logging.WarnWithContext(logger, "job queue unreachable", "queue_unreachable",
			logging.Error(err),
			logging.ErrorHint("check queue.redis_addr and that Redis is running"),
			logging.String(logging.FieldImpact, "dispatches fail until Redis answers"),
		)
	}

	m := metrics.New()
	coord := coordinator.NewFromConfig(cfg, store, queue, logger, m)
	d, err := daemon.New(cfg, store, coord, logger, daemon.Options{Metrics: m, Queue: queue})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if addr, err := d.ServeAPI(signalCtx); err != nil {
		logging.WarnWithContext(logger, "api server failed to start", "api_start_failed",
			logging.Error(err),
			logging.ErrorHint("check paths.api_bind"),
			logging.String(logging.FieldImpact, "HTTP task management unavailable"),
		)
	} else if addr != "" {
		logger.Info("api server listening", logging.String("addr", addr))
	}

	if err := d.Start(signalCtx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return err
		}
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.ErrorHint("check configuration and task store access"),
			logging.String(logging.FieldImpact, "tasks will not advance until the coordinator starts"),
		)
	}

	<-signalCtx.Done()
	logger.Info("photopipe daemon shutting down")
	return nil
}

// RunWorker starts a worker process that consumes jobs until cmdCtx ends or
// the process receives SIGINT or SIGTERM.
func RunWorker(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if consumer := strings.TrimSpace(opts.Consumer); consumer != "" {
		override := *cfg
		override.Queue.Consumer = consumer
		cfg = &override
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, "worker", opts)
	if err != nil {
		return err
	}
	logDependencySnapshot(logger, cfg)

	store, err := OpenStore(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}
	defer store.Close()

	queue := jobqueue.NewFromConfig(cfg, logger)
	defer queue.Close()

	m := metrics.New()
	w, err := worker.NewFromConfig(cfg, store, queue, logger, m)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	if addr := strings.TrimSpace(opts.MetricsAddr); addr != "" {
		stop, err := serveMetrics(signalCtx, addr, m, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if err := w.Run(signalCtx); err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	return nil
}

// OpenStore opens the configured backend behind the result adapter.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*taskstore.Adapter, error) {
	backend, err := taskstore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return taskstore.NewAdapter(backend, logger), nil
}

func newLogger(cfg *config.Config, name string, opts Options) (*slog.Logger, error) {
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		override := *cfg
		override.Logging.Level = level
		cfg = &override
	}
	logger, err := logging.NewFromConfig(cfg, name)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info("metrics listening", logging.String("addr", listener.Addr().String()))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("store_backend", cfg.Store.Backend),
		logging.String("redis_addr", cfg.Queue.RedisAddr),
	}
	for _, status := range deps.CheckTools(cfg) {
		attrs = append(attrs, logging.Bool(status.Name, status.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
