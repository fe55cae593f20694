package mechaenetia

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mechaenetia/mechaenetia/internal/config"
	"github.com/mechaenetia/mechaenetia/internal/engine"
	"github.com/mechaenetia/mechaenetia/internal/history"
	"github.com/mechaenetia/mechaenetia/internal/localserver"
	"github.com/mechaenetia/mechaenetia/internal/logger"
	"github.com/mechaenetia/mechaenetia/internal/metrics"
	"github.com/mechaenetia/mechaenetia/internal/save"
	"github.com/mechaenetia/mechaenetia/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Engine = engine.Engine

type EngineOption = engine.Option

type Status = engine.Status

type PublicState = localserver.PublicState

type Command = localserver.Command

type CreateStartServer = localserver.CreateStartServer

type StopServer = localserver.StopServer

type SaveConfig = save.Config

type HistorySink = history.Sink

type StatusServer = server.Server

// DefaultConfigDir is used when no config directory is given.
const DefaultConfigDir = "./config"

func DefaultConfig() Config { return config.Default() }

// LoadConfig reads <dir>/mechaenetia.toml, writing the defaults first when
// the file does not exist.
func LoadConfig(dir string) (Config, error) { return config.Load(dir) }

func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) { return engine.New(cfg, opts...) }

func WithLogger(l *slog.Logger) EngineOption { return engine.WithLogger(l) }

func WithHistorySink(s HistorySink) EngineOption { return engine.WithHistorySink(s) }

// LoadSave reads an existing save config.
func LoadSave(dir string) (*SaveConfig, error) { return save.Load(dir) }

// LoadOrCreateSave reads the save config at dir or seeds a default one.
func LoadOrCreateSave(dir string) (*SaveConfig, bool, error) {
	res, err := save.LoadOrCreate(dir)
	if err != nil {
		return nil, false, err
	}
	return res.Config, res.Created, nil
}

// MarshalSave renders cfg exactly as it is stored on disk.
func MarshalSave(cfg *SaveConfig) ([]byte, error) { return save.Marshal(cfg) }

// NewLogger builds the engine logger described by cfg.Log. Relative log file
// paths resolve against the config directory.
func NewLogger(cfg Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	return logger.New(logger.Config{
		Level: cfg.Log.Level,
		Color: cfg.Log.Color,
		File: logger.FileConfig{
			Path:       cfg.ResolvePath(cfg.Log.File),
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	}, console)
}

// NewStatusServer serves GET {basePath}/status and {basePath}/metrics for e.
func NewStatusServer(addr, basePath string, e *Engine, pc *metrics.ProcessCollector) (*StatusServer, error) {
	var opts []server.RouterOption
	if pc != nil {
		opts = append(opts, server.WithProcessCollector(pc))
	}
	return server.NewServer(addr, server.NewRouter(e, basePath, opts...))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// Run builds the logger, metrics, engine and optional status server from cfg
// and runs the engine until it shuts down. Cancelling ctx starts a graceful
// shutdown.
func Run(ctx context.Context, cfg Config, console io.Writer) (err error) {
	log, logCloser, err := NewLogger(cfg, console)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { err = errors.Join(err, logCloser.Close()) }()

	if err := RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	e, err := NewEngine(cfg, WithLogger(log))
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, e.Close()) }()

	if cfg.Status.Addr != "" {
		pc := metrics.NewProcessCollector(metrics.ProcessConfig{})
		if err := pc.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("failed to register process metrics: %w", err)
		}
		pc.Start(ctx)
		defer pc.Stop()

		srv, err := NewStatusServer(cfg.Status.Addr, cfg.Status.BasePath, e, pc)
		if err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
		log.Info("status endpoint listening", "addr", srv.Addr())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	log.Info("engine starting",
		"config_dir", cfg.Dir,
		"server", cfg.Engine.IncludeServer,
		"client", cfg.Engine.Client,
		"tick_rate", cfg.Engine.TickRate,
	)
	if err := e.Run(ctx); err != nil {
		return err
	}
	log.Info("engine stopped", "tick", e.Status().Tick)
	return nil
}
