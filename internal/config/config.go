package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the engine configuration file inside the config directory.
const FileName = "mechaenetia.toml"

// EnvPrefix is the prefix of environment overrides, e.g.
// MECHAENETIA_LOG_LEVEL=debug or MECHAENETIA_ENGINE_TICK_RATE=20.
const EnvPrefix = "MECHAENETIA"

// Client types.
const (
	// ClientLogger runs headless and exits once the local server turns off
	// after startup.
	ClientLogger = "logger"
	// ClientNone runs until a shutdown is requested.
	ClientNone = "none"
)

// DefaultFile is written to the config directory when no config file exists
// so it can be edited in place.
const DefaultFile = `# Mechaenetia engine configuration.
# Every key can be overridden with MECHAENETIA_<SECTION>_<KEY>.

[log]
level = "info"
color = true
# relative to the config directory, empty disables file logging
file = "logs/mechaenetia.log"
max_size_mb = 10
max_backups = 3
max_age_days = 7
compress = false

[engine]
tick_rate = 60.0
include_server = true
client = "logger"

[server]
load_step = 0.01
load_complete_threshold = 0.999

[shutdown]
force_exit_delay = "1s"

[history]
# sqlite path, sqlite://, postgres://, clickhouse:// or opensearch:// DSN
dsn = ""
batch_size = 64
timeout = "2s"

[status]
# e.g. "127.0.0.1:7878", empty disables the status endpoint
addr = ""
base_path = ""
`

// Config is the engine configuration.
type Config struct {
	// Dir is the config directory the file was loaded from.
	Dir string `toml:"-" mapstructure:"-"`

	Log      LogConfig      `toml:"log" mapstructure:"log"`
	Engine   EngineConfig   `toml:"engine" mapstructure:"engine"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Shutdown ShutdownConfig `toml:"shutdown" mapstructure:"shutdown"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Status   StatusConfig   `toml:"status" mapstructure:"status"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type EngineConfig struct {
	TickRate      float64 `toml:"tick_rate" mapstructure:"tick_rate"`
	IncludeServer bool    `toml:"include_server" mapstructure:"include_server"`
	Client        string  `toml:"client" mapstructure:"client"`
	// LoadGame is a save directory to load (or seed) at startup.
	LoadGame string `toml:"load_game" mapstructure:"load_game"`
}

type ServerConfig struct {
	LoadStep              float64 `toml:"load_step" mapstructure:"load_step"`
	LoadCompleteThreshold float64 `toml:"load_complete_threshold" mapstructure:"load_complete_threshold"`
}

type ShutdownConfig struct {
	ForceExitDelay time.Duration `toml:"force_exit_delay" mapstructure:"force_exit_delay"`
}

type HistoryConfig struct {
	DSN       string        `toml:"dsn" mapstructure:"dsn"`
	BatchSize int           `toml:"batch_size" mapstructure:"batch_size"`
	Timeout   time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type StatusConfig struct {
	Addr     string `toml:"addr" mapstructure:"addr"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// Default returns the built-in configuration, identical to DefaultFile.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Color:      true,
			File:       "logs/mechaenetia.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Engine: EngineConfig{
			TickRate:      60,
			IncludeServer: true,
			Client:        ClientLogger,
		},
		Server: ServerConfig{
			LoadStep:              0.01,
			LoadCompleteThreshold: 0.999,
		},
		Shutdown: ShutdownConfig{ForceExitDelay: time.Second},
		History:  HistoryConfig{BatchSize: 64, Timeout: 2 * time.Second},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("engine.tick_rate", d.Engine.TickRate)
	v.SetDefault("engine.include_server", d.Engine.IncludeServer)
	v.SetDefault("engine.client", d.Engine.Client)
	v.SetDefault("engine.load_game", d.Engine.LoadGame)
	v.SetDefault("server.load_step", d.Server.LoadStep)
	v.SetDefault("server.load_complete_threshold", d.Server.LoadCompleteThreshold)
	v.SetDefault("shutdown.force_exit_delay", d.Shutdown.ForceExitDelay)
	v.SetDefault("history.dsn", d.History.DSN)
	v.SetDefault("history.batch_size", d.History.BatchSize)
	v.SetDefault("history.timeout", d.History.Timeout)
	v.SetDefault("status.addr", d.Status.Addr)
	v.SetDefault("status.base_path", d.Status.BasePath)
}

// EnsureFile creates dir and writes DefaultFile into it unless a config file
// already exists. It returns the config file path.
func EnsureFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create config directory %q: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("unable to stat config file %q: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(DefaultFile), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config file at %q: %w", path, err)
	}
	return path, nil
}

// Load reads the configuration of the config directory dir, writing the
// default file first when it is missing. Environment variables override the
// file.
func Load(dir string) (Config, error) {
	path, err := EnsureFile(dir)
	if err != nil {
		return Config{}, err
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %q: %w", path, err)
	}
	c.Dir = dir
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %q: %w", path, err)
	}
	return c, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	if c.Engine.TickRate <= 0 {
		return fmt.Errorf("engine.tick_rate must be positive, got %v", c.Engine.TickRate)
	}
	switch c.Engine.Client {
	case ClientLogger, ClientNone:
	default:
		return fmt.Errorf("engine.client %q must be %q or %q", c.Engine.Client, ClientLogger, ClientNone)
	}
	if c.Server.LoadStep <= 0 || c.Server.LoadStep > 1 {
		return fmt.Errorf("server.load_step must be in (0, 1], got %v", c.Server.LoadStep)
	}
	if c.Server.LoadCompleteThreshold <= 0 || c.Server.LoadCompleteThreshold > 1 {
		return fmt.Errorf("server.load_complete_threshold must be in (0, 1], got %v", c.Server.LoadCompleteThreshold)
	}
	if c.Shutdown.ForceExitDelay < 0 {
		return fmt.Errorf("shutdown.force_exit_delay must not be negative")
	}
	if c.History.BatchSize <= 0 {
		return fmt.Errorf("history.batch_size must be positive, got %d", c.History.BatchSize)
	}
	return nil
}

// TickInterval is the wall time between ticks.
func (c Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Engine.TickRate)
}

// ResolvePath resolves p relative to the config directory.
func (c Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
