// Package save owns the per-save configuration file that lives at the root of
// every save directory.
package save

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	// ConfigFileName is the name of the config file inside a save directory.
	ConfigFileName = "config.toml"
	// FormatVersion is written into every newly created config.
	FormatVersion = 1
)

// Config holds save specific settings.
type Config struct {
	// Path is the save directory this config was loaded from. It is never
	// serialized so relocated saves keep working.
	Path    string      `toml:"-"`
	Version int         `toml:"version"`
	Title   string      `toml:"title"`
	World   WorldConfig `toml:"world"`
}

// WorldConfig is the placeholder world generation section.
type WorldConfig struct {
	Seed      int64  `toml:"seed"`
	Generator string `toml:"generator"`
}

// Default returns a newly constructed config with no path.
func Default() *Config {
	return &Config{
		Version: FormatVersion,
		World:   WorldConfig{Generator: "default"},
	}
}

// Result is the outcome of LoadOrCreate.
type Result struct {
	Config *Config
	// Created is true when the file did not exist and was written by this
	// call; false means an existing config was loaded untouched.
	Created bool
}

// ConfigPath returns the config file path for a save directory.
func ConfigPath(dir string) string { return filepath.Join(dir, ConfigFileName) }

// Load reads and parses the config of the save at dir.
func Load(dir string) (*Config, error) {
	if dir == "" {
		return nil, &LoadError{Op: "resolving save path", Err: ErrEmptyPath}
	}
	// #nosec G304 -- save directories are chosen by the operator
	b, err := os.ReadFile(ConfigPath(dir))
	if err != nil {
		return nil, &LoadError{Op: "reading config file", Err: err}
	}
	cfg := &Config{}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, &FormatError{Err: err}
	}
	cfg.Path = dir
	return cfg, nil
}

// LoadOrCreate loads the config of the save at dir, or seeds a default one
// when the save has no config file yet. A config file that exists but cannot
// be read or parsed is reported as InvalidSaveError and left untouched.
func LoadOrCreate(dir string) (Result, error) {
	if dir == "" {
		return Result{}, &LoadError{Op: "resolving save path", Err: ErrEmptyPath}
	}
	if cfg, err := Load(dir); err == nil {
		return Result{Config: cfg}, nil
	}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, &LoadError{Op: "creating save directory", Err: err}
		}
	}

	path := ConfigPath(dir)
	if _, err := os.Lstat(path); err == nil {
		return Result{}, &InvalidSaveError{Path: path}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Result{}, &LoadError{Op: "reading config file", Err: err}
	}

	cfg := Default()
	cfg.Path = dir
	b, err := Marshal(cfg)
	if err != nil {
		return Result{}, err
	}
	// O_EXCL so a file that appeared since the check is never clobbered.
	// #nosec G302 G304
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Result{}, &InvalidSaveError{Path: path}
		}
		return Result{}, &LoadError{Op: "writing empty configuration", Err: err}
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return Result{}, &LoadError{Op: "writing empty configuration", Err: err}
	}
	if err := f.Close(); err != nil {
		return Result{}, &LoadError{Op: "writing empty configuration", Err: err}
	}
	return Result{Config: cfg, Created: true}, nil
}

// ErrEmptyPath is returned for a save path of "", which would otherwise
// resolve against the working directory.
var ErrEmptyPath = errors.New("save path is empty")

// Marshal renders cfg in the on-disk format: tab indented, Unix newlines and
// exactly one trailing newline. Equal configs always produce equal bytes.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentSymbol("\t")
	enc.SetIndentTables(true)
	if err := enc.Encode(cfg); err != nil {
		return nil, &FormatError{Err: err}
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	out = append(out, '\n')
	return out, nil
}

// LoadError is an I/O failure; Op names the step that failed.
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("IO error while %s: %v", e.Op, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// InvalidSaveError reports a config file that exists but is not a valid
// config.
type InvalidSaveError struct {
	Path string
}

func (e *InvalidSaveError) Error() string { return fmt.Sprintf("non-valid save at path: %q", e.Path) }

// FormatError is a TOML encoding or decoding failure.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return fmt.Sprintf("save config format error: %v", e.Err) }
func (e *FormatError) Unwrap() error { return e.Err }
