package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/kdbg/internal/config/loader"
	"github.com/dshills/kdbg/internal/config/watcher"
	"github.com/dshills/kdbg/internal/logging"
)

// EnvPrefix starts every environment variable the loader reads.
const EnvPrefix = "KDBG_"

// EnvConfigPath names the config file when no path is given.
const EnvConfigPath = "KDBG_CONFIG"

// Transports accepted in adapter.transport.
const (
	TransportTCP       = "tcp"
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
)

// Register commands accepted in session.register_command.
const (
	RegisterDumpCell   = "dumpCell"
	RegisterUpdateCell = "updateCell"
)

// Config is the complete kdbg configuration.
type Config struct {
	Adapter  AdapterConfig  `yaml:"adapter" toml:"adapter"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Debugger DebuggerConfig `yaml:"debugger" toml:"debugger"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

// AdapterConfig says how to reach the debug adapter.
type AdapterConfig struct {
	// Transport is tcp, stdio or websocket.
	Transport string `yaml:"transport" toml:"transport"`
	// Address is host:port for tcp.
	Address string `yaml:"address" toml:"address"`
	// URL is the ws:// or wss:// endpoint for websocket.
	URL string `yaml:"url" toml:"url"`
	// Command and Args start the adapter for stdio.
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args,omitempty" toml:"args,omitempty"`
	// WaitTimeout waits for the adapter to come up before the first dial:
	// tcp polls the port, websocket retries the handshake.
	WaitTimeout Duration `yaml:"wait_timeout" toml:"wait_timeout"`

	AdapterID  string `yaml:"adapter_id" toml:"adapter_id"`
	ClientID   string `yaml:"client_id" toml:"client_id"`
	ClientName string `yaml:"client_name" toml:"client_name"`
}

// SessionConfig tunes the DAP session.
type SessionConfig struct {
	ProbeTimeout    Duration `yaml:"probe_timeout" toml:"probe_timeout"`
	StopTimeout     Duration `yaml:"stop_timeout" toml:"stop_timeout"`
	RegisterCommand string   `yaml:"register_command" toml:"register_command"`
}

// DebuggerConfig tunes the debugger service.
type DebuggerConfig struct {
	// AutoStart starts a session that is not started yet on restore.
	AutoStart bool `yaml:"auto_start" toml:"auto_start"`
	// FetchScopesIndependently fetches each scope's own variables instead
	// of showing the first scope's variables in every scope.
	FetchScopesIndependently bool `yaml:"fetch_scopes_independently" toml:"fetch_scopes_independently"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	// File receives log output instead of stderr when set.
	File string `yaml:"file" toml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Adapter: AdapterConfig{
			Transport:  TransportTCP,
			Address:    "127.0.0.1:5678",
			AdapterID:  "python",
			ClientID:   "kdbg",
			ClientName: "kdbg",
		},
		Session: SessionConfig{
			ProbeTimeout:    Duration(2 * time.Second),
			StopTimeout:     Duration(5 * time.Second),
			RegisterCommand: RegisterDumpCell,
		},
		Debugger: DebuggerConfig{
			FetchScopesIndependently: true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	switch c.Adapter.Transport {
	case TransportTCP:
		if c.Adapter.Address == "" {
			invalid("adapter.address", "required for tcp transport")
		}
	case TransportStdio:
		if c.Adapter.Command == "" {
			invalid("adapter.command", "required for stdio transport")
		}
	case TransportWebSocket:
		if c.Adapter.URL == "" {
			invalid("adapter.url", "required for websocket transport")
		}
	default:
		invalid("adapter.transport", "unknown transport %q", c.Adapter.Transport)
	}
	if c.Adapter.WaitTimeout < 0 {
		invalid("adapter.wait_timeout", "must not be negative")
	}

	if c.Session.ProbeTimeout <= 0 {
		invalid("session.probe_timeout", "must be positive")
	}
	if c.Session.StopTimeout <= 0 {
		invalid("session.stop_timeout", "must be positive")
	}
	switch c.Session.RegisterCommand {
	case RegisterDumpCell, RegisterUpdateCell:
	default:
		invalid("session.register_command", "must be %s or %s, got %q",
			RegisterDumpCell, RegisterUpdateCell, c.Session.RegisterCommand)
	}

	if !logging.ValidLevel(c.Log.Level) {
		invalid("log.level", "unknown level %q", c.Log.Level)
	}
	return errors.Join(errs...)
}

// TOML renders c as a TOML document.
func (c *Config) TOML() ([]byte, error) {
	return toml.Marshal(c)
}

// Option configures a Loader.
type Option func(*Loader)

// WithFS reads config files from fsys.
func WithFS(fsys loader.FileSystem) Option {
	return func(l *Loader) { l.fs = fsys }
}

// WithoutEnv skips KDBG_* environment variables.
func WithoutEnv() Option {
	return func(l *Loader) { l.env = nil }
}

// WithEnv reads environment overrides through env instead of the process
// environment.
func WithEnv(env *loader.EnvLoader) Option {
	return func(l *Loader) { l.env = env }
}

// WithOverrides applies values above every other source, typically from
// command line flags. Keys are dotted paths such as "adapter.address".
func WithOverrides(overrides map[string]any) Option {
	return func(l *Loader) {
		for path, v := range overrides {
			loader.SetByPath(l.overrides, path, v)
		}
	}
}

// Loader builds a Config from defaults, a file, the environment and
// overrides, in increasing priority.
type Loader struct {
	path      string
	explicit  bool
	fs        loader.FileSystem
	env       *loader.EnvLoader
	overrides map[string]any
}

// NewLoader creates a loader for path. An empty path falls back to
// $KDBG_CONFIG and then to the first existing default location; a missing
// default file is not an error, a missing explicit one is.
func NewLoader(path string, opts ...Option) *Loader {
	env := loader.NewEnvLoader(EnvPrefix)
	env.Ignore(EnvConfigPath)

	l := &Loader{
		path:      path,
		explicit:  path != "",
		fs:        loader.DefaultFS(),
		env:       env,
		overrides: make(map[string]any),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.path == "" {
		if p := os.Getenv(EnvConfigPath); p != "" {
			l.path, l.explicit = p, true
		} else {
			l.path = l.locate()
		}
	}
	return l
}

// Path returns the config file the loader reads, or "" when there is none.
func (l *Loader) Path() string { return l.path }

// DefaultPaths lists where a config file is looked for, in order.
func DefaultPaths() []string {
	paths := []string{"kdbg.toml", "kdbg.yaml", "kdbg.yml"}
	if dir, err := os.UserConfigDir(); err == nil {
		for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
			paths = append(paths, filepath.Join(dir, "kdbg", name))
		}
	}
	return paths
}

func (l *Loader) locate() string {
	for _, p := range DefaultPaths() {
		if _, err := l.fs.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads every source and returns the validated result.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	if l.path != "" {
		fl, err := loader.ForPath(l.fs, l.path)
		if err != nil {
			return nil, err
		}
		if l.explicit {
			if _, err := l.fs.Stat(l.path); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, l.path)
			}
		}
		data, err := fl.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, data)
	}

	if l.env != nil {
		data, err := l.env.Load()
		if err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
		merged = loader.DeepMerge(merged, data)
	}

	merged = loader.DeepMerge(merged, loader.Clone(l.overrides))

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch reloads the configuration whenever its file changes and passes the
// result to onReload. The returned watcher is already started; stop it to
// end watching. Watch fails when the loader has no file.
func (l *Loader) Watch(onReload func(*Config, error), opts ...watcher.Option) (*watcher.Watcher, error) {
	if l.path == "" {
		return nil, ErrFileNotFound
	}
	w, err := watcher.New(opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Watch(l.path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(ev watcher.Event) {
		if ev.Op == watcher.OpRemove || ev.Op == watcher.OpRename {
			return
		}
		onReload(l.Load())
	})
	w.Start()
	return w, nil
}

// Load is shorthand for NewLoader(path, opts...).Load().
func Load(path string, opts ...Option) (*Config, error) {
	return NewLoader(path, opts...).Load()
}

// toMap and fromMap convert through YAML so both file formats, the
// environment and overrides share one decoding path.
func toMap(c *Config) (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
