package app

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/dshills/kdbg/internal/config"
	"github.com/dshills/kdbg/internal/config/watcher"
	"github.com/dshills/kdbg/internal/integration/debug"
	"github.com/dshills/kdbg/internal/integration/debug/adapters"
	"github.com/dshills/kdbg/internal/integration/debug/dap"
	"github.com/dshills/kdbg/internal/logging"
	"github.com/dshills/kdbg/internal/mcpserver"
)

// bootstrapper handles component initialization with proper cleanup on failure.
type bootstrapper struct {
	app       *Application
	opts      Options
	initOrder []string
}

// newBootstrapper creates a new bootstrapper for the application.
func newBootstrapper(app *Application, opts Options) *bootstrapper {
	return &bootstrapper{
		app:       app,
		opts:      opts,
		initOrder: make([]string, 0, 6),
	}
}

// bootstrap initializes all components in dependency order.
// On failure, it cleans up already-initialized components.
func (b *bootstrapper) bootstrap() error {
	steps := []func() error{
		b.initConfig,
		b.initLogger,
		b.initSession,
		b.initService,
		b.initMCP,
		b.initWatcher,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.cleanup()
			return err
		}
	}
	return nil
}

// initConfig loads the layered configuration.
func (b *bootstrapper) initConfig() error {
	opts := append([]config.Option(nil), b.opts.ConfigOptions...)
	if len(b.opts.Overrides) > 0 {
		opts = append(opts, config.WithOverrides(b.opts.Overrides))
	}

	b.app.loader = config.NewLoader(b.opts.ConfigPath, opts...)
	cfg, err := b.app.loader.Load()
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}
	b.app.config = cfg
	b.initOrder = append(b.initOrder, "config")
	return nil
}

// initLogger creates the root logger, writing to the configured log file
// when one is set.
func (b *bootstrapper) initLogger() error {
	cfg := b.app.config.Log
	out := b.opts.LogOutput
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return &InitError{Component: "logger", Err: err}
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return &InitError{Component: "logger", Err: err}
		}
		b.app.logFile = f
		out = f
	}

	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(cfg.Level)
	lc.Output = out
	b.app.logger = logging.New(lc)
	b.initOrder = append(b.initOrder, "logger")

	if path := b.app.loader.Path(); path != "" {
		b.app.logger.Debug("configuration loaded from %s", path)
	}
	return nil
}

// initSession builds the adapter channel and the session on top of it.
func (b *bootstrapper) initSession() error {
	cfg := b.app.config
	dialer := b.opts.Dialer
	if dialer == nil {
		var err error
		dialer, err = adapters.NewRegistry().Dialer(adapterConfig(cfg.Adapter))
		if err != nil {
			return &InitError{Component: "adapter", Err: err}
		}
	}

	b.app.session = dap.NewSession(dialer,
		dap.WithConfig(sessionConfig(cfg)),
		dap.WithLogger(b.app.logger),
	)
	b.initOrder = append(b.initOrder, "session")
	b.app.logger.Debug("session %s created for %s adapter", b.app.session.ID(), cfg.Adapter.Transport)
	return nil
}

// initService creates the debugger service and hands it the session.
func (b *bootstrapper) initService() error {
	cfg := b.app.config
	b.app.service = debug.NewService(
		debug.WithSession(b.app.session),
		debug.WithConfig(debug.Config{
			RegisterCommand:          cfg.Session.RegisterCommand,
			FetchScopesIndependently: cfg.Debugger.FetchScopesIndependently,
		}),
		debug.WithLogger(b.app.logger),
	)
	b.initOrder = append(b.initOrder, "service")
	return nil
}

// initMCP registers the tool surface. It is cheap, so it is built for both
// front ends.
func (b *bootstrapper) initMCP() error {
	cfg := mcpserver.DefaultConfig()
	if b.opts.Version != "" {
		cfg.Version = b.opts.Version
	}
	cfg.AutoStart = b.app.config.Debugger.AutoStart

	b.app.mcp = mcpserver.New(b.app.service,
		mcpserver.WithConfig(cfg),
		mcpserver.WithLogger(b.app.logger),
	)
	b.initOrder = append(b.initOrder, "mcp")
	return nil
}

// initWatcher starts the config file watcher. A missing file or an
// unwatchable directory only disables live reload.
func (b *bootstrapper) initWatcher() error {
	if !b.opts.Watch {
		return nil
	}
	w, err := b.app.loader.Watch(b.app.reload,
		watcher.WithErrorHandler(func(err error) {
			b.app.logger.Warn("config watcher: %v", err)
		}),
	)
	switch {
	case errors.Is(err, config.ErrFileNotFound):
		b.app.logger.Debug("no config file to watch")
		return nil
	case err != nil:
		b.app.logger.Warn("config live reload disabled: %v", err)
		return nil
	}
	b.app.watcher = w
	b.initOrder = append(b.initOrder, "watcher")
	b.app.logger.Debug("watching %s", b.app.loader.Path())
	return nil
}

// cleanup performs cleanup in reverse initialization order.
// Called when bootstrap fails partway through.
func (b *bootstrapper) cleanup() {
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(b.initOrder[i])
	}
}

// cleanupComponent cleans up a single component.
func (b *bootstrapper) cleanupComponent(component string) {
	switch component {
	case "watcher":
		if b.app.watcher != nil {
			b.app.watcher.Stop()
			b.app.watcher = nil
		}
	case "mcp":
		b.app.mcp = nil
	case "service":
		if b.app.service != nil {
			b.app.service.Dispose()
			b.app.service = nil
			b.app.session = nil
		}
	case "session":
		if b.app.session != nil {
			b.app.session.Dispose()
			b.app.session = nil
		}
	case "logger":
		if b.app.logFile != nil {
			_ = b.app.logFile.Close()
			b.app.logFile = nil
		}
		b.app.logger = nil
	case "config":
		b.app.config = nil
		b.app.loader = nil
	}
}

func adapterConfig(cfg config.AdapterConfig) adapters.Config {
	return adapters.Config{
		Kind:        adapters.Kind(cfg.Transport),
		Address:     cfg.Address,
		URL:         cfg.URL,
		Command:     cfg.Command,
		Args:        cfg.Args,
		WaitTimeout: cfg.WaitTimeout.Std(),
	}
}

func sessionConfig(cfg *config.Config) dap.SessionConfig {
	sc := dap.DefaultSessionConfig()
	if cfg.Adapter.ClientID != "" {
		sc.ClientID = cfg.Adapter.ClientID
	}
	if cfg.Adapter.ClientName != "" {
		sc.ClientName = cfg.Adapter.ClientName
	}
	sc.AdapterID = cfg.Adapter.AdapterID
	sc.ProbeTimeout = cfg.Session.ProbeTimeout.Std()
	sc.StopTimeout = cfg.Session.StopTimeout.Std()
	return sc
}
