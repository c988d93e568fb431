// Package app wires the debugger components together and manages their
// lifecycle. It builds the configuration, logger, adapter channel, session,
// service and tool server in dependency order, then runs one of two front
// ends: the MCP tool server or an event tail that prints adapter events.
package app

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/kdbg/internal/config"
	"github.com/dshills/kdbg/internal/config/watcher"
	"github.com/dshills/kdbg/internal/integration/debug"
	"github.com/dshills/kdbg/internal/integration/debug/dap"
	"github.com/dshills/kdbg/internal/logging"
	"github.com/dshills/kdbg/internal/mcpserver"
)

// Application is the central coordinator for the debugger components.
type Application struct {
	mu sync.RWMutex

	loader  *config.Loader
	config  *config.Config
	watcher *watcher.Watcher

	logger  *logging.Logger
	logFile io.Closer

	session *dap.Session
	service *debug.Service
	mcp     *mcpserver.Server

	running      atomic.Bool
	done         chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error

	opts Options
}

// Options configures the application.
type Options struct {
	// ConfigPath is the configuration file. Empty searches the default
	// locations.
	ConfigPath string

	// Overrides are dotted config paths set from the command line. They
	// win over every other configuration source.
	Overrides map[string]any

	// ConfigOptions are passed to the config loader.
	ConfigOptions []config.Option

	// MCP selects the tool server front end instead of the event tail.
	MCP bool

	// Version is reported by the tool server.
	Version string

	// Watch reloads the configuration when its file changes.
	Watch bool

	// Stdin and Stdout carry the MCP stream and the event tail.
	// They default to os.Stdin and os.Stdout.
	Stdin  io.Reader
	Stdout io.Writer

	// LogOutput receives log lines when no log file is configured.
	// Defaults to os.Stderr.
	LogOutput io.Writer

	// Dialer replaces the dialer built from the adapter configuration.
	Dialer dap.Dialer
}

// New creates an Application and initializes every component. On failure
// the components created so far are released.
func New(opts Options) (*Application, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}

	app := &Application{
		opts: opts,
		done: make(chan struct{}),
	}
	if err := newBootstrapper(app, opts).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Run runs the selected front end and blocks until ctx is done, Shutdown
// is called, or the front end stops on its own.
func (app *Application) Run(ctx context.Context) error {
	select {
	case <-app.done:
		return ErrNotRunning
	default:
	}
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-app.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if app.opts.MCP {
		return app.serveMCP(ctx)
	}
	return app.tail(ctx)
}

func (app *Application) serveMCP(ctx context.Context) error {
	app.logger.Info("serving MCP tools for session %s", app.session.ID())
	err := app.mcp.Serve(ctx, app.opts.Stdin, app.opts.Stdout)
	if err != nil && ctx.Err() == nil {
		return NewOperationError("serve", "mcp", err)
	}
	return nil
}

// Shutdown stops the session and releases every component. It is safe to
// call more than once and from another goroutine while Run blocks.
func (app *Application) Shutdown() error {
	app.shutdownOnce.Do(func() {
		close(app.done)
		app.shutdownErr = app.shutdown()
	})
	return app.shutdownErr
}

// shutdown performs cleanup in reverse initialization order.
func (app *Application) shutdown() error {
	errs := NewErrorList()

	if app.watcher != nil {
		app.watcher.Stop()
	}

	if app.service != nil {
		if app.session != nil && app.session.IsStarted() {
			timeout := app.Config().Session.StopTimeout.Std() + time.Second
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := app.service.Stop(ctx); err != nil {
				errs.Add(NewComponentError("debugger", "stop", err))
			}
			cancel()
		}
		app.service.Dispose()
	}

	app.logger.Debug("shutdown complete")
	if app.logFile != nil {
		if err := app.logFile.Close(); err != nil {
			errs.Add(NewComponentError("log", "close", err))
		}
	}
	return errs.AsError()
}

// IsRunning returns true while Run blocks.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Config returns the active configuration.
func (app *Application) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.config
}

// Logger returns the root logger.
func (app *Application) Logger() *logging.Logger {
	return app.logger
}

// Session returns the debug session.
func (app *Application) Session() *dap.Session {
	return app.session
}

// Service returns the debugger service.
func (app *Application) Service() *debug.Service {
	return app.service
}

// MCP returns the tool server.
func (app *Application) MCP() *mcpserver.Server {
	return app.mcp
}
