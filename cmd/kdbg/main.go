// Package main is the entry point for kdbg, a debugger client for Jupyter
// kernels.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/kdbg/internal/app"
	"github.com/dshills/kdbg/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, code, ok := parseFlags(os.Args[1:], os.Stdout, os.Stderr)
	if !ok {
		return code
	}

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	// Ensure cleanup on all exit paths
	defer application.Shutdown()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	go func() {
		<-signals
		if err := application.Shutdown(); err != nil {
			application.Logger().Warn("shutdown: %v", err)
		}
	}()

	if err := application.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// parseFlags turns the command line into application options. Flags that
// were set become config overrides, so unset flags leave the file and
// environment values alone. ok is false when the program should exit with
// code instead of running.
func parseFlags(args []string, stdout, stderr io.Writer) (opts app.Options, code int, ok bool) {
	fs := flag.NewFlagSet("kdbg", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		transport   string
		address     string
		url         string
		logLevel    string
		autoStart   bool
		showVersion bool
	)
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (.toml, .yaml)")
	fs.StringVar(&transport, "transport", "", "Adapter transport (tcp, stdio, websocket)")
	fs.StringVar(&address, "address", "", "Adapter host:port for the tcp transport")
	fs.StringVar(&url, "url", "", "Kernel control channel URL for the websocket transport")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVar(&autoStart, "auto-start", false, "Start the debug session if the kernel has not")
	fs.BoolVar(&opts.MCP, "mcp", false, "Serve MCP tools on stdin/stdout instead of printing events")
	fs.BoolVar(&showVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "kdbg - debugger client for Jupyter kernels\n\n")
		fmt.Fprintf(stderr, "Usage: kdbg [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  kdbg -address 127.0.0.1:5678              Tail debugger events of a kernel\n")
		fmt.Fprintf(stderr, "  kdbg -transport websocket -url ws://...   Attach through a kernel gateway\n")
		fmt.Fprintf(stderr, "  kdbg -mcp -auto-start                     Serve debugger tools to an assistant\n")
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return opts, 0, false
		}
		return opts, 2, false
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "Error: unexpected arguments: %v\n", fs.Args())
		return opts, 2, false
	}

	if showVersion {
		fmt.Fprintf(stdout, "kdbg %s\n", version)
		fmt.Fprintf(stdout, "Commit: %s\n", commit)
		fmt.Fprintf(stdout, "Built: %s\n", date)
		return opts, 0, false
	}

	if logLevel != "" && !logging.ValidLevel(logLevel) {
		fmt.Fprintf(stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", logLevel)
		return opts, 2, false
	}

	overrides := make(map[string]any)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			overrides["adapter.transport"] = transport
		case "address":
			overrides["adapter.address"] = address
		case "url":
			overrides["adapter.url"] = url
		case "log-level":
			overrides["log.level"] = logLevel
		case "auto-start":
			overrides["debugger.auto_start"] = autoStart
		}
	})

	opts.Overrides = overrides
	opts.Version = version
	opts.Watch = true
	return opts, 0, true
}
