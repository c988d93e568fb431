package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kdbg/internal/config"
	"github.com/dshills/kdbg/internal/integration/debug/codeid"
	"github.com/dshills/kdbg/internal/integration/debug/dap"
	"github.com/dshills/kdbg/internal/integration/debug/dap/daptest"
	"github.com/dshills/kdbg/internal/logging"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// emptyFS has no files, so only defaults and overrides apply.
type emptyFS struct{}

func (emptyFS) Open(string) (fs.File, error) { return nil, fs.ErrNotExist }
func (emptyFS) ReadFile(string) ([]byte, error) { return nil, fs.ErrNotExist }
func (emptyFS) Stat(string) (fs.FileInfo, error) { return nil, fs.ErrNotExist }

// syncBuffer is a bytes.Buffer safe for the event goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testOptions(a *daptest.Adapter) Options {
	opts := Options{
		ConfigOptions: []config.Option{config.WithFS(emptyFS{}), config.WithoutEnv()},
		Stdout:        &syncBuffer{},
		LogOutput:     io.Discard,
	}
	if a != nil {
		opts.Dialer = a.Dialer()
	}
	return opts
}

func newTestApp(t *testing.T, opts Options) *Application {
	t.Helper()
	app, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown() })
	return app
}

func idleDebugInfo() dap.DebugInfoResponseBody {
	return dap.DebugInfoResponseBody{
		HashMethod:     codeid.MethodMurmur2,
		HashSeed:       3339675911,
		TmpFilePrefix:  "/tmp/ipykernel_42/",
		TmpFileSuffix:  ".py",
		Breakpoints:    []dap.SourceBreakpoints{},
		StoppedThreads: []int{},
	}
}

func runAsync(app *Application) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- app.Run(context.Background()) }()
	return errc
}

func TestNewWiresComponents(t *testing.T) {
	app := newTestApp(t, testOptions(daptest.New()))

	assert.Equal(t, config.Default(), app.Config())
	assert.NotNil(t, app.Logger())
	require.NotNil(t, app.Session())
	require.NotNil(t, app.Service())
	assert.Same(t, app.Session(), app.Service().Session())
	require.NotNil(t, app.MCP())
	assert.NotEmpty(t, app.MCP().Tools())
	assert.False(t, app.IsRunning())
}

func TestNewOverrides(t *testing.T) {
	opts := testOptions(daptest.New())
	opts.Overrides = map[string]any{
		"log.level":           "debug",
		"debugger.auto_start": true,
	}
	app := newTestApp(t, opts)

	assert.Equal(t, logging.LevelDebug, app.Logger().Level())
	assert.True(t, app.Config().Debugger.AutoStart)
}

func TestNewInvalidConfig(t *testing.T) {
	opts := testOptions(daptest.New())
	opts.Overrides = map[string]any{"log.level": "loud"}

	_, err := New(opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.ErrorIs(t, err, config.ErrValidationFailed)

	var ierr *InitError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "config", ierr.Component)
}

func TestNewAdapterError(t *testing.T) {
	opts := testOptions(nil)
	opts.Overrides = map[string]any{"adapter.address": "no-port"}

	_, err := New(opts)
	var ierr *InitError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "adapter", ierr.Component)
}

func TestNewLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kdbg.log")
	opts := testOptions(daptest.New())
	opts.Overrides = map[string]any{"log.file": path}

	app, err := New(opts)
	require.NoError(t, err)
	app.Logger().Info("hello from the test")
	require.NoError(t, app.Shutdown())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the test")
}

func TestTailPrintsEvents(t *testing.T) {
	a := daptest.New()
	a.Reply(dap.CommandDebugInfo, idleDebugInfo())
	opts := testOptions(a)
	out := opts.Stdout.(*syncBuffer)
	app := newTestApp(t, opts)

	errc := runAsync(app)
	require.Eventually(t, func() bool { return a.Count(dap.CommandDebugInfo) == 1 }, waitFor, tick)
	require.Eventually(t, app.IsRunning, waitFor, tick)

	a.Emit(dap.EventOutput, godap.OutputEventBody{Category: "stdout", Output: "hi\n"})
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `output category="stdout" output="hi"`)
	}, waitFor, tick)

	require.NoError(t, app.Shutdown())
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Shutdown")
	}
	assert.False(t, app.IsRunning())
}

func TestTailRestoreFailure(t *testing.T) {
	a := daptest.New()
	a.Fail(dap.CommandDebugInfo, "kernel busy")
	app := newTestApp(t, testOptions(a))

	err := app.Run(context.Background())
	var oerr *OperationError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, "restore state", oerr.Op)
	assert.Equal(t, app.Session().ID(), oerr.Target)
}

func TestRunTwice(t *testing.T) {
	a := daptest.New()
	a.Reply(dap.CommandDebugInfo, idleDebugInfo())
	app := newTestApp(t, testOptions(a))

	errc := runAsync(app)
	require.Eventually(t, app.IsRunning, waitFor, tick)
	assert.ErrorIs(t, app.Run(context.Background()), ErrAlreadyRunning)

	require.NoError(t, app.Shutdown())
	require.NoError(t, <-errc)
	assert.ErrorIs(t, app.Run(context.Background()), ErrNotRunning)
}

func TestRunStopsWithContext(t *testing.T) {
	a := daptest.New()
	a.Reply(dap.CommandDebugInfo, idleDebugInfo())
	app := newTestApp(t, testOptions(a))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- app.Run(ctx) }()
	require.Eventually(t, app.IsRunning, waitFor, tick)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdownStopsStartedSession(t *testing.T) {
	a := daptest.New()
	app := newTestApp(t, testOptions(a))

	require.NoError(t, app.Service().Start(context.Background()))
	require.True(t, app.Session().IsStarted())

	require.NoError(t, app.Shutdown())
	assert.Equal(t, 1, a.Count(dap.CommandDisconnect))
	assert.True(t, a.Closed())
	require.NoError(t, app.Shutdown(), "second shutdown is a no-op")
}

func TestServeMCP(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	opts := testOptions(daptest.New())
	opts.MCP = true
	opts.Version = "1.2.3"
	opts.Stdin = inR
	opts.Stdout = outW
	app := newTestApp(t, opts)

	errc := runAsync(app)

	req := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}` + "\n"
	go func() { _, _ = io.WriteString(inW, req) }()

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(outR).ReadString('\n')
		lines <- line
	}()

	var line string
	select {
	case line = <-lines:
	case <-time.After(waitFor):
		t.Fatal("no initialize response")
	}

	var resp struct {
		ID     int `json:"id"`
		Result struct {
			ServerInfo struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, 1, resp.ID)
	assert.Equal(t, "kdbg", resp.Result.ServerInfo.Name)
	assert.Equal(t, "1.2.3", resp.Result.ServerInfo.Version)

	require.NoError(t, app.Shutdown())
	_ = inW.Close()
	_ = outR.Close()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestReloadAppliesLogLevel(t *testing.T) {
	app := newTestApp(t, testOptions(daptest.New()))
	require.Equal(t, logging.LevelInfo, app.Logger().Level())

	cfg := config.Default()
	cfg.Log.Level = "error"
	app.reload(cfg, nil)
	assert.Equal(t, logging.LevelError, app.Logger().Level())
	assert.Same(t, cfg, app.Config())

	app.reload(nil, errors.New("bad file"))
	assert.Same(t, cfg, app.Config(), "a failed reload keeps the previous config")
}

func TestWatchReloadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kdbg.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644))

	opts := testOptions(daptest.New())
	opts.ConfigPath = path
	opts.ConfigOptions = []config.Option{config.WithoutEnv()}
	opts.Watch = true
	app := newTestApp(t, opts)
	require.NotNil(t, app.watcher)

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644))
	require.Eventually(t, func() bool {
		return app.Logger().Level() == logging.LevelDebug
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "debug", app.Config().Log.Level)
}

func TestWatchWithoutConfigFile(t *testing.T) {
	opts := testOptions(daptest.New())
	opts.Watch = true
	app := newTestApp(t, opts)
	assert.Nil(t, app.watcher)
}

func TestSessionConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Adapter.ClientID = ""
	cfg.Adapter.AdapterID = "xpython"
	cfg.Session.ProbeTimeout = config.Duration(time.Second)

	sc := sessionConfig(cfg)
	assert.Equal(t, dap.DefaultSessionConfig().ClientID, sc.ClientID)
	assert.Equal(t, "kdbg", sc.ClientName)
	assert.Equal(t, "xpython", sc.AdapterID)
	assert.Equal(t, time.Second, sc.ProbeTimeout)
	assert.Equal(t, dap.CommandDebugInfo, sc.ProbeCommand)

	cfg.Adapter.Transport = config.TransportStdio
	cfg.Adapter.Command = "python"
	cfg.Adapter.Args = []string{"-m", "debugpy.adapter"}
	ac := adapterConfig(cfg.Adapter)
	assert.Equal(t, "stdio", string(ac.Kind))
	assert.Equal(t, []string{"-m", "debugpy.adapter"}, ac.Args)
	assert.NoError(t, ac.Validate())
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		evt  *dap.Event
		want string
	}{
		{
			name: "no body",
			evt:  &dap.Event{Event: dap.EventInitialized},
			want: "initialized",
		},
		{
			name: "stopped",
			evt:  &dap.Event{Event: dap.EventStopped, Body: []byte(`{"reason":"breakpoint","threadId":1,"allThreadsStopped":false}`)},
			want: `stopped reason="breakpoint" threadId=1 allThreadsStopped=false`,
		},
		{
			name: "breakpoint",
			evt:  &dap.Event{Event: dap.EventBreakpoint, Body: []byte(`{"reason":"changed","breakpoint":{"id":3,"line":7,"verified":true}}`)},
			want: `breakpoint reason="changed" breakpoint.id=3 breakpoint.line=7 breakpoint.verified=true`,
		},
		{
			name: "invalid body",
			evt:  &dap.Event{Event: dap.EventExited, Body: []byte(`{`)},
			want: "exited",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(tt.evt))
		})
	}
}

func TestEventPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &eventPrinter{w: &out, now: func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	}}
	p.print(&dap.Event{Event: dap.EventTerminated})
	assert.Equal(t, "03:04:05.006 terminated\n", out.String())
}
