package debug

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kdbg/internal/integration/debug/codeid"
	"github.com/dshills/kdbg/internal/integration/debug/dap"
	"github.com/dshills/kdbg/internal/integration/debug/dap/daptest"
	"github.com/dshills/kdbg/internal/integration/debug/model"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestService(t *testing.T, opts ...Option) (*Service, *daptest.Adapter) {
	t.Helper()
	a := daptest.New()
	session := dap.NewSession(a.Dialer())
	svc := NewService(append([]Option{WithSession(session)}, opts...)...)
	t.Cleanup(svc.Dispose)
	return svc, a
}

// scriptStoppedKernel answers the refresh pipeline requests with one frame,
// two scopes and a nested variable behind reference 42.
func scriptStoppedKernel(a *daptest.Adapter) {
	a.Reply(dap.CommandStackTrace, godap.StackTraceResponseBody{
		StackFrames: []godap.StackFrame{
			{Id: 7, Name: "<module>", Line: 3, Column: 1, Source: &godap.Source{Path: "/tmp/ipykernel_1/123.py"}},
			{Id: 8, Name: "outer", Line: 9, Column: 1},
		},
		TotalFrames: 2,
	})
	a.Reply(dap.CommandScopes, godap.ScopesResponseBody{
		Scopes: []godap.Scope{
			{Name: "Locals", VariablesReference: 10},
			{Name: "Globals", VariablesReference: 11},
		},
	})
	a.Handle(dap.CommandVariables, func(req daptest.Request) (any, error) {
		var args godap.VariablesArguments
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		switch args.VariablesReference {
		case 10:
			return godap.VariablesResponseBody{Variables: []godap.Variable{
				{Name: "obj", Value: "{...}", VariablesReference: 42},
				{Name: "x", Value: "1"},
			}}, nil
		case 11:
			return godap.VariablesResponseBody{Variables: []godap.Variable{
				{Name: "g", Value: "'global'"},
			}}, nil
		case 42:
			return godap.VariablesResponseBody{Variables: []godap.Variable{
				{Name: "a", Value: "1"},
			}}, nil
		}
		return godap.VariablesResponseBody{Variables: []godap.Variable{}}, nil
	})
}

func debugInfoBody(started bool, stopped []int, bps []dap.SourceBreakpoints) dap.DebugInfoResponseBody {
	if stopped == nil {
		stopped = []int{}
	}
	if bps == nil {
		bps = []dap.SourceBreakpoints{}
	}
	return dap.DebugInfoResponseBody{
		IsStarted:      &started,
		HashMethod:     codeid.MethodMurmur2,
		HashSeed:       3339675911,
		TmpFilePrefix:  "/tmp/ipykernel_42/",
		TmpFileSuffix:  ".py",
		Breakpoints:    bps,
		StoppedThreads: stopped,
	}
}

// flush waits until every task queued so far has run.
func flush(t *testing.T, svc *Service) {
	t.Helper()
	done := make(chan struct{})
	svc.queue.push(func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("service queue did not drain")
	}
}

func waitScopes(t *testing.T, m *model.Model) []model.Scope {
	t.Helper()
	require.Eventually(t, func() bool { return len(m.Variables.Scopes()) > 0 }, waitFor, tick)
	return m.Variables.Scopes()
}

func TestServiceStoppedThenContinued(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	m := svc.Model()

	var events []string
	var mu sync.Mutex
	svc.EventMessage().Subscribe(func(evt *dap.Event) {
		mu.Lock()
		events = append(events, evt.Event)
		mu.Unlock()
	})

	require.NoError(t, svc.Start(context.Background()))
	a.Emit(dap.EventStopped, godap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1})

	scopes := waitScopes(t, m)
	assert.Equal(t, []int{1}, m.StoppedThreads())
	assert.True(t, svc.HasStoppedThreads())
	assert.Equal(t, 1, m.CurrentThread())

	frames := m.Callstack.Frames()
	require.Len(t, frames, 2)
	frame, ok := m.Callstack.CurrentFrame()
	require.True(t, ok)
	assert.Equal(t, 7, frame.ID)

	require.Len(t, scopes, 2)
	assert.Equal(t, "Locals", scopes[0].Name)
	assert.Equal(t, "obj", scopes[0].Variables[0].Name)
	assert.Equal(t, "g", scopes[1].Variables[0].Name)

	scopeReqs := a.RequestsFor(dap.CommandScopes)
	require.Len(t, scopeReqs, 1)
	var scopeArgs godap.ScopesArguments
	require.NoError(t, scopeReqs[0].Decode(&scopeArgs))
	assert.Equal(t, 7, scopeArgs.FrameId)

	a.Emit(dap.EventContinued, godap.ContinuedEventBody{ThreadId: 1})

	require.Eventually(t, func() bool { return !m.HasStoppedThreads() }, waitFor, tick)
	require.Eventually(t, func() bool {
		return len(m.Callstack.Frames()) == 0 && len(m.Variables.Scopes()) == 0
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []string{dap.EventStopped, dap.EventContinued}, events)
	mu.Unlock()
}

func TestServiceSharedScopeVariables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FetchScopesIndependently = false
	svc, a := newTestService(t, WithConfig(cfg))
	scriptStoppedKernel(a)

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	scopes := waitScopes(t, svc.Model())

	require.Len(t, scopes, 2)
	assert.Equal(t, scopes[0].Variables, scopes[1].Variables)
	assert.Equal(t, 1, a.Count(dap.CommandVariables))
}

func TestServiceCurrentFrameChangeRefreshesScopes(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	m := svc.Model()

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, m)

	require.True(t, m.Callstack.SetCurrentFrame(8))
	require.Eventually(t, func() bool { return a.Count(dap.CommandScopes) == 2 }, waitFor, tick)

	reqs := a.RequestsFor(dap.CommandScopes)
	var args godap.ScopesArguments
	require.NoError(t, reqs[1].Decode(&args))
	assert.Equal(t, 8, args.FrameId)
}

func TestServiceStaleRefreshIsDiscarded(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	a.Hold(dap.CommandScopes)
	m := svc.Model()

	var populated bool
	var mu sync.Mutex
	m.Variables.ScopesChanged().Subscribe(func(scopes []model.Scope) {
		mu.Lock()
		populated = populated || len(scopes) > 0
		mu.Unlock()
	})

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	require.Eventually(t, func() bool { return a.Count(dap.CommandScopes) == 1 }, waitFor, tick)

	svc.Continue(context.Background())
	assert.False(t, m.HasStoppedThreads())

	held := a.RequestsFor(dap.CommandScopes)[0]
	a.Respond(held, true, "", godap.ScopesResponseBody{
		Scopes: []godap.Scope{{Name: "Locals", VariablesReference: 10}},
	})

	require.Eventually(t, func() bool { return a.Count(dap.CommandVariables) == 1 }, waitFor, tick)
	flush(t, svc)

	mu.Lock()
	assert.False(t, populated)
	mu.Unlock()
	assert.Empty(t, m.Variables.Scopes())
}

func TestServiceExpandVariable(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	m := svc.Model()

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, m)

	children, err := svc.ExpandVariable(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "a", children[0].Name)

	scopes := m.Variables.Scopes()
	assert.True(t, scopes[0].Variables[0].Expanded)
	assert.False(t, scopes[0].Variables[1].Expanded)
	assert.False(t, scopes[1].Variables[0].Expanded)

	stored, ok := m.Variables.Children(42)
	require.True(t, ok)
	require.Len(t, stored, 1)
	assert.Equal(t, "a", stored[0].Name)
	assert.Equal(t, 0, stored[0].VariablesReference)
}

func TestServiceExpandRequestedThroughModel(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	m := svc.Model()

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	scopes := waitScopes(t, m)

	m.Variables.RequestExpand(scopes[0].Variables[0])

	require.Eventually(t, func() bool {
		_, ok := m.Variables.Children(42)
		return ok
	}, waitFor, tick)
}

func TestServiceInspectVariableLeavesModel(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)

	vars, err := svc.InspectVariable(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, vars, 1)

	_, ok := svc.Model().Variables.Children(42)
	assert.False(t, ok)

	_, err = svc.InspectVariable(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoChildren)
}

func TestServiceUpdateBreakpointsRegistersCode(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	a.Reply(dap.CommandDebugInfo, debugInfoBody(true, nil, nil))
	a.Reply(dap.CommandDumpCell, dap.DumpCellResponseBody{SourcePath: "/tmp/ipykernel_42/2355083700.py"})
	a.Reply(dap.CommandSetBreakpoints, godap.SetBreakpointsResponseBody{
		Breakpoints: []godap.Breakpoint{
			{Verified: true, Line: 1},
			{Verified: true, Line: 1},
		},
	})

	require.NoError(t, svc.Start(ctx))
	a.Reset()

	path, err := svc.UpdateBreakpoints(ctx, "x=1", []model.Breakpoint{{Line: 1}, {Line: 4}}, "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ipykernel_42/2355083700.py", path)

	assert.Equal(t, []string{
		dap.CommandDumpCell,
		dap.CommandDebugInfo,
		dap.CommandSetBreakpoints,
		dap.CommandConfigurationDone,
	}, a.Commands())

	var dump dap.DumpCellArguments
	require.NoError(t, a.RequestsFor(dap.CommandDumpCell)[0].Decode(&dump))
	assert.Equal(t, "x=1", dump.Code)

	var set dap.SetBreakpointsArguments
	require.NoError(t, a.RequestsFor(dap.CommandSetBreakpoints)[0].Decode(&set))
	assert.Equal(t, path, set.Source.Path)
	assert.Len(t, set.Breakpoints, 2)

	stored := svc.Model().Breakpoints.Breakpoints(path)
	require.Len(t, stored, 1)
	assert.Equal(t, 1, stored[0].Line)
	assert.True(t, stored[0].Verified)
	assert.Equal(t, path, stored[0].Source)
}

func TestServiceUpdateBreakpointsWithPath(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	a.Reply(dap.CommandDebugInfo, debugInfoBody(true, nil, nil))
	a.Reply(dap.CommandSetBreakpoints, godap.SetBreakpointsResponseBody{
		Breakpoints: []godap.Breakpoint{{Verified: false, Line: 2, Message: "no code"}},
	})
	require.NoError(t, svc.Start(ctx))

	path, err := svc.UpdateBreakpoints(ctx, "", []model.Breakpoint{{Line: 2}}, "/tmp/a.py")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.py", path)
	assert.Zero(t, a.Count(dap.CommandDumpCell))

	stored := svc.Model().Breakpoints.Breakpoints("/tmp/a.py")
	require.Len(t, stored, 1)
	assert.False(t, stored[0].Verified)
	assert.Equal(t, "no code", stored[0].Message)
}

func TestServiceUpdateBreakpointsUsesRegisterCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegisterCommand = dap.CommandUpdateCell
	svc, a := newTestService(t, WithConfig(cfg))
	ctx := context.Background()

	a.Reply(dap.CommandDebugInfo, debugInfoBody(true, nil, nil))
	a.Reply(dap.CommandUpdateCell, dap.DumpCellResponseBody{SourcePath: "/tmp/cell.py"})
	a.Reply(dap.CommandSetBreakpoints, godap.SetBreakpointsResponseBody{Breakpoints: []godap.Breakpoint{}})
	require.NoError(t, svc.Start(ctx))

	_, err := svc.UpdateBreakpoints(ctx, "y = 2", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Count(dap.CommandUpdateCell))
	assert.Zero(t, a.Count(dap.CommandDumpCell))
}

func TestServiceUpdateBreakpointsNotStarted(t *testing.T) {
	svc, a := newTestService(t)

	_, err := svc.UpdateBreakpoints(context.Background(), "x=1", []model.Breakpoint{{Line: 1}}, "")
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Empty(t, a.Requests())
}

func TestServiceBreakpointSyncKeepsSessionStarted(t *testing.T) {
	svc, a := newTestService(t)
	dump := debugInfoBody(false, nil, nil)
	dump.IsStarted = nil
	a.Reply(dap.CommandDebugInfo, dump)
	a.Reply(dap.CommandSetBreakpoints, godap.SetBreakpointsResponseBody{
		Breakpoints: []godap.Breakpoint{{Verified: true, Line: 2}},
	})
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	_, err := svc.UpdateBreakpoints(ctx, "", []model.Breakpoint{{Line: 2}}, "/tmp/a.py")
	require.NoError(t, err)
	assert.True(t, svc.IsStarted())

	require.NoError(t, svc.ClearBreakpoints(ctx))
	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, 1, a.Count(dap.CommandDisconnect))
}

func TestServiceClearBreakpoints(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()
	a.Reply(dap.CommandSetBreakpoints, godap.SetBreakpointsResponseBody{Breakpoints: []godap.Breakpoint{}})
	require.NoError(t, svc.Start(ctx))

	m := svc.Model()
	m.Breakpoints.SetBreakpoints("/tmp/a.py", []model.Breakpoint{{Line: 1}})
	m.Breakpoints.SetBreakpoints("/tmp/b.py", []model.Breakpoint{{Line: 2}})

	require.NoError(t, svc.ClearBreakpoints(ctx))

	reqs := a.RequestsFor(dap.CommandSetBreakpoints)
	require.Len(t, reqs, 2)
	var paths []string
	for _, req := range reqs {
		var args dap.SetBreakpointsArguments
		require.NoError(t, req.Decode(&args))
		assert.Empty(t, args.Breakpoints)
		assert.NotNil(t, args.Breakpoints)
		paths = append(paths, args.Source.Path)
	}
	assert.Equal(t, []string{"/tmp/a.py", "/tmp/b.py"}, paths)
	assert.Empty(t, m.Breakpoints.All())
}

func TestServiceRestartResendsBreakpoints(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()

	a.Handle(dap.CommandSetBreakpoints, func(req daptest.Request) (any, error) {
		var args dap.SetBreakpointsArguments
		if err := req.Decode(&args); err != nil {
			return nil, err
		}
		// The kernel moves every breakpoint one line down.
		out := []godap.Breakpoint{}
		for _, bp := range args.Breakpoints {
			out = append(out, godap.Breakpoint{Verified: true, Line: bp.Line + 1})
		}
		return godap.SetBreakpointsResponseBody{Breakpoints: out}, nil
	})
	require.NoError(t, svc.Start(ctx))

	m := svc.Model()
	m.Breakpoints.SetBreakpoints("/tmp/a.py", []model.Breakpoint{{Line: 1}, {Line: 5}})
	m.Breakpoints.SetBreakpoints("/tmp/b.py", []model.Breakpoint{{Line: 2}})
	id := svc.CodeID("x = 1")
	a.Reset()

	require.NoError(t, svc.Restart(ctx))

	assert.Equal(t, []string{
		dap.CommandDisconnect,
		dap.CommandInitialize,
		dap.CommandAttach,
		dap.CommandSetBreakpoints,
		dap.CommandSetBreakpoints,
		dap.CommandConfigurationDone,
	}, a.Commands())
	assert.True(t, svc.IsStarted())

	assert.Equal(t, []int{2, 6}, lineNumbers(m.Breakpoints.Breakpoints("/tmp/a.py")))
	assert.Equal(t, []int{3}, lineNumbers(m.Breakpoints.Breakpoints("/tmp/b.py")))
	assert.Equal(t, id, svc.CodeID("x = 1"))
}

func lineNumbers(bps []model.Breakpoint) []int {
	out := make([]int, 0, len(bps))
	for _, bp := range bps {
		out = append(out, bp.Line)
	}
	return out
}

func TestServiceRestoreStateWithStoppedThreads(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	a.Reply(dap.CommandDebugInfo, debugInfoBody(false, []int{3, 2}, []dap.SourceBreakpoints{
		{Source: "/tmp/ipykernel_42/1.py", Breakpoints: []godap.SourceBreakpoint{{Line: 4}, {Line: 4}}},
	}))

	require.NoError(t, svc.RestoreState(context.Background(), false))

	assert.True(t, svc.IsStarted())
	assert.Equal(t, 1, a.Count(dap.CommandInitialize))

	m := svc.Model()
	assert.Equal(t, []int{2, 3}, m.StoppedThreads())
	assert.Equal(t, 2, m.CurrentThread())

	var st godap.StackTraceArguments
	require.NoError(t, a.RequestsFor(dap.CommandStackTrace)[0].Decode(&st))
	assert.Equal(t, 2, st.ThreadId)

	bps := m.Breakpoints.Breakpoints("/tmp/ipykernel_42/1.py")
	require.Len(t, bps, 1)
	assert.True(t, bps[0].Verified)

	waitScopes(t, m)
	assert.Equal(t, "/tmp/ipykernel_42/3427300630.py", svc.CodeID("x = 1"))
}

func TestServiceRestoreStateIdle(t *testing.T) {
	svc, a := newTestService(t)
	a.Reply(dap.CommandDebugInfo, debugInfoBody(false, nil, nil))

	require.NoError(t, svc.RestoreState(context.Background(), false))
	assert.False(t, svc.IsStarted())
	assert.Zero(t, a.Count(dap.CommandInitialize))

	require.NoError(t, svc.RestoreState(context.Background(), true))
	assert.True(t, svc.IsStarted())
	assert.Equal(t, 1, a.Count(dap.CommandInitialize))
}

func TestServiceRestoreStateAdoptsRunningKernel(t *testing.T) {
	svc, a := newTestService(t)
	a.Reply(dap.CommandDebugInfo, debugInfoBody(true, nil, nil))

	require.NoError(t, svc.RestoreState(context.Background(), true))
	assert.True(t, svc.IsStarted())
	assert.Zero(t, a.Count(dap.CommandInitialize))
}

func TestServiceRestoreStateUnsupportedHash(t *testing.T) {
	svc, a := newTestService(t)
	body := debugInfoBody(false, []int{1}, nil)
	body.HashMethod = "SHA1"
	a.Reply(dap.CommandDebugInfo, body)

	err := svc.RestoreState(context.Background(), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, codeid.ErrUnsupportedHashMethod))
	assert.False(t, svc.IsStarted())
	assert.False(t, svc.HasStoppedThreads())
}

func TestServiceContinueRemovesThread(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	m := svc.Model()

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, m)

	svc.Continue(context.Background())

	var args godap.ContinueArguments
	require.NoError(t, a.RequestsFor(dap.CommandContinue)[0].Decode(&args))
	assert.Equal(t, 1, args.ThreadId)
	assert.False(t, m.HasStoppedThreads())
	assert.Empty(t, m.Callstack.Frames())
	assert.Empty(t, m.Variables.Scopes())
}

// answerHeld waits for the held command's request, then replies to it and
// immediately emits evt, before the verb's caller has returned.
func answerHeld(t *testing.T, a *daptest.Adapter, command string, body any, evt string, evtBody any) {
	t.Helper()
	require.Eventually(t, func() bool { return a.Count(command) == 1 }, waitFor, tick)
	a.Respond(a.RequestsFor(command)[0], true, "", body)
	a.Emit(evt, evtBody)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("verb did not return")
	}
}

func TestServiceStoppedRightAfterContinueReply(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	m := svc.Model()

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, m)

	a.Hold(dap.CommandContinue)
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Continue(context.Background())
	}()
	answerHeld(t, a, dap.CommandContinue, godap.ContinueResponseBody{AllThreadsContinued: true},
		dap.EventStopped, godap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1})
	waitDone(t, done)
	flushAfter(t, svc, a)

	assert.Equal(t, []int{1}, m.StoppedThreads())
	assert.NotEmpty(t, m.Callstack.Frames())
	waitScopes(t, m)
}

func TestServiceContinuedRightAfterEvaluateReply(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	m := svc.Model()

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, m)

	a.Hold(dap.CommandEvaluate)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.Evaluate(context.Background(), "x = 2")
		assert.NoError(t, err)
	}()
	answerHeld(t, a, dap.CommandEvaluate, godap.EvaluateResponseBody{Result: "None"},
		dap.EventContinued, godap.ContinuedEventBody{ThreadId: 1})
	waitDone(t, done)
	flushAfter(t, svc, a)

	assert.False(t, m.HasStoppedThreads())
	assert.Empty(t, m.Callstack.Frames())
	assert.Empty(t, m.Variables.Scopes())
}

func TestServiceFailedVerbsLeaveState(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	a.Fail(dap.CommandContinue, "unable to find thread")
	a.Fail(dap.CommandNext, "unable to find thread")
	m := svc.Model()

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, m)

	svc.Continue(context.Background())
	svc.Next(context.Background())

	assert.Equal(t, []int{1}, m.StoppedThreads())
	assert.NotEmpty(t, m.Callstack.Frames())
}

func TestServiceStepVerbsTargetCurrentThread(t *testing.T) {
	svc, a := newTestService(t)
	svc.Model().SetCurrentThread(5)
	ctx := context.Background()

	svc.Next(ctx)
	svc.StepIn(ctx)
	svc.StepOut(ctx)
	svc.Pause(ctx)

	assert.Equal(t, []string{dap.CommandNext, dap.CommandStepIn, dap.CommandStepOut, dap.CommandPause}, a.Commands())
	for _, req := range a.Requests() {
		var args struct {
			ThreadID int `json:"threadId"`
		}
		require.NoError(t, req.Decode(&args))
		assert.Equal(t, 5, args.ThreadID, req.Command)
	}
}

func TestServiceVerbsWithoutThread(t *testing.T) {
	svc, a := newTestService(t)

	svc.Continue(context.Background())
	svc.StepIn(context.Background())

	assert.Empty(t, a.Requests())
}

func TestServiceThreadEvents(t *testing.T) {
	svc, a := newTestService(t)
	m := svc.Model()

	a.Emit(dap.EventThread, godap.ThreadEventBody{Reason: "started", ThreadId: 4})
	require.Eventually(t, func() bool { return m.CurrentThread() == 4 }, waitFor, tick)

	a.Emit(dap.EventThread, godap.ThreadEventBody{Reason: "started", ThreadId: 6})
	flushAfter(t, svc, a)
	assert.Equal(t, 4, m.CurrentThread())

	m.AddStoppedThread(6)
	a.Emit(dap.EventThread, godap.ThreadEventBody{Reason: "exited", ThreadId: 6})
	require.Eventually(t, func() bool { return !m.IsStopped(6) }, waitFor, tick)
}

// flushAfter waits for the adapter's pending events to reach the service
// and then for the service queue to drain.
func flushAfter(t *testing.T, svc *Service, a *daptest.Adapter) {
	t.Helper()
	var seen sync.WaitGroup
	seen.Add(1)
	var once sync.Once
	sub := svc.EventMessage().Subscribe(func(evt *dap.Event) {
		if evt.Event == "kdbg.flush" {
			once.Do(seen.Done)
		}
	})
	defer sub.Cancel()

	a.Emit("kdbg.flush", nil)
	done := make(chan struct{})
	go func() {
		seen.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("flush event not delivered")
	}
	flush(t, svc)
}

func TestServiceExitedClearsExecution(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	m := svc.Model()
	m.Breakpoints.SetBreakpoints("/tmp/a.py", []model.Breakpoint{{Line: 1}})

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, m)

	a.Emit(dap.EventExited, godap.ExitedEventBody{ExitCode: 0})
	require.Eventually(t, func() bool {
		return !m.HasStoppedThreads() && len(m.Callstack.Frames()) == 0
	}, waitFor, tick)
	assert.Len(t, m.Breakpoints.Breakpoints("/tmp/a.py"), 1)
}

func TestServiceStopClearsModel(t *testing.T) {
	svc, a := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	m := svc.Model()
	m.Breakpoints.SetBreakpoints("/tmp/a.py", []model.Breakpoint{{Line: 1}})
	m.AddStoppedThread(1)

	require.NoError(t, svc.Stop(ctx))
	assert.False(t, svc.IsStarted())
	assert.Empty(t, m.Breakpoints.All())
	assert.False(t, m.HasStoppedThreads())
	assert.Equal(t, 1, a.Count(dap.CommandDisconnect))
}

func TestServiceBreakpointClickOpensSource(t *testing.T) {
	svc, a := newTestService(t)
	a.Reply(dap.CommandSource, godap.SourceResponseBody{Content: "x = 1\n", MimeType: "text/x-python"})
	m := svc.Model()

	m.Breakpoints.Click(model.Breakpoint{Line: 1, Source: "/tmp/a.py"})

	require.Eventually(t, func() bool {
		_, ok := m.Sources.Current()
		return ok
	}, waitFor, tick)
	src, _ := m.Sources.Current()
	assert.Equal(t, "/tmp/a.py", src.Path)
	assert.Equal(t, "x = 1\n", src.Content)
	assert.Equal(t, "text/x-python", src.MimeType)
}

func TestServiceGetSourceFailure(t *testing.T) {
	svc, a := newTestService(t)
	a.Fail(dap.CommandSource, "no such file")

	_, err := svc.GetSource(context.Background(), "/tmp/missing.py")
	require.Error(t, err)
	assert.True(t, dap.IsRequestError(err))
}

func TestServiceEvaluate(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	a.Reply(dap.CommandEvaluate, godap.EvaluateResponseBody{Result: "2"})
	m := svc.Model()

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, m)
	before := a.Count(dap.CommandStackTrace)

	resp, err := svc.Evaluate(context.Background(), "x + 1")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	var args godap.EvaluateArguments
	require.NoError(t, a.RequestsFor(dap.CommandEvaluate)[0].Decode(&args))
	assert.Equal(t, 7, args.FrameId)
	assert.Equal(t, "repl", args.Context)
	assert.Equal(t, before+1, a.Count(dap.CommandStackTrace))
	waitScopes(t, m)
}

func TestServiceEvaluateUnsuccessfulReply(t *testing.T) {
	svc, a := newTestService(t)
	a.Fail(dap.CommandEvaluate, "unable to find thread")

	resp, err := svc.Evaluate(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "unable to find thread", resp.Message)
}

func TestServiceCopyToGlobals(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	m := svc.Model()

	assert.ErrorIs(t, svc.CopyToGlobals(context.Background(), "x"), ErrCopyToGlobalsUnsupported)

	m.SetSupports(false, true)
	assert.ErrorIs(t, svc.CopyToGlobals(context.Background(), "x"), ErrNoStoppedThread)

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, m)

	require.NoError(t, svc.CopyToGlobals(context.Background(), "x"))
	var args dap.CopyToGlobalsArguments
	require.NoError(t, a.RequestsFor(dap.CommandCopyToGlobals)[0].Decode(&args))
	assert.Equal(t, dap.CopyToGlobalsArguments{SrcVariableName: "x", DstVariableName: "x", SrcFrameID: 7}, args)
}

func TestServiceInspectKernelVariables(t *testing.T) {
	svc, a := newTestService(t)
	a.Reply(dap.CommandInspectVariables, dap.InspectVariablesResponseBody{
		Variables: []godap.Variable{{Name: "df", Value: "DataFrame", Type: "DataFrame"}},
	})

	vars, err := svc.InspectKernelVariables(context.Background())
	require.NoError(t, err)
	require.Len(t, vars, 1)

	scopes := svc.Model().Variables.Scopes()
	require.Len(t, scopes, 1)
	assert.Equal(t, "Globals", scopes[0].Name)
	assert.Equal(t, "df", scopes[0].Variables[0].Name)
}

func TestServiceSetSessionDisposesPrevious(t *testing.T) {
	svc, first := newTestService(t)
	require.NoError(t, svc.Start(context.Background()))

	var changed []*dap.Session
	svc.SessionChanged().Subscribe(func(s *dap.Session) { changed = append(changed, s) })

	second := daptest.New()
	next := dap.NewSession(second.Dialer())
	svc.SetSession(next)
	svc.SetSession(next)

	assert.True(t, first.Closed())
	assert.Same(t, next, svc.Session())
	require.Len(t, changed, 1)
	assert.Same(t, next, changed[0])
}

func TestServiceSetModel(t *testing.T) {
	svc, a := newTestService(t)
	scriptStoppedKernel(a)
	old := svc.Model()

	var changed []*model.Model
	svc.ModelChanged().Subscribe(func(m *model.Model) { changed = append(changed, m) })

	next := model.New()
	svc.SetModel(next)
	require.Len(t, changed, 1)
	assert.Same(t, next, changed[0])

	a.Emit(dap.EventStopped, godap.StoppedEventBody{ThreadId: 1})
	waitScopes(t, next)
	assert.False(t, old.HasStoppedThreads())
}

func TestServiceNoSession(t *testing.T) {
	svc := NewService()
	defer svc.Dispose()
	ctx := context.Background()

	assert.ErrorIs(t, svc.Start(ctx), ErrNoSession)
	assert.ErrorIs(t, svc.Stop(ctx), ErrNoSession)
	assert.ErrorIs(t, svc.RestoreState(ctx, true), ErrNoSession)
	_, err := svc.Evaluate(ctx, "1")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, svc.IsStarted())

	svc.Continue(ctx)
}

func TestServiceDispose(t *testing.T) {
	svc, a := newTestService(t)
	require.NoError(t, svc.Start(context.Background()))

	svc.Dispose()
	svc.Dispose()

	assert.True(t, a.Closed())
	assert.Nil(t, svc.Session())
}
