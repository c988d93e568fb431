package mcpserver

import (
	"context"
	"errors"
	"fmt"

	godap "github.com/google/go-dap"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/kdbg/internal/integration/debug"
	"github.com/dshills/kdbg/internal/integration/debug/model"
)

// Tool names.
const (
	ToolStart            = "start"
	ToolStop             = "stop"
	ToolRestart          = "restart"
	ToolRestoreState     = "restore_state"
	ToolContinue         = "continue"
	ToolNext             = "next"
	ToolStepIn           = "step_in"
	ToolStepOut          = "step_out"
	ToolPause            = "pause"
	ToolSetBreakpoints   = "set_breakpoints"
	ToolClearBreakpoints = "clear_breakpoints"
	ToolStack            = "stack"
	ToolVariables        = "variables"
	ToolExpandVariable   = "expand_variable"
	ToolInspectVariable  = "inspect_variable"
	ToolSource           = "source"
	ToolEvaluate         = "evaluate"
	ToolCopyToGlobals    = "copy_to_globals"
	ToolStatus           = "status"
)

func (s *Server) registerTools() {
	s.add(mcp.NewTool(ToolStart,
		mcp.WithDescription("Start the debug session: initialize the adapter and attach to the kernel"),
	), s.lifecycle(s.svc.Start))

	s.add(mcp.NewTool(ToolStop,
		mcp.WithDescription("Stop the debug session and clear breakpoints, frames and variables"),
	), s.lifecycle(s.svc.Stop))

	s.add(mcp.NewTool(ToolRestart,
		mcp.WithDescription("Restart the debug session, keeping its breakpoints"),
	), s.lifecycle(s.svc.Restart))

	s.add(mcp.NewTool(ToolRestoreState,
		mcp.WithDescription("Synchronize with the kernel's debugger state: breakpoints, stopped threads and frames"),
		mcp.WithBoolean("auto_start",
			mcp.Description("Start the session if the kernel's debugger is not started yet"),
		),
	), s.handleRestoreState)

	s.add(mcp.NewTool(ToolContinue,
		mcp.WithDescription("Resume the current thread"),
	), s.step(s.svc.Continue))

	s.add(mcp.NewTool(ToolNext,
		mcp.WithDescription("Step over the current line"),
	), s.step(s.svc.Next))

	s.add(mcp.NewTool(ToolStepIn,
		mcp.WithDescription("Step into the call on the current line"),
	), s.step(s.svc.StepIn))

	s.add(mcp.NewTool(ToolStepOut,
		mcp.WithDescription("Run until the current function returns"),
	), s.step(s.svc.StepOut))

	s.add(mcp.NewTool(ToolPause,
		mcp.WithDescription("Pause the current thread"),
	), s.step(s.svc.Pause))

	s.add(mcp.NewTool(ToolSetBreakpoints,
		mcp.WithDescription("Replace the breakpoints of a cell or source file. "+
			"Pass the cell code to register it, or the path of an already known source"),
		mcp.WithArray("lines",
			mcp.Required(),
			mcp.Description("1-based line numbers"),
			mcp.Items(map[string]any{"type": "integer"}),
		),
		mcp.WithString("code",
			mcp.Description("Cell source code, registered with the kernel to obtain its path"),
		),
		mcp.WithString("path",
			mcp.Description("Source path, used instead of code"),
		),
	), s.handleSetBreakpoints)

	s.add(mcp.NewTool(ToolClearBreakpoints,
		mcp.WithDescription("Remove every breakpoint"),
	), s.handleClearBreakpoints)

	s.add(mcp.NewTool(ToolStack,
		mcp.WithDescription("Show the call stack of the current thread"),
		mcp.WithNumber("frame_id",
			mcp.Description("Make this frame current; its scopes are fetched next"),
		),
	), s.handleStack)

	s.add(mcp.NewTool(ToolVariables,
		mcp.WithDescription("Show the scopes of the current frame, or the kernel's variables when no thread is stopped"),
	), s.handleVariables)

	s.add(mcp.NewTool(ToolExpandVariable,
		mcp.WithDescription("Fetch the children of a variable and keep them in the variables view"),
		mcp.WithNumber("reference",
			mcp.Required(),
			mcp.Description("The variable's variablesReference"),
		),
	), s.handleExpandVariable)

	s.add(mcp.NewTool(ToolInspectVariable,
		mcp.WithDescription("Fetch the children of a variable without changing the variables view"),
		mcp.WithNumber("reference",
			mcp.Required(),
			mcp.Description("The variable's variablesReference"),
		),
	), s.handleInspectVariable)

	s.add(mcp.NewTool(ToolSource,
		mcp.WithDescription("Fetch the content of a source path"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Source path as reported in frames or breakpoints"),
		),
	), s.handleSource)

	s.add(mcp.NewTool(ToolEvaluate,
		mcp.WithDescription("Evaluate an expression in the current frame"),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Expression to evaluate"),
		),
	), s.handleEvaluate)

	s.add(mcp.NewTool(ToolCopyToGlobals,
		mcp.WithDescription("Copy a variable of the current frame into the kernel's globals"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Variable name"),
		),
	), s.handleCopyToGlobals)

	s.add(mcp.NewTool(ToolStatus,
		mcp.WithDescription("Show the session state, stopped threads and current frame"),
	), s.handleStatus)
}

// lifecycle adapts a session lifecycle verb to a tool.
func (s *Server) lifecycle(verb func(context.Context) error) handlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := verb(ctx); err != nil {
			return nil, err
		}
		return jsonResult(s.status())
	}
}

// step adapts an execution verb to a tool. The verbs only log failures, so
// the preconditions are checked here to tell the client what went wrong.
func (s *Server) step(verb func(context.Context)) handlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.svc.Session() == nil {
			return nil, debug.ErrNoSession
		}
		if s.svc.Model().CurrentThread() == 0 {
			return nil, debug.ErrNoStoppedThread
		}
		verb(ctx)
		return jsonResult(s.status())
	}
}

func (s *Server) handleRestoreState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	autoStart := req.GetBool("auto_start", s.config.AutoStart)
	if err := s.svc.RestoreState(ctx, autoStart); err != nil {
		return nil, err
	}
	return jsonResult(s.status())
}

func (s *Server) handleSetBreakpoints(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lines, err := req.RequireIntSlice("lines")
	if err != nil {
		return nil, err
	}
	code := req.GetString("code", "")
	path := req.GetString("path", "")
	if code == "" && path == "" {
		return nil, errors.New("either code or path is required")
	}

	bps := make([]model.Breakpoint, 0, len(lines))
	for _, line := range lines {
		if line < 1 {
			return nil, fmt.Errorf("invalid line %d", line)
		}
		bps = append(bps, model.Breakpoint{Line: line, Active: true})
	}

	path, err = s.svc.UpdateBreakpoints(ctx, code, bps, path)
	if err != nil {
		return nil, err
	}
	return jsonResult(breakpointsView{
		Path:        path,
		Breakpoints: nonNil(s.svc.Model().Breakpoints.Breakpoints(path)),
	})
}

func (s *Server) handleClearBreakpoints(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.ClearBreakpoints(ctx); err != nil {
		return nil, err
	}
	return jsonResult(s.status())
}

func (s *Server) handleStack(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := s.svc.Model()
	if !m.HasStoppedThreads() {
		return nil, debug.ErrNoStoppedThread
	}
	if id := req.GetInt("frame_id", 0); id != 0 {
		if !m.Callstack.SetCurrentFrame(id) {
			return nil, fmt.Errorf("no frame %d in the call stack", id)
		}
	}

	view := stackView{
		Thread: m.CurrentThread(),
		Frames: nonNil(m.Callstack.Frames()),
	}
	if frame, ok := m.Callstack.CurrentFrame(); ok {
		view.CurrentFrame = frame.ID
	}
	return jsonResult(view)
}

func (s *Server) handleVariables(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := s.svc.Model()
	if m.HasStoppedThreads() {
		return jsonResult(variablesView{Scopes: nonNil(m.Variables.Scopes())})
	}
	if _, err := s.svc.InspectKernelVariables(ctx); err != nil {
		return nil, err
	}
	return jsonResult(variablesView{Scopes: nonNil(m.Variables.Scopes())})
}

func (s *Server) handleExpandVariable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireInt("reference")
	if err != nil {
		return nil, err
	}
	children, err := s.svc.ExpandVariable(ctx, ref)
	if err != nil {
		return nil, err
	}
	return jsonResult(childrenView{Reference: ref, Variables: nonNil(children)})
}

func (s *Server) handleInspectVariable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireInt("reference")
	if err != nil {
		return nil, err
	}
	children, err := s.svc.InspectVariable(ctx, ref)
	if err != nil {
		return nil, err
	}
	return jsonResult(childrenView{Reference: ref, Variables: nonNil(children)})
}

func (s *Server) handleSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}
	src, err := s.svc.GetSource(ctx, path)
	if err != nil {
		return nil, err
	}
	return jsonResult(src)
}

func (s *Server) handleEvaluate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr, err := req.RequireString("expression")
	if err != nil {
		return nil, err
	}
	resp, err := s.svc.Evaluate(ctx, expr)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return mcp.NewToolResultError(fmt.Sprintf("evaluate %q: %s", expr, resp.Message)), nil
	}

	reply, err := resp.Decode()
	if err != nil {
		return nil, err
	}
	view := evaluateView{Expression: expr}
	if body, ok := reply.Body.(*godap.EvaluateResponseBody); ok {
		view.Result = body.Result
		view.Type = body.Type
		view.VariablesReference = body.VariablesReference
	}
	return jsonResult(view)
}

func (s *Server) handleCopyToGlobals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return nil, err
	}
	if err := s.svc.CopyToGlobals(ctx, name); err != nil {
		return nil, err
	}
	return jsonResult(s.status())
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.status())
}
