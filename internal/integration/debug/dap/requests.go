package dap

import (
	"context"

	godap "github.com/google/go-dap"
)

// Typed request helpers. Each returns a *RequestError when the adapter
// replies with success=false and a *ProtocolViolationError when the reply
// body does not have the expected shape.

// ConfigurationDone signals the end of breakpoint configuration.
func (s *Session) ConfigurationDone(ctx context.Context) error {
	resp, err := s.SendRequest(ctx, CommandConfigurationDone, struct{}{})
	if err != nil {
		return err
	}
	return requireSuccess(resp)
}

// RegisterCode sends a code fragment with command (dumpCell or updateCell)
// and returns the source path the adapter assigned to it.
func (s *Session) RegisterCode(ctx context.Context, command, code string) (string, error) {
	if command == "" {
		command = CommandDumpCell
	}
	resp, err := s.SendRequest(ctx, command, DumpCellArguments{Code: code})
	if err != nil {
		return "", err
	}
	body, err := decodeAs[DumpCellResponseBody](resp)
	if err != nil {
		return "", err
	}
	return body.SourcePath, nil
}

// SetBreakpoints replaces the adapter's breakpoints for path and returns the
// breakpoints it confirmed.
func (s *Session) SetBreakpoints(ctx context.Context, path string, bps []godap.SourceBreakpoint) ([]godap.Breakpoint, error) {
	if bps == nil {
		bps = []godap.SourceBreakpoint{}
	}
	resp, err := s.SendRequest(ctx, CommandSetBreakpoints, SetBreakpointsArguments{
		Source:         godap.Source{Path: path},
		Breakpoints:    bps,
		SourceModified: false,
	})
	if err != nil {
		return nil, err
	}
	body, err := decodeAs[godap.SetBreakpointsResponseBody](resp)
	if err != nil {
		return nil, err
	}
	return body.Breakpoints, nil
}

// StackTrace returns the frames of threadID, topmost first.
func (s *Session) StackTrace(ctx context.Context, threadID int) ([]godap.StackFrame, error) {
	resp, err := s.SendRequest(ctx, CommandStackTrace, godap.StackTraceArguments{ThreadId: threadID})
	if err != nil {
		return nil, err
	}
	body, err := decodeAs[godap.StackTraceResponseBody](resp)
	if err != nil {
		return nil, err
	}
	return body.StackFrames, nil
}

// Scopes returns the scopes visible in frameID.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]godap.Scope, error) {
	resp, err := s.SendRequest(ctx, CommandScopes, godap.ScopesArguments{FrameId: frameID})
	if err != nil {
		return nil, err
	}
	body, err := decodeAs[godap.ScopesResponseBody](resp)
	if err != nil {
		return nil, err
	}
	return body.Scopes, nil
}

// Variables returns the children behind a variables reference.
func (s *Session) Variables(ctx context.Context, ref int) ([]godap.Variable, error) {
	resp, err := s.SendRequest(ctx, CommandVariables, godap.VariablesArguments{VariablesReference: ref})
	if err != nil {
		return nil, err
	}
	body, err := decodeAs[godap.VariablesResponseBody](resp)
	if err != nil {
		return nil, err
	}
	return body.Variables, nil
}

// Source fetches the content of the source at path.
func (s *Session) Source(ctx context.Context, path string) (*godap.SourceResponseBody, error) {
	resp, err := s.SendRequest(ctx, CommandSource, godap.SourceArguments{
		Source: &godap.Source{Path: path},
	})
	if err != nil {
		return nil, err
	}
	return decodeAs[godap.SourceResponseBody](resp)
}

// Continue resumes threadID.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	return s.threadRequest(ctx, CommandContinue, godap.ContinueArguments{ThreadId: threadID})
}

// Next steps over the current line of threadID.
func (s *Session) Next(ctx context.Context, threadID int) error {
	return s.threadRequest(ctx, CommandNext, godap.NextArguments{ThreadId: threadID})
}

// StepIn steps into the call at the current line of threadID.
func (s *Session) StepIn(ctx context.Context, threadID int) error {
	return s.threadRequest(ctx, CommandStepIn, godap.StepInArguments{ThreadId: threadID})
}

// StepOut runs threadID until the current function returns.
func (s *Session) StepOut(ctx context.Context, threadID int) error {
	return s.threadRequest(ctx, CommandStepOut, godap.StepOutArguments{ThreadId: threadID})
}

// Pause suspends threadID.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	return s.threadRequest(ctx, CommandPause, godap.PauseArguments{ThreadId: threadID})
}

func (s *Session) threadRequest(ctx context.Context, command string, args any) error {
	resp, err := s.SendRequest(ctx, command, args)
	if err != nil {
		return err
	}
	return requireSuccess(resp)
}

// Evaluate evaluates expression in frameID. The raw reply is returned so
// callers can report success=false messages.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*Response, error) {
	if evalContext == "" {
		evalContext = "repl"
	}
	return s.SendRequest(ctx, CommandEvaluate, godap.EvaluateArguments{
		Expression: expression,
		FrameId:    frameID,
		Context:    evalContext,
	})
}

// CopyToGlobals copies a frame variable into the kernel's global scope.
func (s *Session) CopyToGlobals(ctx context.Context, args CopyToGlobalsArguments) error {
	resp, err := s.SendRequest(ctx, CommandCopyToGlobals, args)
	if err != nil {
		return err
	}
	return requireSuccess(resp)
}

// InspectVariables lists the kernel's variables without requiring a
// stopped thread.
func (s *Session) InspectVariables(ctx context.Context) ([]godap.Variable, error) {
	resp, err := s.SendRequest(ctx, CommandInspectVariables, struct{}{})
	if err != nil {
		return nil, err
	}
	body, err := decodeAs[InspectVariablesResponseBody](resp)
	if err != nil {
		return nil, err
	}
	return body.Variables, nil
}
