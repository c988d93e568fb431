package dap

import (
	"encoding/json"

	godap "github.com/google/go-dap"
)

// Message types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Commands sent to the adapter.
const (
	CommandInitialize        = "initialize"
	CommandAttach            = "attach"
	CommandDisconnect        = "disconnect"
	CommandConfigurationDone = "configurationDone"
	CommandSetBreakpoints    = "setBreakpoints"
	CommandContinue          = "continue"
	CommandNext              = "next"
	CommandStepIn            = "stepIn"
	CommandStepOut           = "stepOut"
	CommandPause             = "pause"
	CommandStackTrace        = "stackTrace"
	CommandScopes            = "scopes"
	CommandVariables         = "variables"
	CommandSource            = "source"
	CommandEvaluate          = "evaluate"
	CommandDumpCell          = "dumpCell"
	CommandUpdateCell        = "updateCell"
	CommandDebugInfo         = "debugInfo"
	CommandInspectVariables  = "inspectVariables"
	CommandCopyToGlobals     = "copyToGlobals"
)

// Events received from the adapter.
const (
	EventInitialized = "initialized"
	EventStopped     = "stopped"
	EventContinued   = "continued"
	EventThread      = "thread"
	EventOutput      = "output"
	EventProcess     = "process"
	EventExited      = "exited"
	EventTerminated  = "terminated"
	EventBreakpoint  = "breakpoint"
)

// Request is an outgoing request envelope.
type Request struct {
	godap.ProtocolMessage
	Command   string `json:"command"`
	Arguments any    `json:"arguments,omitempty"`
}

// Response is an incoming reply envelope. Body is kept raw until the caller
// asks for the command's typed result.
type Response struct {
	godap.ProtocolMessage
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Command    string          `json:"command"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Event is an unsolicited adapter notification.
type Event struct {
	godap.ProtocolMessage
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// DecodeBody unmarshals the event body into v.
func (e *Event) DecodeBody(v any) error {
	if len(e.Body) == 0 {
		return nil
	}
	return json.Unmarshal(e.Body, v)
}

// SetBreakpointsArguments mirrors the protocol type but never omits the
// breakpoints list.
type SetBreakpointsArguments struct {
	Source         godap.Source             `json:"source"`
	Breakpoints    []godap.SourceBreakpoint `json:"breakpoints"`
	SourceModified bool                     `json:"sourceModified"`
}

// DumpCellArguments registers a code fragment with the adapter.
type DumpCellArguments struct {
	Code string `json:"code"`
}

// DumpCellResponseBody carries the synthetic path assigned to a fragment.
type DumpCellResponseBody struct {
	SourcePath string `json:"sourcePath"`
}

// SourceBreakpoints groups the breakpoints the adapter holds for one source.
type SourceBreakpoints struct {
	Source      string                   `json:"source"`
	Breakpoints []godap.SourceBreakpoint `json:"breakpoints"`
}

// DebugInfoResponseBody is the adapter's state dump used to restore a session.
// IsStarted is nil when the adapter does not report it.
type DebugInfoResponseBody struct {
	IsStarted      *bool               `json:"isStarted,omitempty"`
	HashMethod     string              `json:"hashMethod"`
	HashSeed       uint32              `json:"hashSeed"`
	TmpFilePrefix  string              `json:"tmpFilePrefix"`
	TmpFileSuffix  string              `json:"tmpFileSuffix"`
	Breakpoints    []SourceBreakpoints `json:"breakpoints"`
	StoppedThreads []int               `json:"stoppedThreads"`
	RichRendering  bool                `json:"richRendering,omitempty"`
	ExceptionPaths []string            `json:"exceptionPaths,omitempty"`
	CopyToGlobals  bool                `json:"copyToGlobals,omitempty"`
}

// InspectVariablesResponseBody lists the kernel's top-level variables.
type InspectVariablesResponseBody struct {
	Variables []godap.Variable `json:"variables"`
}

// CopyToGlobalsArguments copies a frame-local variable into the global scope.
type CopyToGlobalsArguments struct {
	SrcVariableName string `json:"srcVariableName"`
	DstVariableName string `json:"dstVariableName"`
	SrcFrameID      int    `json:"srcFrameId"`
}
