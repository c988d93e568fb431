package dap

import (
	"encoding/json"
	"fmt"

	godap "github.com/google/go-dap"
	"github.com/tidwall/gjson"
)

// Reply is the decoded result of a request. Body holds the command's typed
// result: *godap.SetBreakpointsResponseBody for setBreakpoints,
// *DumpCellResponseBody for dumpCell, and so on. Commands whose replies carry
// no body leave it nil, as do unsuccessful replies. Replies to commands this
// package does not know keep the raw json.RawMessage.
type Reply struct {
	Seq     int
	Command string
	Success bool
	Message string
	Body    any
}

// fieldKind is the JSON kind a required reply field must have.
type fieldKind int

const (
	kindArray fieldKind = iota
	kindString
	kindNumber
)

func (k fieldKind) String() string {
	switch k {
	case kindArray:
		return "array"
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	default:
		return "unknown"
	}
}

type requiredField struct {
	path string
	kind fieldKind
}

type replyShape struct {
	newBody  func() any
	required []requiredField
}

var replyShapes = map[string]replyShape{
	CommandInitialize: {
		newBody: func() any { return new(godap.Capabilities) },
	},
	CommandSetBreakpoints: {
		newBody:  func() any { return new(godap.SetBreakpointsResponseBody) },
		required: []requiredField{{"breakpoints", kindArray}},
	},
	CommandStackTrace: {
		newBody:  func() any { return new(godap.StackTraceResponseBody) },
		required: []requiredField{{"stackFrames", kindArray}},
	},
	CommandScopes: {
		newBody:  func() any { return new(godap.ScopesResponseBody) },
		required: []requiredField{{"scopes", kindArray}},
	},
	CommandVariables: {
		newBody:  func() any { return new(godap.VariablesResponseBody) },
		required: []requiredField{{"variables", kindArray}},
	},
	CommandSource: {
		newBody:  func() any { return new(godap.SourceResponseBody) },
		required: []requiredField{{"content", kindString}},
	},
	CommandEvaluate: {
		newBody:  func() any { return new(godap.EvaluateResponseBody) },
		required: []requiredField{{"result", kindString}},
	},
	CommandContinue: {
		newBody: func() any { return new(godap.ContinueResponseBody) },
	},
	CommandDumpCell: {
		newBody:  func() any { return new(DumpCellResponseBody) },
		required: []requiredField{{"sourcePath", kindString}},
	},
	CommandUpdateCell: {
		newBody:  func() any { return new(DumpCellResponseBody) },
		required: []requiredField{{"sourcePath", kindString}},
	},
	CommandDebugInfo: {
		newBody: func() any { return new(DebugInfoResponseBody) },
		required: []requiredField{
			{"hashMethod", kindString},
			{"hashSeed", kindNumber},
			{"tmpFilePrefix", kindString},
			{"tmpFileSuffix", kindString},
			{"breakpoints", kindArray},
			{"stoppedThreads", kindArray},
		},
	},
	CommandInspectVariables: {
		newBody:  func() any { return new(InspectVariablesResponseBody) },
		required: []requiredField{{"variables", kindArray}},
	},
	CommandAttach:            {},
	CommandDisconnect:        {},
	CommandConfigurationDone: {},
	CommandNext:              {},
	CommandStepIn:            {},
	CommandStepOut:           {},
	CommandPause:             {},
	CommandCopyToGlobals:     {},
}

// Decode validates the reply body against the command's expected shape and
// returns the typed result. Unsuccessful replies decode without error.
func (r *Response) Decode() (*Reply, error) {
	reply := &Reply{
		Seq:     r.RequestSeq,
		Command: r.Command,
		Success: r.Success,
		Message: r.Message,
	}
	if !r.Success {
		return reply, nil
	}

	shape, known := replyShapes[r.Command]
	if !known {
		reply.Body = r.Body
		return reply, nil
	}
	if shape.newBody == nil {
		return reply, nil
	}

	if err := checkShape(r.Command, r.Body, shape.required); err != nil {
		return nil, err
	}

	body := shape.newBody()
	if len(r.Body) > 0 {
		if err := json.Unmarshal(r.Body, body); err != nil {
			return nil, &ProtocolViolationError{Command: r.Command, Reason: err.Error()}
		}
	}
	reply.Body = body
	return reply, nil
}

func checkShape(command string, body json.RawMessage, required []requiredField) error {
	if len(body) == 0 {
		if len(required) > 0 {
			return &ProtocolViolationError{Command: command, Reason: "missing body"}
		}
		return nil
	}
	if !gjson.ValidBytes(body) {
		return &ProtocolViolationError{Command: command, Reason: "body is not valid JSON"}
	}

	for _, f := range required {
		res := gjson.GetBytes(body, f.path)
		if !res.Exists() {
			return &ProtocolViolationError{Command: command, Reason: fmt.Sprintf("missing field %q", f.path)}
		}
		ok := false
		switch f.kind {
		case kindArray:
			ok = res.IsArray()
		case kindString:
			ok = res.Type == gjson.String
		case kindNumber:
			ok = res.Type == gjson.Number
		}
		if !ok {
			return &ProtocolViolationError{
				Command: command,
				Reason:  fmt.Sprintf("field %q is not a %s", f.path, f.kind),
			}
		}
	}
	return nil
}

// decodeAs decodes a reply that must have succeeded and carry a body of type T.
func decodeAs[T any](resp *Response) (*T, error) {
	if !resp.Success {
		return nil, &RequestError{Command: resp.Command, Message: resp.Message}
	}
	reply, err := resp.Decode()
	if err != nil {
		return nil, err
	}
	body, ok := reply.Body.(*T)
	if !ok {
		return nil, &ProtocolViolationError{
			Command: resp.Command,
			Reason:  fmt.Sprintf("unexpected body type %T", reply.Body),
		}
	}
	return body, nil
}

// requireSuccess turns an unsuccessful reply into a RequestError.
func requireSuccess(resp *Response) error {
	if !resp.Success {
		return &RequestError{Command: resp.Command, Message: resp.Message}
	}
	return nil
}
