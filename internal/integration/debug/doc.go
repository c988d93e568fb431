// Package debug drives a kernel's debugger through the Debug Adapter
// Protocol.
//
// A Service owns one dap.Session and one model.Model. Adapter events flow
// from the session into the service, which applies them to the model; the
// model then notifies whoever renders it. Debugging verbs flow the other
// way: a caller invokes a verb on the service, the service sends requests
// through the session and stores the replies in the model.
//
// # Architecture
//
//	┌────────────┐  verbs   ┌─────────────────┐ requests ┌──────────────┐
//	│  callers   │ ───────▶ │     Service     │ ───────▶ │ dap.Session  │
//	│ (MCP, CLI) │          │  event goroutine│ ◀─────── │   adapter    │
//	└────────────┘          └─────────────────┘  events  └──────────────┘
//	      ▲                          │
//	      │      notifications       ▼
//	      └──────────────────  model.Model
//
// # Refresh pipeline
//
// A stopped event adds the thread to the stopped set and makes it the
// current thread. The service then requests the thread's stack trace and
// replaces the callstack; the top frame becomes current. Every change of
// current frame requests that frame's scopes and their variables and
// replaces the scope list. When a newer refresh starts before an older one
// finished, only the newer result is applied.
//
// A continued event removes the thread and clears frames and scopes until
// the next stop.
//
// # Usage
//
//	session := dap.NewSession(dap.TCPDialer("127.0.0.1:5678"))
//	svc := debug.NewService(debug.WithSession(session))
//	defer svc.Dispose()
//
//	if err := svc.RestoreState(ctx, true); err != nil {
//	    return err
//	}
//	path, err := svc.UpdateBreakpoints(ctx, "x = 1\ny = 2\n", []model.Breakpoint{{Line: 2}}, "")
//
//	// Later, once a thread stopped
//	svc.Next(ctx)
//	scopes := svc.Model().Variables.Scopes()
//
// # Subpackages
//
//   - dap: transports, envelopes and the Session
//   - model: breakpoints, callstack, variables and sources
//   - codeid: synthetic source paths for code fragments
//   - adapters: dialers built from adapter configuration
package debug
