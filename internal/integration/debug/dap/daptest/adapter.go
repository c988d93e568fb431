// Package daptest provides a scripted in-memory debug adapter for tests.
package daptest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/dshills/kdbg/internal/integration/debug/dap"
)

// Request is a request the adapter received.
type Request struct {
	Seq       int
	Command   string
	Arguments json.RawMessage
}

// Decode unmarshals the request arguments into v.
func (r Request) Decode(v any) error {
	if len(r.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(r.Arguments, v)
}

// Handler answers one request. A non-nil error becomes a success=false reply
// carrying the error text.
type Handler func(req Request) (body any, err error)

// Adapter implements dap.Transport. Requests are answered by the handler
// registered for their command, or with an empty successful reply.
type Adapter struct {
	mu       sync.Mutex
	handlers map[string]Handler
	held     map[string]bool
	requests []Request
	recv     chan *dap.Message
	closed   bool
	seq      int
	sendErr  error
}

// New creates an adapter.
func New() *Adapter {
	return &Adapter{
		handlers: make(map[string]Handler),
		held:     make(map[string]bool),
		recv:     make(chan *dap.Message, 1024),
	}
}

// Dialer returns a dialer that always yields a.
func (a *Adapter) Dialer() dap.Dialer {
	return dap.DialerFunc(func(context.Context) (dap.Transport, error) {
		return a, nil
	})
}

// Handle registers h for command.
func (a *Adapter) Handle(command string, h Handler) {
	a.mu.Lock()
	a.handlers[command] = h
	a.mu.Unlock()
}

// Reply answers every command request with body.
func (a *Adapter) Reply(command string, body any) {
	a.Handle(command, func(Request) (any, error) { return body, nil })
}

// Fail answers every command request with success=false and message.
func (a *Adapter) Fail(command, message string) {
	a.Handle(command, func(Request) (any, error) { return nil, errors.New(message) })
}

// Hold stops the adapter from answering command until Release.
func (a *Adapter) Hold(command string) {
	a.mu.Lock()
	a.held[command] = true
	a.mu.Unlock()
}

// Release lets the adapter answer command again.
func (a *Adapter) Release(command string) {
	a.mu.Lock()
	delete(a.held, command)
	a.mu.Unlock()
}

// FailSends makes every later Send return err.
func (a *Adapter) FailSends(err error) {
	a.mu.Lock()
	a.sendErr = err
	a.mu.Unlock()
}

// Send implements dap.Transport.
func (a *Adapter) Send(msg *dap.Message) error {
	var req struct {
		godap.ProtocolMessage
		Command   string          `json:"command"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Content, &req); err != nil {
		return err
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return io.ErrClosedPipe
	}
	if a.sendErr != nil {
		err := a.sendErr
		a.mu.Unlock()
		return err
	}
	r := Request{Seq: req.Seq, Command: req.Command, Arguments: req.Arguments}
	a.requests = append(a.requests, r)
	held := a.held[req.Command]
	h := a.handlers[req.Command]
	a.mu.Unlock()

	if held {
		return nil
	}

	var body any
	var err error
	if h != nil {
		body, err = h(r)
	}
	if err != nil {
		a.Respond(r, false, err.Error(), nil)
	} else {
		a.Respond(r, true, "", body)
	}
	return nil
}

// Respond queues a reply to req. It is how tests answer held requests.
func (a *Adapter) Respond(req Request, success bool, message string, body any) {
	a.RespondSeq(req.Seq, req.Command, success, message, body)
}

// RespondSeq queues a reply for an arbitrary request_seq.
func (a *Adapter) RespondSeq(requestSeq int, command string, success bool, message string, body any) {
	var raw json.RawMessage
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	a.push(func(seq int) any {
		return dap.Response{
			ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: dap.TypeResponse},
			RequestSeq:      requestSeq,
			Success:         success,
			Command:         command,
			Message:         message,
			Body:            raw,
		}
	})
}

// Emit queues an event.
func (a *Adapter) Emit(name string, body any) {
	var raw json.RawMessage
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	a.push(func(seq int) any {
		return dap.Event{
			ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: dap.TypeEvent},
			Event:           name,
			Body:            raw,
		}
	})
}

// EmitRaw queues content exactly as given.
func (a *Adapter) EmitRaw(content []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.recv <- &dap.Message{Content: content}
}

func (a *Adapter) push(build func(seq int) any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.seq++
	content, err := json.Marshal(build(a.seq))
	if err != nil {
		return
	}
	a.recv <- &dap.Message{Content: content}
}

// Receive implements dap.Transport.
func (a *Adapter) Receive() (*dap.Message, error) {
	msg, ok := <-a.recv
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

// Close implements dap.Transport.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.recv)
	}
	return nil
}

// Closed reports whether Close has been called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Requests returns every request received so far.
func (a *Adapter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Request(nil), a.requests...)
}

// Commands returns the command of every request received so far.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.requests))
	for i, r := range a.requests {
		out[i] = r.Command
	}
	return out
}

// RequestsFor returns the requests received for command.
func (a *Adapter) RequestsFor(command string) []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Request
	for _, r := range a.requests {
		if r.Command == command {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many command requests were received.
func (a *Adapter) Count(command string) int {
	return len(a.RequestsFor(command))
}

// Reset forgets recorded requests.
func (a *Adapter) Reset() {
	a.mu.Lock()
	a.requests = nil
	a.mu.Unlock()
}
