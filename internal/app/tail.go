package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/kdbg/internal/integration/debug/dap"
)

// tailFields are the event body fields printed by the event tail, in order.
var tailFields = []string{
	"reason",
	"threadId",
	"allThreadsStopped",
	"category",
	"output",
	"exitCode",
	"breakpoint.id",
	"breakpoint.line",
	"breakpoint.verified",
}

// tail restores the kernel's debugger state and prints adapter events
// until ctx is done.
func (app *Application) tail(ctx context.Context) error {
	p := &eventPrinter{w: app.opts.Stdout, now: time.Now}
	sub := app.service.EventMessage().Subscribe(p.print)
	defer sub.Cancel()

	autoStart := app.Config().Debugger.AutoStart
	if err := app.service.RestoreState(ctx, autoStart); err != nil {
		return NewOperationError("restore state", app.session.ID(), err)
	}

	m := app.service.Model()
	app.logger.Info("attached: started=%t stopped=%v breakpoints in %d sources",
		app.session.IsStarted(), m.StoppedThreads(), len(m.Breakpoints.All()))

	<-ctx.Done()
	return nil
}

// eventPrinter writes one line per adapter event.
type eventPrinter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func (p *eventPrinter) print(evt *dap.Event) {
	line := formatEvent(evt)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", p.now().Format("15:04:05.000"), line)
}

// formatEvent renders the event name followed by the known body fields
// that are present.
func formatEvent(evt *dap.Event) string {
	var b strings.Builder
	b.WriteString(evt.Event)
	if len(evt.Body) == 0 || !gjson.ValidBytes(evt.Body) {
		return b.String()
	}
	for _, field := range tailFields {
		v := gjson.GetBytes(evt.Body, field)
		if !v.Exists() {
			continue
		}
		value := v.String()
		if v.Type == gjson.String {
			value = fmt.Sprintf("%q", strings.TrimRight(value, "\n"))
		}
		fmt.Fprintf(&b, " %s=%s", field, value)
	}
	return b.String()
}
