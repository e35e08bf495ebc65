// Package console renders the widget in a terminal and reads user intents from a line
// based input.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ashureev/voicewidget/internal/realtime"
	"github.com/ashureev/voicewidget/internal/widget"
)

// Presenter prints a status line whenever the rendered view changes.
type Presenter struct {
	mu    sync.Mutex
	out   io.Writer
	last  widget.View
	shown bool
}

// NewPresenter creates a presenter writing to out.
func NewPresenter(out io.Writer) *Presenter {
	return &Presenter{out: out}
}

// Render implements widget.Presenter.
func (p *Presenter) Render(v widget.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shown && v == p.last {
		return
	}
	p.last, p.shown = v, true
	fmt.Fprintln(p.out, StatusLine(v))
}

// StatusLine formats v as a single line.
func StatusLine(v widget.View) string {
	if v.Visibility != widget.VisibilityReady {
		return "[" + v.Visibility.String() + "]"
	}

	var b strings.Builder
	name := v.AgentName
	if name == "" {
		name = "agent"
	}
	fmt.Fprintf(&b, "[%s] %s", v.State, name)
	if v.Status != "" {
		b.WriteString(": ")
		b.WriteString(v.Status)
	}
	if v.Muted {
		b.WriteString(" (muted)")
	}
	if v.Speaking {
		b.WriteString(" (speaking)")
	}
	return b.String()
}

// PrintTranscripts subscribes to w and prints finished utterances, guardrail trips and
// errors to out. The returned function unsubscribes.
func PrintTranscripts(w *widget.Widget, out io.Writer) (stop func()) {
	var mu sync.Mutex
	return w.AddEventListener(widget.AllEvents, func(ev realtime.Event) {
		var line string
		switch ev.Type {
		case realtime.EventInputTranscriptComplete:
			line = "you: " + ev.Transcript()
		case realtime.EventOutputTranscriptDone, realtime.EventLegacyTranscriptDone:
			name := w.View().AgentName
			if name == "" {
				name = "agent"
			}
			line = name + ": " + ev.Transcript()
		case widget.EventGuardrailTripped:
			var g widget.GuardrailTripped
			if ev.Decode(&g) == nil {
				line = fmt.Sprintf("! blocked phrase %q", g.Phrase)
			}
		case widget.EventError:
			var e struct {
				Message string `json:"message"`
			}
			if ev.Decode(&e) == nil && e.Message != "" {
				line = "! " + e.Message
			}
		case widget.EventConversationEnded:
			var ended widget.ConversationEnded
			if ev.Decode(&ended) == nil {
				line = fmt.Sprintf("-- conversation ended (%s, %.1fs, %d turns)",
					ended.Trigger, float64(ended.DurationMs)/1000, len(ended.Transcript))
			}
		}
		if line == "" {
			return
		}
		mu.Lock()
		fmt.Fprintln(out, line)
		mu.Unlock()
	})
}

// Controller receives intents.
type Controller interface {
	HandleIntent(ctx context.Context, intent widget.Intent)
}

const help = "commands: start, stop, mute, esc, quit"

// ReadIntents dispatches one intent per input line until quit, end of input or ctx ends.
// Unknown commands print the command list to out.
func ReadIntents(ctx context.Context, in io.Reader, c Controller, out io.Writer) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		errc <- sc.Err()
	}()

	fmt.Fprintln(out, help)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			cmd := strings.ToLower(strings.TrimSpace(line))
			switch cmd {
			case "":
				continue
			case "quit", "exit", "q":
				return nil
			}
			intent, ok := widget.ParseIntent(cmd)
			if !ok {
				fmt.Fprintln(out, help)
				continue
			}
			c.HandleIntent(ctx, intent)
		}
	}
}
