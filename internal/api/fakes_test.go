package api

import (
	"context"
	"sync"

	"github.com/ashureev/voicewidget/internal/domain"
	"github.com/ashureev/voicewidget/internal/realtime"
	"github.com/ashureev/voicewidget/internal/widget"
)

type fakeWidget struct {
	mu        sync.Mutex
	view      widget.View
	data      any
	history   any
	intents   []widget.Intent
	deadlines []bool
	listeners map[int]widget.Listener
	nextID    int
}

func newFakeWidget() *fakeWidget {
	return &fakeWidget{
		view:      widget.View{Visibility: widget.VisibilityReady, AgentName: "Ava"},
		data:      map[string]any{},
		listeners: map[int]widget.Listener{},
	}
}

func (f *fakeWidget) View() widget.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeWidget) Data() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

func (f *fakeWidget) History() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history
}

func (f *fakeWidget) SetData(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = v
}

func (f *fakeWidget) SetHistory(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = v
}

func (f *fakeWidget) HandleIntent(ctx context.Context, intent widget.Intent) {
	_, hasDeadline := ctx.Deadline()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	f.deadlines = append(f.deadlines, hasDeadline && ctx.Err() == nil)
	if intent == widget.IntentStart {
		f.view.State = widget.StateConnecting
		f.view.ModalOpen = true
		f.view.Status = widget.StatusConnecting
	}
}

func (f *fakeWidget) AddEventListener(_ string, fn widget.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeWidget) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeWidget) fire(ev realtime.Event) {
	f.mu.Lock()
	fns := make([]widget.Listener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeWidget) SessionID() string          { return "sess-1" }
func (f *fakeWidget) AgentID() string            { return "agent-1" }
func (f *fakeWidget) AccountID() string          { return "acct-1" }
func (f *fakeWidget) Config() *domain.AgentConfig { return &domain.AgentConfig{ID: "agent-1", Name: "Ava"} }
