package widget

import "sync"

// Host attribute names read at attachment.
const (
	AttrAgentID   = "agent-id"
	AttrAccountID = "account-id"
)

// Validated property names.
const (
	PropData    = "data"
	PropHistory = "history"
)

// Element is the host-provided object the widget is attached to. Properties assigned
// before Upgrade are held and re-applied through the validated setters; after Upgrade,
// the validated properties route straight to the widget.
type Element struct {
	mu     sync.Mutex
	attrs  map[string]string
	props  map[string]any
	widget *Widget
}

// NewElement creates an element with the given attributes.
func NewElement(attrs map[string]string) *Element {
	e := &Element{attrs: make(map[string]string), props: make(map[string]any)}
	for k, v := range attrs {
		e.attrs[k] = v
	}
	return e
}

// SetAttribute sets a host attribute.
func (e *Element) SetAttribute(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attrs[name] = value
}

// Attribute returns a host attribute, or "" when unset.
func (e *Element) Attribute(name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attrs[name]
}

// SetProperty assigns a property on the element.
func (e *Element) SetProperty(name string, v any) {
	e.mu.Lock()
	w := e.widget
	if w == nil || !isValidatedProperty(name) {
		e.props[name] = v
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	w.setProperty(name, v)
}

// Property reads a property from the element.
func (e *Element) Property(name string) any {
	e.mu.Lock()
	w := e.widget
	if w == nil || !isValidatedProperty(name) {
		defer e.mu.Unlock()
		return e.props[name]
	}
	e.mu.Unlock()
	return w.property(name)
}

// Widget returns the upgraded widget, or nil before Upgrade.
func (e *Element) Widget() *Widget {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.widget
}

// Upgrade attaches widget behavior to el. The widget is constructed with defaults, every
// value assigned to el beforehand is re-applied through the validated setters, and el is
// bound so later assignments reach the widget directly. Upgrading an element twice
// returns the existing widget.
func Upgrade(el *Element, deps Deps) *Widget {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.widget != nil {
		return el.widget
	}

	w := newWidget(el, deps)
	for _, name := range []string{PropData, PropHistory} {
		if v, ok := el.props[name]; ok {
			delete(el.props, name)
			w.setProperty(name, v)
		}
	}
	el.widget = w
	return w
}

func isValidatedProperty(name string) bool {
	return name == PropData || name == PropHistory
}

func (w *Widget) setProperty(name string, v any) {
	switch name {
	case PropData:
		w.SetData(v)
	case PropHistory:
		w.SetHistory(v)
	}
}

func (w *Widget) property(name string) any {
	switch name {
	case PropData:
		return w.Data()
	case PropHistory:
		return w.History()
	}
	return nil
}
