package widget

import (
	"fmt"
	"reflect"
)

const (
	dataWarning    = "Failed to set data: value must be an object. Received type: %s"
	historyWarning = "Failed to set history: value must be an object or array. Received type: %s"
)

// SetData assigns the contextual data. Only objects are accepted; nil resets to an empty
// mapping silently and anything else resets it with a warning.
func (w *Widget) SetData(v any) {
	kind := jsTypeOf(v)

	w.mu.Lock()
	if kind == "object" {
		w.data = v
	} else {
		w.data = map[string]any{}
	}
	w.mu.Unlock()

	if kind != "object" && kind != "null" {
		// typeof reports arrays as object.
		if kind == "array" {
			kind = "object"
		}
		w.logger.Warn(fmt.Sprintf(dataWarning, kind))
	}
}

// Data returns the contextual data. It is never nil.
func (w *Widget) Data() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data
}

// SetHistory assigns prior-conversation context. Objects and arrays are accepted; nil
// resets to null silently and anything else resets it with a warning.
func (w *Widget) SetHistory(v any) {
	kind := jsTypeOf(v)
	accepted := kind == "object" || kind == "array"

	w.mu.Lock()
	if accepted {
		w.history = v
	} else {
		w.history = nil
	}
	w.mu.Unlock()

	if !accepted && kind != "null" {
		w.logger.Warn(fmt.Sprintf(historyWarning, kind))
	}
}

// History returns the prior-conversation context, or nil when absent.
func (w *Widget) History() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history
}

// jsTypeOf classifies v the way a host page would describe it: null, object, array,
// string, boolean, number or function. Nil pointers, maps and slices are null. Maps with
// non-string keys report "map".
func jsTypeOf(v any) string {
	if v == nil {
		return "null"
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "null"
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return "null"
		}
		// Only string-keyed maps serialize as JSON objects.
		if rv.Type().Key().Kind() != reflect.String {
			return "map"
		}
		return "object"
	case reflect.Struct:
		return "object"
	case reflect.Slice:
		if rv.IsNil() {
			return "null"
		}
		return "array"
	case reflect.Array:
		return "array"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Func:
		if rv.IsNil() {
			return "null"
		}
		return "function"
	default:
		return rv.Kind().String()
	}
}

// isEmptyObject reports whether v is a mapping with no entries.
func isEmptyObject(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Map && rv.Len() == 0
}
