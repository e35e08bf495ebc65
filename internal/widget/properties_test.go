package widget

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/voicewidget/internal/domain"
)

type listing struct {
	Address string `json:"address"`
	Beds    int    `json:"beds"`
}

func TestJSTypeOf(t *testing.T) {
	var nilMap map[string]any
	var nilSlice []any
	var nilPtr *listing

	cases := map[string]any{
		"null":     nil,
		"object":   map[string]any{"a": 1},
		"array":    []any{1},
		"string":   "hi",
		"boolean":  true,
		"number":   3.5,
		"function": func() {},
	}
	for want, v := range cases {
		assert.Equal(t, want, jsTypeOf(v), "value %#v", v)
	}
	assert.Equal(t, "null", jsTypeOf(nilMap))
	assert.Equal(t, "null", jsTypeOf(nilSlice))
	assert.Equal(t, "null", jsTypeOf(nilPtr))
	assert.Equal(t, "object", jsTypeOf(listing{}))
	assert.Equal(t, "object", jsTypeOf(&listing{}))
	assert.Equal(t, "number", jsTypeOf(uint8(1)))
	assert.Equal(t, "array", jsTypeOf([2]int{}))
	assert.Equal(t, "map", jsTypeOf(map[any]any{1: "x"}))
	assert.Equal(t, "map", jsTypeOf(map[int]string{1: "x"}))
}

func TestSetDataRejectsNonObjects(t *testing.T) {
	cases := []struct {
		value any
		typ   string
	}{
		{"Ava", "string"},
		{42, "number"},
		{true, "boolean"},
		{1.5, "number"},
		{func() {}, "function"},
		{[]any{1, 2}, "object"},
		{map[any]any{1: "x"}, "map"},
	}
	for _, tc := range cases {
		h := newHarness(t, activeConfig())
		h.widget.SetData(map[string]any{"prior": true})

		h.widget.SetData(tc.value)

		assert.Equal(t, map[string]any{}, h.widget.Data())
		warnings := h.logs.warnings()
		require.Len(t, warnings, 1)
		assert.Equal(t, "Failed to set data: value must be an object. Received type: "+tc.typ, warnings[0])
	}
}

func TestNonStringKeyedDataDoesNotBreakStart(t *testing.T) {
	h := newHarness(t, activeConfig())
	h.widget.SetData(map[any]any{1: "x"})
	h.connected(t)

	assert.Equal(t, 1, h.transport.connects())
	assert.Zero(t, h.events.count(EventError))
}

func TestSetDataNilResetsSilently(t *testing.T) {
	var nilMap map[string]any
	var nilPtr *listing
	for _, v := range []any{nil, nilMap, nilPtr} {
		h := newHarness(t, activeConfig())
		h.widget.SetData(map[string]any{"a": 1})

		h.widget.SetData(v)

		assert.Equal(t, map[string]any{}, h.widget.Data())
		assert.Empty(t, h.logs.warnings())
	}
}

func TestSetDataStoresObjectsVerbatim(t *testing.T) {
	h := newHarness(t, activeConfig())
	value := map[string]any{"name": "Sam", "nested": map[string]any{"x": 1}}
	h.widget.SetData(value)
	assert.Equal(t, value, h.widget.Data())

	l := &listing{Address: "1 Main St", Beds: 3}
	h.widget.SetData(l)
	assert.Same(t, l, h.widget.Data())
	assert.Empty(t, h.logs.warnings())
}

func TestDataDefaultsToEmptyObject(t *testing.T) {
	h := newHarness(t, activeConfig())
	assert.Equal(t, map[string]any{}, h.widget.Data())
	assert.Nil(t, h.widget.History())
}

func TestSetHistoryAcceptsObjectsAndArrays(t *testing.T) {
	values := []any{map[string]any{}, []any{}, []any{map[string]any{"x": 1}}, map[string]any{"summary": "asked about pricing"}, listing{}}
	for _, v := range values {
		h := newHarness(t, activeConfig())
		h.widget.SetHistory(v)
		assert.Equal(t, v, h.widget.History())
		assert.Empty(t, h.logs.warnings())
	}
}

func TestSetHistoryRejectsPrimitives(t *testing.T) {
	values := []any{"last time we spoke", 7, false, 2.25, func() {}}
	for _, v := range values {
		h := newHarness(t, activeConfig())
		h.widget.SetHistory([]any{1})

		h.widget.SetHistory(v)

		assert.Nil(t, h.widget.History())
		warnings := h.logs.warnings()
		require.Len(t, warnings, 1)
		assert.Equal(t, "Failed to set history: value must be an object or array. Received type: "+jsTypeOf(v), warnings[0])
	}
}

func TestSetHistoryNilResetsSilently(t *testing.T) {
	var nilSlice []any
	for _, v := range []any{nil, nilSlice} {
		h := newHarness(t, activeConfig())
		h.widget.SetHistory([]any{1})
		h.widget.SetHistory(v)
		assert.Nil(t, h.widget.History())
		assert.Empty(t, h.logs.warnings())
	}
}

func TestPreUpgradeAssignmentMatchesPostUpgrade(t *testing.T) {
	data := map[string]any{"name": "Sam"}
	history := []any{map[string]any{"summary": "asked about hours"}}

	pre := NewElement(nil)
	pre.SetProperty(PropData, data)
	pre.SetProperty(PropHistory, history)
	preWidget := Upgrade(pre, Deps{})

	post := NewElement(nil)
	postWidget := Upgrade(post, Deps{})
	post.SetProperty(PropData, data)
	post.SetProperty(PropHistory, history)

	assert.Equal(t, postWidget.Data(), preWidget.Data())
	assert.Equal(t, postWidget.History(), preWidget.History())
	assert.Equal(t, data, pre.Property(PropData))
	assert.Equal(t, history, pre.Property(PropHistory))
}

func TestPreUpgradeAssignmentIsValidated(t *testing.T) {
	logs := &logBuffer{}
	el := NewElement(nil)
	el.SetProperty(PropData, "not an object")
	el.SetProperty(PropHistory, 12)

	w := Upgrade(el, Deps{Logger: newJSONLogger(logs)})

	assert.Equal(t, map[string]any{}, w.Data())
	assert.Nil(t, w.History())
	assert.Equal(t, []string{
		"Failed to set data: value must be an object. Received type: string",
		"Failed to set history: value must be an object or array. Received type: number",
	}, logs.warnings())
}

func TestUpgradeTwiceReturnsSameWidget(t *testing.T) {
	el := NewElement(nil)
	w := Upgrade(el, Deps{})
	assert.Same(t, w, Upgrade(el, Deps{}))
	assert.Same(t, w, el.Widget())
}

func TestUnvalidatedPropertiesStayOnElement(t *testing.T) {
	el := NewElement(nil)
	Upgrade(el, Deps{})
	el.SetProperty("title", "Help")
	assert.Equal(t, "Help", el.Property("title"))
}

func TestBuildInstructionsOrdersDataBeforeHistory(t *testing.T) {
	h := newHarness(t, activeConfig())
	h.widget.Attach(context.Background())
	h.widget.SetData(map[string]any{"a": 1})
	h.widget.SetHistory([]any{map[string]any{"x": 1}})

	out, err := h.widget.BuildInstructions(time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	base := strings.Index(out, "You are a helpful concierge.")
	date := strings.Index(out, "Today's date is Saturday, March 14, 2026.")
	dataIdx := strings.Index(out, `"a": 1`)
	historyIdx := strings.Index(out, `"x": 1`)
	require.True(t, base >= 0 && date >= 0 && dataIdx >= 0 && historyIdx >= 0, out)
	assert.Less(t, base, date)
	assert.Less(t, date, dataIdx)
	assert.Less(t, dataIdx, historyIdx)
	assert.Contains(t, out, dataPreamble)
	assert.Contains(t, out, historyPreamble)
}

func TestBuildInstructionsOmitsEmptyBlocks(t *testing.T) {
	h := newHarness(t, activeConfig())
	h.widget.Attach(context.Background())

	out, err := h.widget.BuildInstructions(time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "You are a helpful concierge.\n\nToday's date is Saturday, March 14, 2026.", out)

	h.widget.SetHistory([]any{})
	out, err = h.widget.BuildInstructions(time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.NotContains(t, out, dataPreamble)
	assert.Contains(t, out, historyPreamble+"\n[]")
}

func TestBuildInstructionsKeepsBaseVerbatim(t *testing.T) {
	cfg := activeConfig()
	cfg.Instructions = "  Be brief.\n"
	h := newHarness(t, cfg)
	h.widget.Attach(context.Background())

	out, err := h.widget.BuildInstructions(time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "  Be brief.\n\n\nToday's date is Saturday, March 14, 2026.", out)
}

func TestBuildInstructionsRequiresConfig(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.widget.BuildInstructions(time.Now())
	assert.ErrorIs(t, err, ErrConfigNotLoaded)

	h.configs.cfg = &domain.AgentConfig{Name: "Ava", Voice: "marin", Active: false}
	h.widget.Attach(context.Background())
	_, err = h.widget.BuildInstructions(time.Now())
	assert.ErrorIs(t, err, ErrConfigNotLoaded)
}
