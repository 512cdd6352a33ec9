package scan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from State
		ev   event
		to   State
		ok   bool
	}{
		{StateIdle, evSourceReady, StateAwaitingAlignment, true},
		{StateIdle, evSourceFailed, StateFailed, true},
		{StateIdle, evTick, StateIdle, false},
		{StateAwaitingAlignment, evTick, StateScanning, true},
		{StateAwaitingAlignment, evMatch, StateAwaitingAlignment, false},
		{StateScanning, evAbsent, StateAwaitingAlignment, true},
		{StateScanning, evNoMatch, StateAwaitingAlignment, true},
		{StateScanning, evRecognitionFailed, StateAwaitingAlignment, true},
		{StateScanning, evBadGeometry, StateAwaitingAlignment, true},
		{StateScanning, evMatch, StateMatched, true},
		{StateScanning, evSourceFailed, StateFailed, true},
		{StateScanning, evTick, StateScanning, false},
		{StateMatched, evTick, StateMatched, false},
		{StateMatched, evMatch, StateMatched, false},
		{StateFailed, evSourceReady, StateFailed, false},
		{StateMatched, evReset, StateIdle, true},
		{StateFailed, evReset, StateIdle, true},
		{StateScanning, evReset, StateIdle, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			to, ok := transition(tt.from, tt.ev)
			assert.Equal(t, tt.to, to)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "awaiting-alignment", StateAwaitingAlignment.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateMatched.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateScanning.Terminal())

	data, err := json.Marshal(map[string]State{"s": StateScanning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"scanning"}`, string(data))
}
