package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONBareObject(t *testing.T) {
	obj, ok := ExtractJSON(`{"action":"HOLD_POSITION"}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"action":"HOLD_POSITION"}`, obj)
}

func TestExtractJSONWithProse(t *testing.T) {
	obj, ok := ExtractJSON("Sure, here is the decision:\n{\"a\": 1, \"b\": {\"c\": 2}}\nLet me know.")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1,"b":{"c":2}}`, obj)
}

func TestExtractJSONFencedBlock(t *testing.T) {
	raw := "```json\n{\"action\": \"DO_NOTHING\"}\n```"
	obj, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.JSONEq(t, `{"action":"DO_NOTHING"}`, obj)
}

func TestExtractJSONFenceWithoutLanguageTag(t *testing.T) {
	obj, ok := ExtractJSON("```\n{\"x\":true}\n```")
	require.True(t, ok)
	assert.JSONEq(t, `{"x":true}`, obj)
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	raw := `{"reasoning": "support at {50k}, escaped \" quote", "n": 1}`
	obj, ok := ExtractJSON(raw)
	require.True(t, ok)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(obj), &m))
	assert.Equal(t, 1.0, m["n"])
}

func TestExtractJSONFailures(t *testing.T) {
	for _, raw := range []string{"", "   ", "no json here", `{"unterminated": `} {
		_, ok := ExtractJSON(raw)
		assert.False(t, ok, "%q", raw)
	}
}
