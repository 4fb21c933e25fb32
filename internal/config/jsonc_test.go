package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{
			"line comments",
			"{\n// a comment\n\"a\": 1 // trailing\n}",
			map[string]any{"a": 1.0},
		},
		{
			"block comments",
			`{"a": /* inline */ 1, /* multi
			line */ "b": 2}`,
			map[string]any{"a": 1.0, "b": 2.0},
		},
		{
			"slash right after the opener stays inside the comment",
			`{"a": 1 /*/ still a comment */ }`,
			map[string]any{"a": 1.0},
		},
		{
			"empty block comment",
			`{"a": /**/ 1}`,
			map[string]any{"a": 1.0},
		},
		{
			"markers inside strings survive",
			`{"a": "http://example.com", "b": "not /* a */ comment", "c": "slash \" // quote"}`,
			map[string]any{
				"a": "http://example.com",
				"b": "not /* a */ comment",
				"c": `slash " // quote`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			require.NoError(t, json.Unmarshal(StripComments([]byte(tt.in)), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripTrailingCommas(t *testing.T) {
	in := `{"a": [1, 2, 3,], "b": {"c": 1,},}`
	var got map[string]any
	require.NoError(t, json.Unmarshal(StripTrailingCommas([]byte(in)), &got))
	assert.Equal(t, []any{1.0, 2.0, 3.0}, got["a"])
}

func TestStripTrailingCommasInsideStrings(t *testing.T) {
	in := `{"a": "a,}", "b": 1,}`
	var got map[string]any
	require.NoError(t, json.Unmarshal(StripTrailingCommas([]byte(in)), &got))
	assert.Equal(t, "a,}", got["a"])
}

func TestNormalizeEquivalence(t *testing.T) {
	// parse(normalize(x)) must equal parsing the hand-cleaned document.
	commented := `{
		// search tuning
		"search_settings": {
			"per_session_max": 30, /* capped */
		},
	}`
	clean := `{"search_settings": {"per_session_max": 30}}`

	var a, b map[string]any
	require.NoError(t, json.Unmarshal(Normalize([]byte(commented)), &a))
	require.NoError(t, json.Unmarshal([]byte(clean), &b))
	assert.Equal(t, b, a)
}

func TestParseJSONCOffsetsPreserved(t *testing.T) {
	in := "{\n  // note\n  \"a\": 1\n}"
	out := StripComments([]byte(in))
	assert.Equal(t, len(in), len(out))
	assert.Equal(t, byte('\n'), out[len("{\n  // note")])
}
