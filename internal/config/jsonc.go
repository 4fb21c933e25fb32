// Package config loads and validates the orchestrator configuration and
// account list. Both files are a comment-tolerant JSON dialect: // line
// comments, /* */ block comments, and trailing commas are accepted and
// stripped before strict JSON decoding. Comment stripping is string-aware
// so comment markers inside string literals survive untouched.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StripComments removes // line comments and /* */ block comments from a
// JSONC document, respecting string literals and escape sequences.
// Stripped runs are replaced with spaces (newlines preserved) so byte
// offsets in parse errors stay meaningful.
func StripComments(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)

	const (
		stateCode = iota
		stateString
		stateLineComment
		stateBlockComment
	)
	state := stateCode
	escaped := false

	for i := 0; i < len(out); i++ {
		c := out[i]
		switch state {
		case stateCode:
			switch {
			case c == '"':
				state = stateString
			case c == '/' && i+1 < len(out) && out[i+1] == '/':
				state = stateLineComment
				out[i] = ' '
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				state = stateBlockComment
				out[i] = ' '
				// Consume the opening star too, so "/*/" does not read
				// as an already-closed comment.
				out[i+1] = ' '
				i++
			}
		case stateString:
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				state = stateCode
			}
		case stateLineComment:
			if c == '\n' {
				state = stateCode
			} else {
				out[i] = ' '
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i] = ' '
				out[i+1] = ' '
				i++
				state = stateCode
			} else if c != '\n' {
				out[i] = ' '
			}
		}
	}
	return out
}

// StripTrailingCommas removes commas that directly precede a closing } or ]
// (modulo whitespace), again respecting string literals.
func StripTrailingCommas(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)

	inString := false
	escaped := false
	for i := 0; i < len(out); i++ {
		c := out[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(out) && isSpace(out[j]) {
				j++
			}
			if j < len(out) && (out[j] == '}' || out[j] == ']') {
				out[i] = ' '
			}
		}
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Normalize converts a JSONC document to strict JSON.
func Normalize(src []byte) []byte {
	return StripTrailingCommas(StripComments(src))
}

// ParseJSONC normalizes src and decodes it into v with strict JSON rules.
func ParseJSONC(src []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(Normalize(src)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse jsonc: %w", err)
	}
	return nil
}
