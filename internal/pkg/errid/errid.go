// Package errid produces stable short fingerprints for errors so that
// recurrences of the same underlying failure aggregate under one ID even
// when timestamps, paths, line numbers or addresses differ between
// occurrences.
package errid

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var volatilePatterns = []*regexp.Regexp{
	// ISO timestamps and clock readings
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`),
	regexp.MustCompile(`\d{2}:\d{2}:\d{2}(\.\d+)?`),
	// Hex addresses and long hex runs (pointers, ids, hashes)
	regexp.MustCompile(`0x[0-9a-fA-F]+`),
	regexp.MustCompile(`\b[0-9a-f]{8,}\b`),
	// File paths with optional :line[:col]
	regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\\/][\w.\- ]+)+(?::\d+(?::\d+)?)?`),
	// Bare :line references left over from stack frames
	regexp.MustCompile(`:\d+\b`),
	// Durations ("after 30.5s", "1m20s")
	regexp.MustCompile(`\d+(\.\d+)?(ns|µs|us|ms|s|m|h)\b`),
	// Remaining numbers (ports, counts, sizes)
	regexp.MustCompile(`\d+`),
}

var spaceRun = regexp.MustCompile(`\s+`)

// Normalize strips volatile fragments from an error message or stack trace,
// leaving only the stable shape of the failure.
func Normalize(text string) string {
	out := text
	for _, re := range volatilePatterns {
		out = re.ReplaceAllString(out, "#")
	}
	out = spaceRun.ReplaceAllString(out, " ")
	return strings.TrimSpace(strings.ToLower(out))
}

// ID returns the stable 12-character fingerprint for an error text
// (message plus optional stack), computed as a SHA-256 prefix of the
// normalized form.
func ID(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])[:12]
}

// FromError is a convenience wrapper over ID for error values.
func FromError(err error) string {
	if err == nil {
		return ""
	}
	return ID(err.Error())
}
