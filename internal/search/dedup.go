// Package search produces distinct human-plausible queries and executes
// them against the rewards-bearing search endpoint, watching counter
// progress between batches.
package search

import "strings"

// Normalize lowercases and collapses whitespace so near-duplicate queries
// compare equal.
func Normalize(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Dedup drops duplicates and near-duplicates. A query is dropped when its
// normalised token sequence is the leading token sequence of an earlier
// kept query, or vice versa ("paris weather" after "paris weather today").
func Dedup(queries []string) []string {
	var kept []string
	var keptTokens [][]string

	for _, q := range queries {
		norm := Normalize(q)
		if norm == "" {
			continue
		}
		tokens := strings.Split(norm, " ")
		dup := false
		for _, prior := range keptTokens {
			if leadingOverlap(tokens, prior) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, q)
		keptTokens = append(keptTokens, tokens)
	}
	return kept
}

// leadingOverlap reports whether the shorter sequence equals the prefix of
// the longer one.
func leadingOverlap(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
