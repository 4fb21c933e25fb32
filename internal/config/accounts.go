package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// Account is one configured rewards account. The file uses camelCase keys
// and may carry operator comments, which every writer must preserve.
type Account struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TOTP          string `json:"totp,omitempty"` // base32 seed
	Proxy         string `json:"proxy,omitempty"`
	RecoveryEmail string `json:"recoveryEmail,omitempty"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	Enabled       *bool  `json:"enabled,omitempty"` // nil means enabled
}

// IsEnabled reports whether the account should be run.
func (a *Account) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// LoadAccounts reads the account file, accepting either a bare JSON array
// or a {"accounts": [...]} wrapper, both comment-tolerant.
func LoadAccounts(path string) ([]Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	return ParseAccounts(raw)
}

// ParseAccounts decodes an account document.
func ParseAccounts(raw []byte) ([]Account, error) {
	trimmed := strings.TrimSpace(string(Normalize(raw)))

	var accounts []Account
	if strings.HasPrefix(trimmed, "[") {
		if err := ParseJSONC(raw, &accounts); err != nil {
			return nil, &ConfigError{Reason: err.Error()}
		}
	} else {
		var wrapper struct {
			Accounts []Account `json:"accounts"`
		}
		if err := ParseJSONC(raw, &wrapper); err != nil {
			return nil, &ConfigError{Reason: err.Error()}
		}
		accounts = wrapper.Accounts
	}

	seen := make(map[string]bool, len(accounts))
	for i, a := range accounts {
		if a.Email == "" {
			return nil, &ConfigError{Field: fmt.Sprintf("accounts[%d].email", i), Reason: "required"}
		}
		if a.Password == "" {
			return nil, &ConfigError{Field: fmt.Sprintf("accounts[%d].password", i), Reason: "required"}
		}
		key := strings.ToLower(a.Email)
		if seen[key] {
			return nil, &ConfigError{Field: "accounts", Reason: fmt.Sprintf("duplicate email %s", a.Email)}
		}
		seen[key] = true
	}
	return accounts, nil
}

// DisableAccount rewrites the account file in place, preserving comments,
// by inserting a "// BANNED YYYY-MM-DD: <reason>" line before the account
// object holding email and forcing its "enabled" field to false. The
// operation is idempotent: a second call for the same email leaves the
// file unchanged.
func DisableAccount(path, email, reason string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("disable account: read %s: %w", path, err)
	}

	updated, changed, err := disableInDocument(string(raw), email, reason, time.Now())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := renameio.WriteFile(path, []byte(updated), 0o600); err != nil {
		return fmt.Errorf("disable account: write %s: %w", path, err)
	}
	return nil
}

// disableInDocument performs the textual edit on the raw (still commented)
// document so operator annotations survive. All structural scanning runs
// on a comment-blanked shadow copy, which shares byte offsets with the
// original.
func disableInDocument(doc, email, reason string, now time.Time) (string, bool, error) {
	shadow := string(StripComments([]byte(doc)))

	at := strings.Index(shadow, `"`+email+`"`)
	if at < 0 {
		return doc, false, fmt.Errorf("disable account: %s not found in file", logEmail(email))
	}

	open, end := enclosingObject(shadow, at)
	if open < 0 || end < 0 {
		return doc, false, fmt.Errorf("disable account: malformed object for %s", logEmail(email))
	}

	changed := false
	out := doc

	// Force enabled:false inside the object. Applied before the comment
	// insertion so earlier offsets stay valid.
	if rel := strings.Index(shadow[open:end], `"enabled"`); rel >= 0 {
		vStart, vEnd := valueSpan(shadow, open+rel+len(`"enabled"`))
		if vStart >= 0 && shadow[vStart:vEnd] == "true" {
			out = out[:vStart] + "false" + out[vEnd:]
			changed = true
		}
	} else {
		out = out[:open+1] + ` "enabled": false,` + out[open+1:]
		changed = true
	}

	// Insert the BANNED comment on its own line above the object unless one
	// is already there.
	lineStart := strings.LastIndexByte(doc[:open], '\n') + 1
	prevLine := ""
	if lineStart > 0 {
		prevStart := strings.LastIndexByte(doc[:lineStart-1], '\n') + 1
		prevLine = doc[prevStart : lineStart-1]
	}
	if !strings.Contains(prevLine, "// BANNED") {
		indent := leadingWhitespace(doc[lineStart:open])
		comment := fmt.Sprintf("%s// BANNED %s: %s\n", indent, now.Format("2006-01-02"), reason)
		out = out[:lineStart] + comment + out[lineStart:]
		changed = true
	}

	return out, changed, nil
}

// enclosingObject returns the offsets of the { and } bounding the innermost
// object containing offset at. The scan is string-aware; comments must
// already be blanked out of s.
func enclosingObject(s string, at int) (int, int) {
	var stack []int
	inString := false
	escaped := false
	open := -1

	for i := 0; i < len(s); i++ {
		if i == at {
			if len(stack) == 0 {
				return -1, -1
			}
			open = stack[len(stack)-1]
		}
		c := s[i]
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
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				return -1, -1
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if open >= 0 && top == open {
				return open, i
			}
		}
	}
	return -1, -1
}

// valueSpan locates the bare value token following a key, skipping the
// colon and whitespace. Returns [-1, -1) for string/object/array values.
func valueSpan(s string, from int) (int, int) {
	i := from
	for i < len(s) && (isSpace(s[i]) || s[i] == ':') {
		i++
	}
	if i >= len(s) || s[i] == '"' || s[i] == '{' || s[i] == '[' {
		return -1, -1
	}
	j := i
	for j < len(s) && s[j] != ',' && s[j] != '}' && s[j] != ']' && !isSpace(s[j]) {
		j++
	}
	return i, j
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

func logEmail(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 || len(parts[0]) <= 2 {
		return "***"
	}
	return parts[0][:2] + "***@" + parts[1]
}
