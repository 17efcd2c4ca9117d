// Package notification holds the pure parts of notification scheduling: the
// template renderer, the date rule engine and recurrence. Nothing here touches
// storage or delivery.
package notification

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedTemplate is wrapped by every error Validate returns.
var ErrMalformedTemplate = errors.New("malformed template")

// Render replaces every {key} in tmpl with vars[key]. Placeholders without a
// value are left verbatim so partially populated previews stay readable.
func Render(tmpl string, vars map[string]string) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); {
		if tmpl[i] != '{' {
			b.WriteByte(tmpl[i])
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '}')
		if end < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		key := tmpl[i+1 : i+1+end]
		if strings.ContainsRune(key, '{') {
			// "{a {b}": the outer brace is literal text.
			b.WriteByte('{')
			i++
			continue
		}
		if v, ok := vars[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(tmpl[i : i+end+2])
		}
		i += end + 2
	}
	return b.String()
}

// Variables lists the distinct placeholder names in tmpl in order of first use.
func Variables(tmpl string) []string {
	var names []string
	seen := make(map[string]struct{})
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '{' {
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '}')
		if end < 0 {
			break
		}
		key := tmpl[i+1 : i+1+end]
		if !validName(key) {
			continue
		}
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			names = append(names, key)
		}
		i += end + 1
	}
	return names
}

// Validate reports unbalanced braces and placeholder names that are not
// identifiers ([A-Za-z_][A-Za-z0-9_]*).
func Validate(tmpl string) error {
	for i := 0; i < len(tmpl); i++ {
		switch tmpl[i] {
		case '}':
			return errors.Wrapf(ErrMalformedTemplate, "unmatched '}' at position %d", i)
		case '{':
			end := strings.IndexAny(tmpl[i+1:], "{}")
			if end < 0 || tmpl[i+1+end] == '{' {
				return errors.Wrapf(ErrMalformedTemplate, "unclosed '{' at position %d", i)
			}
			key := tmpl[i+1 : i+1+end]
			if !validName(key) {
				return errors.Wrapf(ErrMalformedTemplate, "invalid variable name %q at position %d", key, i)
			}
			i += end + 1
		}
	}
	return nil
}

// Unresolved returns the placeholders in tmpl that vars does not provide.
func Unresolved(tmpl string, vars map[string]string) []string {
	var missing []string
	for _, name := range Variables(tmpl) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
