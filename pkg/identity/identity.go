// Package identity normalizes the many identity representations seen on the
// wire (raw ids, prefixed ids, composite client tokens) into one canonical
// lowercase key of the form "user_<suffix>". Internal state only ever holds
// canonical keys.
package identity

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	exactRe = regexp.MustCompile(`^user[_:-]([a-z0-9][a-z0-9-]*)$`)
	embedRe = regexp.MustCompile(`user[_:-]([a-z0-9][a-z0-9-]*)`)
	// prefixedRe matches values that at least look like a user id; used as
	// the first fallback tier when nothing canonicalizes.
	prefixedRe = regexp.MustCompile(`^user[_:-]`)
)

// Canonicalize resolves a free-form identity string to its canonical
// "user_<suffix>" key, or "" when no recognizable user-id pattern is
// present. It is case-insensitive and idempotent: a canonical key resolves
// to itself.
func Canonicalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if m := exactRe.FindStringSubmatch(s); m != nil {
		return "user_" + m[1]
	}
	// Embedded form, e.g. "client:user_abc123#device": extract the suffix
	// after the first separator; trailing junk is cut at the first character
	// outside [a-z0-9-].
	if m := embedRe.FindStringSubmatch(s); m != nil {
		return "user_" + m[1]
	}
	return ""
}

// candidateFields is the priority order of fields inspected by
// ResolveParticipantID. Dots denote nesting.
var candidateFields = []string{
	"userId", "id", "user_id", "identifier", "key",
	"clientId", "client_id",
	"user.id", "user.userId",
	"profile.id", "profile.userId",
}

// ResolveParticipantID walks the candidate identity fields of a loosely
// shaped participant record and returns the first value that
// canonicalizes. When nothing canonicalizes it falls back to: a candidate
// that at least looks user-prefixed, then one not prefixed "client:", then
// the first raw candidate, then "". Callers must treat "" as unresolvable
// and drop the record.
func ResolveParticipantID(record map[string]any) string {
	if record == nil {
		return ""
	}
	var candidates []string
	for _, f := range candidateFields {
		if v := stringify(lookup(record, f)); v != "" {
			candidates = append(candidates, v)
		}
	}
	for _, c := range candidates {
		if k := Canonicalize(c); k != "" {
			return k
		}
	}
	for _, c := range candidates {
		if prefixedRe.MatchString(strings.ToLower(c)) {
			return c
		}
	}
	for _, c := range candidates {
		if !strings.HasPrefix(strings.ToLower(c), "client:") {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func lookup(record map[string]any, path string) any {
	cur := any(record)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		// JSON numbers decode as float64; ids are integral in practice
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}
