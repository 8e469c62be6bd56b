package identity

import "strings"

// AliasSet tracks the set of identities that refer to the current user:
// the authenticated user id, the transport-assigned client id, and any
// aliases observed later. Membership checks canonicalize first so
// heterogeneous representations of "me" still match.
type AliasSet struct {
	canonical map[string]struct{}
	raw       map[string]struct{}
}

func NewAliasSet() *AliasSet {
	return &AliasSet{
		canonical: map[string]struct{}{},
		raw:       map[string]struct{}{},
	}
}

// Add records an identity. Canonicalizable ids are stored under their
// canonical key; unresolvable ones are kept raw (lowercased) so exact
// matches still work for opaque client ids.
func (s *AliasSet) Add(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	if k := Canonicalize(id); k != "" {
		s.canonical[k] = struct{}{}
	}
	s.raw[strings.ToLower(id)] = struct{}{}
}

// Reset clears the set and adds the given ids.
func (s *AliasSet) Reset(ids ...string) {
	s.canonical = map[string]struct{}{}
	s.raw = map[string]struct{}{}
	for _, id := range ids {
		s.Add(id)
	}
}

// Has reports whether id refers to the current user.
func (s *AliasSet) Has(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	if k := Canonicalize(id); k != "" {
		if _, ok := s.canonical[k]; ok {
			return true
		}
	}
	_, ok := s.raw[strings.ToLower(id)]
	return ok
}

// Empty reports whether no identity is known yet.
func (s *AliasSet) Empty() bool {
	return len(s.canonical) == 0 && len(s.raw) == 0
}
