package registry

import (
	"chatsync/pkg/identity"
	"chatsync/pkg/models"
)

// normalizeParticipant resolves a loosely shaped participant entry into a
// Participant with a canonical id. Entries whose identity cannot be
// resolved at all are dropped (ok=false). Name falls back to the resolved
// id when absent or blank.
func normalizeParticipant(entry map[string]any) (models.Participant, bool) {
	id := identity.ResolveParticipantID(entry)
	if id == "" {
		return models.Participant{}, false
	}
	name := firstString(entry, "name", "displayName", "display_name", "username")
	if name == "" {
		name = id
	}
	avatar := firstString(entry, "avatar", "avatarUrl", "avatar_url")
	return models.Participant{ID: id, Name: name, Avatar: avatar}, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// mergeParticipants folds participant lists into one slice keyed by
// canonical id. First occurrence wins position; later entries only update
// a record when they add information: a display name is adopted only when
// it differs from the bare id (i.e. is not itself a fallback), an avatar
// only fills an empty slot.
func mergeParticipants(lists ...[]models.Participant) []models.Participant {
	var order []string
	byID := map[string]*models.Participant{}
	for _, list := range lists {
		for _, p := range list {
			if p.ID == "" {
				continue
			}
			existing, ok := byID[p.ID]
			if !ok {
				cp := p
				if cp.Name == "" {
					cp.Name = cp.ID
				}
				byID[p.ID] = &cp
				order = append(order, p.ID)
				continue
			}
			if p.Name != "" && p.Name != p.ID && p.Name != existing.Name {
				existing.Name = p.Name
			}
			if existing.Avatar == "" && p.Avatar != "" {
				existing.Avatar = p.Avatar
			}
		}
	}
	out := make([]models.Participant, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// normalizeRaw converts raw wire participant entries, dropping
// unresolvable ones.
func normalizeRaw(entries []map[string]any) []models.Participant {
	out := make([]models.Participant, 0, len(entries))
	for _, e := range entries {
		if p, ok := normalizeParticipant(e); ok {
			out = append(out, p)
		}
	}
	return out
}
