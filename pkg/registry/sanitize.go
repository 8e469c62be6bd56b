package registry

import (
	"strconv"
	"strings"

	"chatsync/pkg/models"
)

// Descriptor is the raw session shape handed to EnsureSession, either from
// a local "start chat" action or an inbound event.
type Descriptor struct {
	ID           string
	Type         string
	Title        string
	Avatar       string
	CreatedBy    string
	Participants []map[string]any
}

// groupIDShape reports whether a conversation id uses the reserved
// multi-party format.
func groupIDShape(id string) bool {
	return strings.HasPrefix(id, "group-") || strings.Contains(id, ":group:")
}

// ensureSessionLocked creates a session from a descriptor, or merges the
// descriptor into an existing one. Returns nil when the descriptor is
// unusable (empty id).
func (r *Registry) ensureSessionLocked(d Descriptor) *session {
	if d.ID == "" {
		return nil
	}
	incoming := normalizeRaw(d.Participants)

	s, exists := r.sessions[d.ID]
	if !exists {
		s = r.newSessionLocked(d.ID, models.TypeDirect, d.Title, d.Avatar, d.CreatedBy)
		r.sessions[d.ID] = s
	} else {
		if s.title == "" && d.Title != "" {
			s.title = d.Title
		}
		if s.avatar == "" && d.Avatar != "" {
			s.avatar = d.Avatar
		}
		if s.createdBy == "" && d.CreatedBy != "" {
			s.createdBy = d.CreatedBy
		}
	}

	// participants: merged set with self injected. The self participant is
	// synthesized from the authenticated identity (or the transport client
	// id fallback) when the caller didn't include one.
	lists := [][]models.Participant{s.participants, incoming}
	if r.selfID != "" {
		self := r.selfPart
		if self.ID == "" {
			self = models.Participant{ID: r.selfID, Name: r.selfID}
		}
		lists = append(lists, []models.Participant{self})
	}
	s.participants = mergeParticipants(lists...)

	// type: explicit group wins; else the id shape; else stays direct
	// unless more than 2 distinct participants arrived.
	switch {
	case d.Type == string(models.TypeGroup):
		s.kind = models.TypeGroup
	case s.kind == models.TypeGroup:
		// never demote an established group
	case groupIDShape(d.ID):
		s.kind = models.TypeGroup
	case d.Type == string(models.TypeDirect):
		s.kind = models.TypeDirect
	case len(s.participants) > 2:
		s.kind = models.TypeGroup
	default:
		s.kind = models.TypeDirect
	}

	// A direct session holds at most self plus one peer. Extra
	// participants are dropped, not promoted to a group; this mirrors the
	// historical truncation behavior.
	if s.kind == models.TypeDirect && len(s.participants) > 2 {
		s.participants = trimDirect(s.participants, r.selfID)
	}
	return s
}

// trimDirect keeps [self, first non-self] in encounter order.
func trimDirect(parts []models.Participant, selfID string) []models.Participant {
	out := make([]models.Participant, 0, 2)
	for _, p := range parts {
		if p.ID == selfID {
			out = append(out, p)
			break
		}
	}
	for _, p := range parts {
		if p.ID != selfID {
			out = append(out, p)
			break
		}
	}
	return out
}

// othersOf returns the non-self participants in encounter order.
func (r *Registry) othersOf(s *session) []models.Participant {
	out := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if r.self.Has(p.ID) || p.ID == r.selfID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// displayTitle computes the session title: an explicit title wins;
// otherwise it is derived deterministically from the non-self participant
// set.
func (r *Registry) displayTitle(s *session) string {
	if strings.TrimSpace(s.title) != "" {
		return s.title
	}
	others := r.othersOf(s)
	if s.kind == models.TypeDirect {
		if len(others) == 0 {
			return "Chat"
		}
		return others[0].Name
	}
	switch len(others) {
	case 0:
		return "Group chat"
	case 1:
		return others[0].Name + " & you"
	case 2:
		return others[0].Name + " & " + others[1].Name
	default:
		return others[0].Name + ", " + others[1].Name + " +" + strconv.Itoa(len(others)-2)
	}
}
