package registry

import (
	"sort"
	"time"

	"chatsync/pkg/models"
)

// Snapshot is the read-only view handed to observers. Everything in it is
// a copy; mutating a snapshot never touches engine state.
type Snapshot struct {
	Sessions        []SessionView `json:"sessions"`
	ActiveSessionID string        `json:"activeSessionId,omitempty"`
	TotalUnread     int           `json:"totalUnread"`
}

// SessionView is one session in a snapshot, ordered by descending last
// activity within Snapshot.Sessions.
type SessionView struct {
	ID                 string               `json:"id"`
	Type               models.SessionType   `json:"type"`
	Title              string               `json:"title"`
	Avatar             string               `json:"avatar,omitempty"`
	CreatedBy          string               `json:"createdBy,omitempty"`
	Participants       []models.Participant `json:"participants"`
	Messages           []models.Message     `json:"messages"`
	UnreadCount        int                  `json:"unreadCount"`
	LastMessageAt      string               `json:"lastMessageAt,omitempty"`
	LastMessagePreview string               `json:"lastMessagePreview,omitempty"`
	Typing             []models.Participant `json:"typing,omitempty"`
}

// Session returns the view for one session id from the snapshot.
func (s Snapshot) Session(id string) (SessionView, bool) {
	for _, v := range s.Sessions {
		if v.ID == id {
			return v, true
		}
	}
	return SessionView{}, false
}

// activityOf derives a session's ordering timestamp: the final message's
// parsed sentAt when present, else the last known activity.
func (r *Registry) activityOf(s *session) time.Time {
	if n := len(s.messages); n > 0 {
		if t, ok := models.ParseTimestamp(s.messages[n-1].SentAt); ok {
			return t
		}
	}
	return s.lastActivity
}

// rebuildSnapshotLocked recomputes the immutable snapshot from internal
// state.
func (r *Registry) rebuildSnapshotLocked() {
	now := r.now()
	views := make([]SessionView, 0, len(r.sessions))
	keys := make(map[string]time.Time, len(r.sessions))
	total := 0

	for _, s := range r.sessions {
		v := SessionView{
			ID:           s.id,
			Type:         s.kind,
			Title:        r.displayTitle(s),
			Avatar:       s.avatar,
			CreatedBy:    s.createdBy,
			Participants: append([]models.Participant(nil), s.participants...),
			Messages:     append([]models.Message(nil), s.messages...),
			UnreadCount:  s.unread,
			Typing:       r.typingViewLocked(s, now),
		}
		if n := len(s.messages); n > 0 {
			v.LastMessageAt = s.messages[n-1].SentAt
			v.LastMessagePreview = s.messages[n-1].Body
		}
		total += s.unread
		keys[s.id] = r.activityOf(s)
		views = append(views, v)
	}

	sort.SliceStable(views, func(i, j int) bool {
		ti, tj := keys[views[i].ID], keys[views[j].ID]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return views[i].ID < views[j].ID
	})

	active := ""
	if _, ok := r.sessions[r.activeID]; ok {
		active = r.activeID
	}
	r.snap = Snapshot{Sessions: views, ActiveSessionID: active, TotalUnread: total}
	metricSnapshots.Inc()
}

// typingViewLocked exports the live typing list: self and expired entries
// excluded, deduplicated by canonical key, ordered by key for determinism.
func (r *Registry) typingViewLocked(s *session, now time.Time) []models.Participant {
	if len(s.typing) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.typing))
	for k, e := range s.typing {
		if !e.expiresAt.After(now) {
			continue
		}
		if r.self.Has(k) {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	out := make([]models.Participant, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.typing[k].participant)
	}
	return out
}
