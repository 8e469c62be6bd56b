package registry

import (
	"sort"

	"chatsync/pkg/models"
)

// RemapSessionID reconciles a locally-minted conversation id with the id
// the transport ultimately assigned. When no session exists under newID the
// old record is simply re-keyed; when both exist they are merged into the
// target.
func (r *Registry) RemapSessionID(oldID, newID string) error {
	if oldID == "" || newID == "" || oldID == newID {
		return nil
	}
	r.mu.Lock()
	old, ok := r.sessions[oldID]
	if !ok {
		r.mu.Unlock()
		return ErrNoSession
	}

	target, exists := r.sessions[newID]
	if !exists {
		delete(r.sessions, oldID)
		old.id = newID
		r.sessions[newID] = old
	} else {
		r.mergeSessionsLocked(target, old)
		delete(r.sessions, oldID)
	}
	if r.activeID == oldID {
		r.activeID = newID
	}
	metricRemaps.Inc()
	r.armSweepLocked()
	snap, ls := r.commitLocked(true)
	r.mu.Unlock()
	notify(snap, ls)
	return nil
}

// mergeSessionsLocked folds src into dst. Participants merge by canonical
// key; messages union by id with per-id status resolution; the merged set
// is re-sorted by parsed timestamp (lexical tiebreak on the raw value for
// determinism); unread takes the maximum; metadata fills from whichever
// side has a value, preferring dst's existing one.
func (r *Registry) mergeSessionsLocked(dst, src *session) {
	dst.participants = mergeParticipants(dst.participants, src.participants)

	for _, m := range src.messages {
		if idx, ok := dst.index[m.ID]; ok {
			dst.messages[idx] = resolveCopy(dst.messages[idx], m)
			continue
		}
		dst.messages = append(dst.messages, m)
	}
	sort.SliceStable(dst.messages, func(i, j int) bool {
		return messageBefore(dst.messages[i], dst.messages[j])
	})
	dst.index = make(map[string]int, len(dst.messages))
	for i, m := range dst.messages {
		dst.index[m.ID] = i
	}
	r.trimLocked(dst)

	if src.unread > dst.unread {
		dst.unread = src.unread
	}
	if dst.title == "" {
		dst.title = src.title
	}
	if dst.avatar == "" {
		dst.avatar = src.avatar
	}
	if dst.createdBy == "" {
		dst.createdBy = src.createdBy
	}
	if dst.kind != models.TypeGroup && src.kind == models.TypeGroup {
		dst.kind = models.TypeGroup
	}
	for k, e := range src.typing {
		if cur, ok := dst.typing[k]; !ok || e.expiresAt.After(cur.expiresAt) {
			dst.typing[k] = e
		}
	}
	if src.lastActivity.After(dst.lastActivity) {
		dst.lastActivity = src.lastActivity
	}
}

// resolveCopy picks the surviving copy for a message id present on both
// sides: a sent copy wins over pending/failed; otherwise the existing copy
// stays.
func resolveCopy(existing, incoming models.Message) models.Message {
	if incoming.Status == models.StatusSent && existing.Status != models.StatusSent {
		return incoming
	}
	return existing
}

// messageBefore orders messages by parsed sentAt; when either side is
// unparsable (or they tie) the raw strings compare lexically to stay
// deterministic.
func messageBefore(a, b models.Message) bool {
	ta, aok := models.ParseTimestamp(a.SentAt)
	tb, bok := models.ParseTimestamp(b.SentAt)
	if aok && bok && !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.SentAt < b.SentAt
}
