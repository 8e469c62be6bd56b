package registry

import (
	"encoding/json"
	"errors"

	"chatsync/pkg/identity"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/storage"
)

// StateKey is the storage key the registry persists under.
const StateKey = "chatsync:state"

// persistLocked writes the current state. Writes are suppressed until
// hydration completes so startup never clobbers durable state with an
// empty store. Storage errors are logged, never fatal.
func (r *Registry) persistLocked() {
	if !r.hydrated || r.opts.Storage == nil {
		return
	}
	b, err := json.Marshal(r.storedLocked())
	if err != nil {
		logger.Error("persist_marshal_failed", "error", err)
		return
	}
	if err := r.opts.Storage.SetItem(StateKey, b); err != nil {
		logger.Error("persist_write_failed", "error", err)
	}
}

func (r *Registry) storedLocked() models.StoredState {
	// Sessions stays non-nil even when empty so the record marshals as a
	// current-schema object, not "sessions":null, which rehydration would
	// misread as the legacy array format.
	st := models.StoredState{
		ActiveSessionID: r.activeID,
		Sessions:        make([]models.StoredSession, 0, len(r.snap.Sessions)),
	}
	// reuse the snapshot ordering for a deterministic on-disk layout
	for _, v := range r.snap.Sessions {
		s, ok := r.sessions[v.ID]
		if !ok {
			continue
		}
		ss := models.StoredSession{
			ID:           s.id,
			Type:         s.kind,
			Title:        s.title,
			Avatar:       s.avatar,
			CreatedBy:    s.createdBy,
			Participants: append([]models.Participant(nil), s.participants...),
		}
		for _, m := range s.messages {
			ss.Messages = append(ss.Messages, models.StoredMessage{
				ID: m.ID, AuthorID: m.AuthorID, Body: m.Body, SentAt: m.SentAt,
			})
		}
		st.Sessions = append(st.Sessions, ss)
	}
	return st
}

// Hydrate loads durable state. Both the current schema and the legacy
// single-peer schema are accepted; malformed records are skipped
// individually and read/parse errors degrade to "no prior state". Hydrate
// always marks the store ready.
func (r *Registry) Hydrate() {
	var raw []byte
	if r.opts.Storage != nil {
		b, err := r.opts.Storage.GetItem(StateKey)
		switch {
		case err == nil:
			raw = b
		case errors.Is(err, storage.ErrNotFound):
			// first run
		default:
			logger.Warn("hydrate_read_failed", "error", err)
		}
	}

	r.mu.Lock()
	if len(raw) > 0 {
		r.restoreLocked(raw)
	}
	r.hydrated = true
	snap, ls := r.commitLocked(true)
	r.mu.Unlock()
	notify(snap, ls)
	logger.Info("registry_hydrated", "sessions", len(r.sessions))
}

func (r *Registry) restoreLocked(raw []byte) {
	var st models.StoredState
	if err := json.Unmarshal(raw, &st); err == nil && st.Sessions != nil {
		for _, ss := range st.Sessions {
			if s := r.restoreSessionLocked(ss); s != nil {
				r.sessions[s.id] = s
			}
		}
		if _, ok := r.sessions[st.ActiveSessionID]; ok {
			r.activeID = st.ActiveSessionID
		}
		return
	}

	// legacy single-peer schema
	var legacy []models.LegacySession
	if err := json.Unmarshal(raw, &legacy); err != nil {
		logger.Warn("hydrate_parse_failed", "error", err)
		return
	}
	migrated := 0
	for _, ls := range legacy {
		key := identity.Canonicalize(ls.FriendUserID)
		if ls.ID == "" || key == "" {
			logger.Warn("hydrate_legacy_record_skipped", "id", ls.ID)
			continue
		}
		name := ls.FriendName
		if name == "" {
			name = key
		}
		ss := models.StoredSession{
			ID:           ls.ID,
			Type:         models.TypeDirect,
			Participants: []models.Participant{{ID: key, Name: name, Avatar: ls.FriendAvatar}},
			Messages:     ls.Messages,
		}
		if s := r.restoreSessionLocked(ss); s != nil {
			r.sessions[s.id] = s
			migrated++
		}
	}
	if migrated > 0 {
		logger.Info("hydrate_legacy_migrated", "sessions", migrated)
	}
}

// restoreSessionLocked rebuilds one session from its stored record,
// skipping it entirely when malformed. Stored messages restore as sent:
// pending/failed state is not durable.
func (r *Registry) restoreSessionLocked(ss models.StoredSession) *session {
	if ss.ID == "" {
		logger.Warn("hydrate_record_skipped", "reason", "empty id")
		return nil
	}
	kind := ss.Type
	if kind != models.TypeGroup {
		kind = models.TypeDirect
	}
	s := r.newSessionLocked(ss.ID, kind, ss.Title, ss.Avatar, ss.CreatedBy)

	parts := make([]models.Participant, 0, len(ss.Participants))
	for _, p := range ss.Participants {
		key := identity.Canonicalize(p.ID)
		if key == "" {
			continue
		}
		p.ID = key
		parts = append(parts, p)
	}
	s.participants = mergeParticipants(parts)

	for _, m := range ss.Messages {
		r.addMessageLocked(s, models.Message{
			ID:       m.ID,
			AuthorID: m.AuthorID,
			Body:     m.Body,
			SentAt:   m.SentAt,
			Status:   models.StatusSent,
		}, true)
	}
	// restored unread state is intentionally zero; unread only accumulates
	// from live events
	s.unread = 0
	return s
}
