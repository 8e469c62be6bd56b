package registry

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/models"
)

var wsRe = regexp.MustCompile(`\s+`)

// collapseBody collapses runs of whitespace and trims the result. An empty
// result means the message must be dropped.
func collapseBody(body string) string {
	return strings.TrimSpace(wsRe.ReplaceAllString(body, " "))
}

// Ack carries the authoritative server fields reconciled into an
// optimistic local message.
type Ack struct {
	ID       string
	AuthorID string
	Body     string
	SentAt   string
}

// addMessageLocked appends a message to the session ledger, or merges it
// into the existing entry when the id is already indexed (idempotent
// re-application). Unread only increments for non-local messages while the
// session is not active. Reports whether anything changed.
func (r *Registry) addMessageLocked(s *session, msg models.Message, isLocal bool) bool {
	msg.Body = collapseBody(msg.Body)
	if msg.ID == "" || msg.Body == "" {
		return false
	}
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}

	if idx, ok := s.index[msg.ID]; ok {
		changed := mergeMessage(&s.messages[idx], msg)
		if changed {
			metricMessagesDeduped.Inc()
			r.touchActivityLocked(s, msg.SentAt)
		}
		return changed
	}

	s.messages = append(s.messages, msg)
	s.index[msg.ID] = len(s.messages) - 1
	metricMessagesAppended.Inc()

	if !isLocal && s.id != r.activeID {
		s.unread++
	}
	if isLocal && s.id == r.activeID {
		s.unread = 0
	}
	r.touchActivityLocked(s, msg.SentAt)
	r.trimLocked(s)
	return true
}

// mergeMessage folds non-empty incoming fields into an existing entry.
// Status never moves back to pending; sent is terminal.
func mergeMessage(dst *models.Message, src models.Message) bool {
	changed := false
	if src.Body != "" && src.Body != dst.Body {
		dst.Body = src.Body
		changed = true
	}
	if src.SentAt != "" && src.SentAt != dst.SentAt {
		dst.SentAt = src.SentAt
		changed = true
	}
	if src.AuthorID != "" && src.AuthorID != dst.AuthorID {
		dst.AuthorID = src.AuthorID
		changed = true
	}
	if src.Status != "" && src.Status != dst.Status && allowedTransition(dst.Status, src.Status) {
		dst.Status = src.Status
		changed = true
	}
	return changed
}

func allowedTransition(from, to models.MessageStatus) bool {
	if from == models.StatusSent {
		return false
	}
	return to != models.StatusPending
}

// trimLocked enforces the per-session message bound, dropping from the
// oldest end and rebuilding the id index so positions stay consistent.
func (r *Registry) trimLocked(s *session) {
	max := r.opts.MaxMessages
	if len(s.messages) <= max {
		return
	}
	drop := len(s.messages) - max
	for _, m := range s.messages[:drop] {
		delete(s.index, m.ID)
	}
	s.messages = append(s.messages[:0], s.messages[drop:]...)
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}

func (r *Registry) touchActivityLocked(s *session, sentAt string) {
	if t, ok := models.ParseTimestamp(sentAt); ok {
		s.lastActivity = t
		return
	}
	s.lastActivity = r.now()
}

// acknowledgeLocked reconciles an optimistic message with the server copy.
// Priority: rekey the local entry in place; else merge into an existing
// entry under the server id (duplicate delivery) only if something
// actually changed; else treat as a brand-new inbound message.
func (r *Registry) acknowledgeLocked(s *session, localID string, ack Ack) bool {
	if idx, ok := s.index[localID]; ok {
		// The server copy may already sit in the ledger under its own id
		// (delivered without a localId). Re-keying on top of it would leave
		// two entries with the same id; fold the optimistic entry into the
		// server one instead, keeping the earlier position.
		if dupIdx, dup := s.index[ack.ID]; dup && ack.ID != localID {
			merged := s.messages[dupIdx]
			mergeMessage(&merged, models.Message{
				AuthorID: ack.AuthorID,
				Body:     ack.Body,
				SentAt:   ack.SentAt,
				Status:   models.StatusSent,
			})
			keep, drop := dupIdx, idx
			if idx < dupIdx {
				keep, drop = idx, dupIdx
			}
			s.messages[keep] = merged
			s.messages = append(s.messages[:drop], s.messages[drop+1:]...)
			s.index = make(map[string]int, len(s.messages))
			for i, m := range s.messages {
				s.index[m.ID] = i
			}
			metricAcks.Inc()
			metricMessagesDeduped.Inc()
			r.touchActivityLocked(s, merged.SentAt)
			return true
		}
		m := &s.messages[idx]
		changed := mergeMessage(m, models.Message{
			AuthorID: ack.AuthorID,
			Body:     ack.Body,
			SentAt:   ack.SentAt,
			Status:   models.StatusSent,
		})
		if ack.ID != "" && ack.ID != localID {
			delete(s.index, localID)
			m.ID = ack.ID
			s.index[ack.ID] = idx
			changed = true
		}
		if changed {
			metricAcks.Inc()
			r.touchActivityLocked(s, m.SentAt)
		}
		return changed
	}

	if idx, ok := s.index[ack.ID]; ok {
		return mergeMessage(&s.messages[idx], models.Message{
			AuthorID: ack.AuthorID,
			Body:     ack.Body,
			SentAt:   ack.SentAt,
			Status:   models.StatusSent,
		})
	}

	return r.addMessageLocked(s, models.Message{
		ID:       ack.ID,
		AuthorID: ack.AuthorID,
		Body:     ack.Body,
		SentAt:   ack.SentAt,
		Status:   models.StatusSent,
	}, r.self.Has(ack.AuthorID))
}

// prepareLocalLocked validates and appends an optimistic pending message,
// minting a local id and timestamp. The session must exist and a self
// identity must have resolved.
func (r *Registry) prepareLocalLocked(sessionID, body string) (models.Message, error) {
	body = collapseBody(body)
	if body == "" {
		return models.Message{}, ErrEmptyBody
	}
	if r.selfID == "" {
		return models.Message{}, ErrIdentityNotReady
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return models.Message{}, ErrNoSession
	}
	// make sure self is a member with the preferred display metadata
	s.participants = mergeParticipants(s.participants, []models.Participant{r.selfPart})

	msg := models.Message{
		ID:       "local-" + uuid.NewString(),
		AuthorID: r.selfID,
		Body:     body,
		SentAt:   r.now().UTC().Format(time.RFC3339Nano),
		Status:   models.StatusPending,
	}
	r.addMessageLocked(s, msg, true)
	return msg, nil
}
