package registry

import (
	"time"

	"chatsync/pkg/events"
	"chatsync/pkg/identity"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// applyTypingEvent ingests a chat.typing event. Self-authored events are
// filtered; typing=true (re)inserts an entry with a clamped expiry;
// typing=false removes it. Every mutation purges expired entries and
// re-arms the single sweep timer.
func (r *Registry) applyTypingEvent(ev *events.TypingEvent) {
	r.mu.Lock()

	key := identity.Canonicalize(ev.SenderID.String())
	if key == "" && ev.Sender != nil {
		key = identity.Canonicalize(identity.ResolveParticipantID(ev.Sender))
	}
	if key == "" {
		r.mu.Unlock()
		metricEventsDropped.WithLabelValues("unresolvable").Inc()
		return
	}
	if r.self.Has(key) || r.self.Has(ev.SenderID.String()) {
		r.mu.Unlock()
		metricEventsDropped.WithLabelValues("self_typing").Inc()
		return
	}

	convID := ev.ConversationID.String()
	s, ok := r.sessions[convID]
	if !ok {
		// typing never creates a session on its own; only events that name
		// the current user as a participant may, via the usual path
		if !r.involvesSelfLocked("", ev.Participants) {
			r.mu.Unlock()
			metricEventsDropped.WithLabelValues("not_addressed").Inc()
			return
		}
		s = r.ensureSessionLocked(Descriptor{ID: convID, Participants: ev.Participants})
		if s == nil {
			r.mu.Unlock()
			return
		}
	}

	changed := false
	if ev.Typing {
		entry := typingEntry{
			participant: r.typingParticipantLocked(key, ev),
			expiresAt:   r.typingExpiry(ev.ExpiresAt.String()),
		}
		s.typing[key] = entry
		changed = true
	} else if _, ok := s.typing[key]; ok {
		delete(s.typing, key)
		changed = true
	}

	if r.purgeExpiredLocked() {
		changed = true
	}
	r.armSweepLocked()
	metricEventsConsumed.WithLabelValues(events.KindTyping).Inc()
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
}

// typingParticipantLocked builds the sender's display record, preferring
// the inline sender field over the participants list over a bare id.
func (r *Registry) typingParticipantLocked(key string, ev *events.TypingEvent) models.Participant {
	if ev.Sender != nil {
		if p, ok := normalizeParticipant(ev.Sender); ok && identity.Canonicalize(p.ID) == key {
			return p
		}
	}
	for _, raw := range ev.Participants {
		if p, ok := normalizeParticipant(raw); ok && identity.Canonicalize(p.ID) == key {
			return p
		}
	}
	return models.Participant{ID: key, Name: key}
}

// typingExpiry clamps a payload-provided expiry to at least the minimum
// TTL from now; absent or invalid values get the default TTL.
func (r *Registry) typingExpiry(raw string) time.Time {
	now := r.now()
	min := now.Add(r.opts.TypingMinTTL)
	if t, ok := models.ParseTimestamp(raw); ok {
		if t.Before(min) {
			return min
		}
		return t
	}
	return now.Add(r.opts.TypingTTL)
}

// purgeExpiredLocked removes expired typing entries across all sessions.
func (r *Registry) purgeExpiredLocked() bool {
	now := r.now()
	changed := false
	for _, s := range r.sessions {
		for k, e := range s.typing {
			if !e.expiresAt.After(now) {
				delete(s.typing, k)
				changed = true
			}
		}
	}
	return changed
}

// armSweepLocked (re)arms the single sweep timer for the earliest
// outstanding expiry across all sessions. One timer bounds resource usage
// no matter how many sessions carry typing state.
func (r *Registry) armSweepLocked() {
	var earliest time.Time
	for _, s := range r.sessions {
		for _, e := range s.typing {
			if earliest.IsZero() || e.expiresAt.Before(earliest) {
				earliest = e.expiresAt
			}
		}
	}
	if r.sweepCancel != nil {
		r.sweepCancel()
		r.sweepCancel = nil
	}
	r.sweepDeadline = earliest
	if earliest.IsZero() || r.closed {
		return
	}
	d := earliest.Sub(r.now())
	if d < 0 {
		d = 0
	}
	r.sweepCancel = r.opts.Scheduler.After(d, r.onSweep)
}

// onSweep fires at the earliest expiry: purge, re-emit if anything
// changed, re-arm.
func (r *Registry) onSweep() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.sweepCancel = nil
	metricSweeps.Inc()
	changed := r.purgeExpiredLocked()
	r.armSweepLocked()
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
	if changed {
		logger.Debug("typing_sweep_purged")
	}
}
