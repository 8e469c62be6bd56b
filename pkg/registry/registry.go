// Package registry implements the chat session synchronization engine: an
// in-memory store reconciling optimistic local actions with asynchronous
// realtime events. All mutations run synchronously to completion; every
// committed mutation rebuilds the snapshot, persists it, and notifies
// listeners exactly once.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/events"
	"chatsync/pkg/identity"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/storage"
	"chatsync/pkg/transport"
)

var (
	// ErrIdentityNotReady is returned when a local send is attempted before
	// any self identity resolved. The UI must surface this, not swallow it.
	ErrIdentityNotReady = errors.New("registry: self identity not ready")
	// ErrEmptyBody is returned when a message body is empty after
	// whitespace collapsing.
	ErrEmptyBody = errors.New("registry: empty message body")
	// ErrNoSession is returned when the named session does not exist.
	ErrNoSession = errors.New("registry: session not found")
	// ErrNotFailed is returned when a retry targets a message that is not
	// in the failed state.
	ErrNotFailed = errors.New("registry: message is not failed")
)

const (
	defaultMaxMessages  = 200
	defaultTypingTTL    = 6 * time.Second
	defaultTypingMinTTL = 1500 * time.Millisecond
)

// Options configures a Registry. Storage is required; everything else has
// a usable default.
type Options struct {
	Storage      storage.Store
	Transport    transport.Transport
	Channel      string
	MaxMessages  int
	TypingTTL    time.Duration
	TypingMinTTL time.Duration
	Scheduler    Scheduler
	Clock        func() time.Time
}

type typingEntry struct {
	participant models.Participant
	expiresAt   time.Time
}

// session is the internal mutable record. External callers only ever see
// snapshot copies.
type session struct {
	id           string
	kind         models.SessionType
	title        string // explicit title only; display titles are computed
	avatar       string
	createdBy    string
	participants []models.Participant
	messages     []models.Message
	index        map[string]int
	unread       int
	typing       map[string]typingEntry
	lastActivity time.Time
}

// Registry is the session store. A single mutex serializes all mutating
// operations, preserving the engine's one-notification-per-change contract
// across the transport and HTTP goroutines.
type Registry struct {
	mu   sync.Mutex
	opts Options

	sessions map[string]*session
	activeID string

	self     *identity.AliasSet
	selfID   string
	selfPart models.Participant

	hydrated bool
	closed   bool

	snap          Snapshot
	listeners     map[int]func(Snapshot)
	nextListener  int
	sweepCancel   func()
	sweepDeadline time.Time
}

// New constructs a Registry. Call Hydrate before expecting persistence.
func New(opts Options) *Registry {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaultMaxMessages
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = defaultTypingTTL
	}
	if opts.TypingMinTTL <= 0 {
		opts.TypingMinTTL = defaultTypingMinTTL
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewScheduler()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Channel == "" {
		opts.Channel = "chat.events"
	}
	return &Registry{
		opts:      opts,
		sessions:  map[string]*session{},
		self:      identity.NewAliasSet(),
		listeners: map[int]func(Snapshot){},
	}
}

func (r *Registry) now() time.Time { return r.opts.Clock() }

// SetIdentity installs the authenticated user identity. The id becomes the
// primary self alias; the transport client id (if any) stays a secondary
// alias. Existing sessions get the self participant re-injected so display
// metadata follows the authenticated profile.
func (r *Registry) SetIdentity(id, name, avatar string) {
	r.mu.Lock()
	key := identity.Canonicalize(id)
	if key == "" {
		key = id
	}
	r.selfID = key
	aliases := []string{id}
	if r.opts.Transport != nil {
		if cid := r.opts.Transport.ClientID(); cid != "" {
			aliases = append(aliases, cid)
		}
	}
	r.self.Reset(aliases...)
	if name == "" {
		name = key
	}
	r.selfPart = models.Participant{ID: key, Name: name, Avatar: avatar}
	changed := key != ""
	for _, s := range r.sessions {
		s.participants = mergeParticipants(s.participants, []models.Participant{r.selfPart})
	}
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
}

// AdoptClientID records a transport-assigned client id as a self alias.
// Called when the transport (re)connects.
func (r *Registry) AdoptClientID(clientID string) {
	if clientID == "" {
		return
	}
	r.mu.Lock()
	r.self.Add(clientID)
	r.mu.Unlock()
}

// Subscribe registers a snapshot listener and returns an unsubscribe
// function. Listeners are invoked synchronously after every committed
// mutation.
func (r *Registry) Subscribe(fn func(Snapshot)) func() {
	r.mu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Snapshot returns the last committed snapshot.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Ready reports whether hydration has completed. Before that the snapshot
// may not reflect durable state yet.
func (r *Registry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hydrated
}

// OpenSession marks a session active; its unread count drops to zero in
// the next snapshot.
func (r *Registry) OpenSession(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNoSession
	}
	r.activeID = id
	changed := s.unread != 0 || r.snap.ActiveSessionID != id
	s.unread = 0
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
	return nil
}

// CloseActive clears the active-session pointer.
func (r *Registry) CloseActive() {
	r.mu.Lock()
	changed := r.activeID != ""
	r.activeID = ""
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
}

// DeleteSession destroys a session. This is the only way a session dies.
func (r *Registry) DeleteSession(id string) error {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return ErrNoSession
	}
	delete(r.sessions, id)
	if r.activeID == id {
		r.activeID = ""
	}
	r.armSweepLocked()
	snap, ls := r.commitLocked(true)
	r.mu.Unlock()
	notify(snap, ls)
	return nil
}

// EnsureSession creates or updates a session from a descriptor and returns
// its id.
func (r *Registry) EnsureSession(d Descriptor) string {
	r.mu.Lock()
	s := r.ensureSessionLocked(d)
	var id string
	if s != nil {
		id = s.id
	}
	snap, ls := r.commitLocked(s != nil)
	r.mu.Unlock()
	notify(snap, ls)
	return id
}

// RefreshRoster updates stale participant display metadata from a friend
// roster. It never creates sessions.
func (r *Registry) RefreshRoster(roster []models.Participant) {
	r.mu.Lock()
	byKey := make(map[string]models.Participant, len(roster))
	for _, p := range roster {
		k := identity.Canonicalize(p.ID)
		if k == "" {
			continue
		}
		byKey[k] = p
	}
	changed := false
	for _, s := range r.sessions {
		for i := range s.participants {
			fresh, ok := byKey[s.participants[i].ID]
			if !ok {
				continue
			}
			if fresh.Name != "" && fresh.Name != fresh.ID && fresh.Name != s.participants[i].Name {
				s.participants[i].Name = fresh.Name
				changed = true
			}
			if fresh.Avatar != "" && fresh.Avatar != s.participants[i].Avatar {
				s.participants[i].Avatar = fresh.Avatar
				changed = true
			}
		}
	}
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
}

// PruneIdle deletes sessions whose last activity is older than maxAge,
// sparing the active session. Used by the retention sweeper; returns the
// number of sessions removed.
func (r *Registry) PruneIdle(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	r.mu.Lock()
	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, s := range r.sessions {
		if id == r.activeID {
			continue
		}
		if r.activityOf(s).Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	snap, ls := r.commitLocked(removed > 0)
	r.mu.Unlock()
	notify(snap, ls)
	if removed > 0 {
		logger.Info("sessions_pruned", "count", removed, "max_idle", maxAge.String())
	}
	return removed
}

// HandleEvent routes an inbound realtime event into the engine. Malformed
// events and events not involving the current user are dropped silently.
func (r *Registry) HandleEvent(event string, payload []byte) {
	switch event {
	case events.KindMessage:
		ev, err := events.DecodeMessage(payload)
		if err != nil {
			logger.Warn("event_malformed", "kind", event, "error", err)
			metricEventsDropped.WithLabelValues("malformed").Inc()
			return
		}
		r.applyMessageEvent(ev)
	case events.KindSession:
		ev, err := events.DecodeSession(payload)
		if err != nil {
			logger.Warn("event_malformed", "kind", event, "error", err)
			metricEventsDropped.WithLabelValues("malformed").Inc()
			return
		}
		r.applySessionEvent(ev)
	case events.KindTyping:
		ev, err := events.DecodeTyping(payload)
		if err != nil {
			logger.Warn("event_malformed", "kind", event, "error", err)
			metricEventsDropped.WithLabelValues("malformed").Inc()
			return
		}
		r.applyTypingEvent(ev)
	default:
		metricEventsDropped.WithLabelValues("unknown_kind").Inc()
	}
}

// involves reports whether the sender or any participant resolves to one
// of the current user's identities.
func (r *Registry) involvesSelfLocked(senderID string, participants []map[string]any) bool {
	if senderID != "" && r.self.Has(senderID) {
		return true
	}
	for _, p := range participants {
		if id := identity.ResolveParticipantID(p); id != "" && r.self.Has(id) {
			return true
		}
	}
	return false
}

func (r *Registry) applyMessageEvent(ev *events.MessageEvent) {
	r.mu.Lock()
	if !r.involvesSelfLocked(ev.SenderID.String(), ev.Participants) {
		r.mu.Unlock()
		metricEventsDropped.WithLabelValues("not_addressed").Inc()
		return
	}
	d := Descriptor{ID: ev.ConversationID.String(), Participants: ev.Participants}
	if ev.Session != nil {
		d.Type = ev.Session.Type
		d.Title = ev.Session.Title
		d.Avatar = ev.Session.Avatar
		d.CreatedBy = ev.Session.CreatedBy
	}
	s := r.ensureSessionLocked(d)
	if s == nil {
		r.mu.Unlock()
		metricEventsDropped.WithLabelValues("unresolvable").Inc()
		return
	}

	author := identity.Canonicalize(ev.SenderID.String())
	if author == "" {
		author = ev.SenderID.String()
	}
	fromSelf := r.self.Has(ev.SenderID.String())

	var changed bool
	if ev.LocalID != "" && fromSelf {
		changed = r.acknowledgeLocked(s, ev.LocalID.String(), Ack{
			ID:       ev.Message.ID.String(),
			AuthorID: author,
			Body:     ev.Message.Body,
			SentAt:   ev.Message.SentAt.String(),
		})
	} else {
		changed = r.addMessageLocked(s, models.Message{
			ID:       ev.Message.ID.String(),
			AuthorID: author,
			Body:     ev.Message.Body,
			SentAt:   ev.Message.SentAt.String(),
			Status:   models.StatusSent,
		}, fromSelf)
	}
	metricEventsConsumed.WithLabelValues(events.KindMessage).Inc()
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
}

func (r *Registry) applySessionEvent(ev *events.SessionEvent) {
	r.mu.Lock()
	if !r.involvesSelfLocked("", ev.Session.Participants) {
		r.mu.Unlock()
		metricEventsDropped.WithLabelValues("not_addressed").Inc()
		return
	}
	s := r.ensureSessionLocked(Descriptor{
		ID:           ev.ConversationID.String(),
		Type:         ev.Session.Type,
		Title:        ev.Session.Title,
		Avatar:       ev.Session.Avatar,
		CreatedBy:    ev.Session.CreatedBy,
		Participants: ev.Session.Participants,
	})
	metricEventsConsumed.WithLabelValues(events.KindSession).Inc()
	snap, ls := r.commitLocked(s != nil)
	r.mu.Unlock()
	notify(snap, ls)
}

// Send validates and appends an optimistic pending message, then publishes
// it. A publish failure marks the message failed and is returned to the
// caller for retry UI; local state is never rolled back.
func (r *Registry) Send(ctx context.Context, sessionID, body string) (models.Message, error) {
	r.mu.Lock()
	msg, err := r.prepareLocalLocked(sessionID, body)
	if err != nil {
		r.mu.Unlock()
		return models.Message{}, err
	}
	payload := r.outboundPayloadLocked(sessionID, msg)
	snap, ls := r.commitLocked(true)
	r.mu.Unlock()
	notify(snap, ls)

	if r.opts.Transport == nil {
		return msg, nil
	}
	if perr := r.opts.Transport.Publish(ctx, r.opts.Channel, events.KindMessage, payload); perr != nil {
		r.markFailed(sessionID, msg.ID)
		return msg, fmt.Errorf("publish message: %w", perr)
	}
	return msg, nil
}

// Retry republishes a failed message under its original id. The message
// only transitions failed→sent on ack; it never returns to pending.
func (r *Registry) Retry(ctx context.Context, sessionID, messageID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNoSession
	}
	idx, ok := s.index[messageID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: message %s not found: %w", messageID, ErrNoSession)
	}
	msg := s.messages[idx]
	if msg.Status != models.StatusFailed {
		r.mu.Unlock()
		return fmt.Errorf("registry: message %s is %s: %w", messageID, msg.Status, ErrNotFailed)
	}
	payload := r.outboundPayloadLocked(sessionID, msg)
	r.mu.Unlock()

	if r.opts.Transport == nil {
		return nil
	}
	if err := r.opts.Transport.Publish(ctx, r.opts.Channel, events.KindMessage, payload); err != nil {
		r.markFailed(sessionID, messageID)
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (r *Registry) markFailed(sessionID, messageID string) {
	r.mu.Lock()
	changed := false
	if s, ok := r.sessions[sessionID]; ok {
		if idx, ok := s.index[messageID]; ok && s.messages[idx].Status != models.StatusSent {
			if s.messages[idx].Status != models.StatusFailed {
				s.messages[idx].Status = models.StatusFailed
				changed = true
			}
		}
	}
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
}

// outboundPayloadLocked builds the chat.message payload for a local
// message. localId rides along so the echoed copy reconciles with the
// optimistic entry.
func (r *Registry) outboundPayloadLocked(sessionID string, msg models.Message) []byte {
	s := r.sessions[sessionID]
	if s == nil {
		return nil
	}
	parts := make([]map[string]any, 0, len(s.participants))
	for _, p := range s.participants {
		parts = append(parts, map[string]any{"id": p.ID, "name": p.Name, "avatar": p.Avatar})
	}
	out := map[string]any{
		"conversationId": sessionID,
		"senderId":       r.selfID,
		"localId":        msg.ID,
		"participants":   parts,
		"session": map[string]any{
			"type":      string(s.kind),
			"title":     s.title,
			"avatar":    s.avatar,
			"createdBy": s.createdBy,
		},
		"message": map[string]any{
			"id":     msg.ID,
			"body":   msg.Body,
			"sentAt": msg.SentAt,
		},
	}
	b, err := json.Marshal(out)
	if err != nil {
		logger.Error("outbound_payload_marshal_failed", "session", sessionID, "error", err)
		return nil
	}
	return b
}

// AddMessage appends (or merges) a message into a session's ledger.
// Exposed for callers that reconcile out-of-band deliveries.
func (r *Registry) AddMessage(sessionID string, msg models.Message, isLocal bool) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNoSession
	}
	changed := r.addMessageLocked(s, msg, isLocal)
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
	return nil
}

// AcknowledgeMessage reconciles an optimistic local message with the
// authoritative server copy.
func (r *Registry) AcknowledgeMessage(sessionID, localID string, ack Ack) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNoSession
	}
	changed := r.acknowledgeLocked(s, localID, ack)
	snap, ls := r.commitLocked(changed)
	r.mu.Unlock()
	notify(snap, ls)
	return nil
}

// StartConversation creates (or returns) a direct session with the given
// peer and makes it active.
func (r *Registry) StartConversation(peer models.Participant) (string, error) {
	key := identity.Canonicalize(peer.ID)
	if key == "" {
		return "", fmt.Errorf("registry: unresolvable peer id %q", peer.ID)
	}
	r.mu.Lock()
	// reuse an existing direct session with this peer
	for id, s := range r.sessions {
		if s.kind != models.TypeDirect {
			continue
		}
		for _, p := range s.participants {
			if p.ID == key {
				r.activeID = id
				s.unread = 0
				snap, ls := r.commitLocked(true)
				r.mu.Unlock()
				notify(snap, ls)
				return id, nil
			}
		}
	}
	id := "local-" + uuid.NewString()
	peer.ID = key
	if peer.Name == "" {
		peer.Name = key
	}
	s := r.newSessionLocked(id, models.TypeDirect, "", "", r.selfID)
	s.participants = mergeParticipants([]models.Participant{r.selfPart}, []models.Participant{peer})
	r.sessions[id] = s
	r.activeID = id
	snap, ls := r.commitLocked(true)
	r.mu.Unlock()
	notify(snap, ls)
	return id, nil
}

// Close tears the registry down, clearing any outstanding sweep timer.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	if r.sweepCancel != nil {
		r.sweepCancel()
		r.sweepCancel = nil
	}
	r.listeners = map[int]func(Snapshot){}
	r.mu.Unlock()
}

// commitLocked finalizes a mutation: snapshot rebuild, persistence write,
// and listener collection. Callers invoke notify after releasing the lock.
func (r *Registry) commitLocked(changed bool) (Snapshot, []func(Snapshot)) {
	if !changed || r.closed {
		return Snapshot{}, nil
	}
	r.rebuildSnapshotLocked()
	r.persistLocked()
	ls := make([]func(Snapshot), 0, len(r.listeners))
	for _, fn := range r.listeners {
		ls = append(ls, fn)
	}
	return r.snap, ls
}

func notify(snap Snapshot, ls []func(Snapshot)) {
	for _, fn := range ls {
		fn(snap)
	}
}

func (r *Registry) newSessionLocked(id string, kind models.SessionType, title, avatar, createdBy string) *session {
	return &session{
		id:           id,
		kind:         kind,
		title:        title,
		avatar:       avatar,
		createdBy:    createdBy,
		index:        map[string]int{},
		typing:       map[string]typingEntry{},
		lastActivity: r.now(),
	}
}
