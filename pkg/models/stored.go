package models

// StoredState is the persisted schema. Writes are suppressed until the
// registry finishes hydrating so a fresh process never clobbers durable
// state with an empty store.
type StoredState struct {
	ActiveSessionID string          `json:"activeSessionId,omitempty"`
	Sessions        []StoredSession `json:"sessions"`
}

type StoredSession struct {
	ID           string          `json:"id"`
	Type         SessionType     `json:"type"`
	Title        string          `json:"title,omitempty"`
	Avatar       string          `json:"avatar,omitempty"`
	CreatedBy    string          `json:"createdBy,omitempty"`
	Participants []Participant   `json:"participants"`
	Messages     []StoredMessage `json:"messages"`
}

type StoredMessage struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
	Body     string `json:"body"`
	SentAt   string `json:"sentAt"`
}

// LegacySession is the old single-peer schema, migrated to a direct session
// with one non-self participant on load.
type LegacySession struct {
	ID           string          `json:"id"`
	FriendUserID string          `json:"friendUserId"`
	FriendName   string          `json:"friendName,omitempty"`
	FriendAvatar string          `json:"friendAvatar,omitempty"`
	Messages     []StoredMessage `json:"messages"`
}
