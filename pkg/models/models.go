package models

import (
	"strconv"
	"time"
)

// SessionType distinguishes one-to-one conversations from multi-party ones.
type SessionType string

const (
	TypeDirect SessionType = "direct"
	TypeGroup  SessionType = "group"
)

// MessageStatus tracks the delivery lifecycle of a message. A pending
// message transitions to sent (ack) or failed (publish error), never back.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Participant is a conversation member. ID is always a canonical user key;
// records whose identity cannot be canonicalized are dropped on ingestion.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is a single chat message inside a session. SentAt is kept as the
// raw wire string so merge ordering can fall back to a lexical compare when
// the value is unparsable.
type Message struct {
	ID       string        `json:"id"`
	AuthorID string        `json:"authorId"`
	Body     string        `json:"body"`
	SentAt   string        `json:"sentAt"`
	Status   MessageStatus `json:"status"`
}

// ParseTimestamp parses a wire timestamp: RFC3339 (with or without
// fractional seconds) or an integer epoch in seconds or milliseconds.
// ok is false when nothing parses.
func ParseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// heuristic: values past the year ~2100 in seconds are milliseconds
		if n > 4_000_000_000 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}
