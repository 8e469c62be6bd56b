// Package events defines the inbound realtime event kinds consumed by the
// registry. Each kind is a tagged variant decoded and validated at the
// boundary; malformed payloads are reported as errors so the caller can
// drop them without mutating any state.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	KindMessage = "chat.message"
	KindSession = "chat.session"
	KindTyping  = "chat.typing"
)

// FlexString accepts a JSON string or number, normalizing to a string.
// Wire emitters are inconsistent about timestamp and id types.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	// render integral floats without the exponent/fraction
	if i, err := n.Int64(); err == nil {
		*f = FlexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// SessionPatch carries optional session metadata piggybacked on a message
// event.
type SessionPatch struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Avatar    string `json:"avatar"`
	CreatedBy string `json:"createdBy"`
}

// SessionDescriptor is the full session shape carried by chat.session.
type SessionDescriptor struct {
	ID           FlexString       `json:"id"`
	Type         string           `json:"type"`
	Title        string           `json:"title"`
	Avatar       string           `json:"avatar"`
	CreatedBy    string           `json:"createdBy"`
	Participants []map[string]any `json:"participants"`
}

// MessageEvent is a chat.message payload. LocalID echoes the client-minted
// id on messages the current client published, enabling optimistic-message
// reconciliation when the copy comes back around.
type MessageEvent struct {
	ConversationID FlexString       `json:"conversationId"`
	SenderID       FlexString       `json:"senderId"`
	LocalID        FlexString       `json:"localId"`
	Participants   []map[string]any `json:"participants"`
	Session        *SessionPatch    `json:"session"`
	Message        struct {
		ID     FlexString `json:"id"`
		Body   string     `json:"body"`
		SentAt FlexString `json:"sentAt"`
	} `json:"message"`
}

// SessionEvent is a chat.session payload.
type SessionEvent struct {
	ConversationID FlexString        `json:"conversationId"`
	Session        SessionDescriptor `json:"session"`
}

// TypingEvent is a chat.typing payload.
type TypingEvent struct {
	ConversationID FlexString       `json:"conversationId"`
	SenderID       FlexString       `json:"senderId"`
	Typing         bool             `json:"typing"`
	Sender         map[string]any   `json:"sender"`
	Participants   []map[string]any `json:"participants"`
	ExpiresAt      FlexString       `json:"expiresAt"`
}

// DecodeMessage decodes and validates a chat.message payload.
func DecodeMessage(payload []byte) (*MessageEvent, error) {
	var ev MessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode chat.message: %w", err)
	}
	if ev.ConversationID == "" {
		return nil, fmt.Errorf("chat.message: missing conversationId")
	}
	if ev.Message.ID == "" {
		return nil, fmt.Errorf("chat.message: missing message id")
	}
	return &ev, nil
}

// DecodeSession decodes and validates a chat.session payload. The
// conversation id may ride on either the envelope or the descriptor.
func DecodeSession(payload []byte) (*SessionEvent, error) {
	var ev SessionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode chat.session: %w", err)
	}
	if ev.ConversationID == "" {
		ev.ConversationID = ev.Session.ID
	}
	if ev.ConversationID == "" {
		return nil, fmt.Errorf("chat.session: missing conversationId")
	}
	return &ev, nil
}

// DecodeTyping decodes and validates a chat.typing payload.
func DecodeTyping(payload []byte) (*TypingEvent, error) {
	var ev TypingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode chat.typing: %w", err)
	}
	if ev.ConversationID == "" {
		return nil, fmt.Errorf("chat.typing: missing conversationId")
	}
	return &ev, nil
}
