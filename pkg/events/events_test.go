package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlexString(t *testing.T) {
	var v struct {
		A FlexString `json:"a"`
	}
	cases := map[string]string{
		`{"a":"hello"}`:        "hello",
		`{"a":42}`:             "42",
		`{"a":1767322800000}`:  "1767322800000",
		`{"a":null}`:           "",
		`{"a":1.5}`:            "1.5",
	}
	for in, want := range cases {
		v.A = ""
		require.NoError(t, json.Unmarshal([]byte(in), &v), in)
		require.Equal(t, want, v.A.String(), in)
	}

	require.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}

func TestDecodeMessage(t *testing.T) {
	ev, err := DecodeMessage([]byte(`{
		"conversationId": 987,
		"senderId": "user_ana",
		"localId": "local-1",
		"message": {"id": "m1", "body": "hi", "sentAt": 1767322800}
	}`))
	require.NoError(t, err)
	require.Equal(t, "987", ev.ConversationID.String())
	require.Equal(t, "local-1", ev.LocalID.String())
	require.Equal(t, "1767322800", ev.Message.SentAt.String())

	_, err = DecodeMessage([]byte(`{"message": {"id": "m1"}}`))
	require.Error(t, err, "missing conversationId")

	_, err = DecodeMessage([]byte(`{"conversationId": "c1", "message": {}}`))
	require.Error(t, err, "missing message id")

	_, err = DecodeMessage([]byte(`{"conversationId":`))
	require.Error(t, err)
}

func TestDecodeSessionIDFallback(t *testing.T) {
	// the conversation id may ride on the descriptor instead of the envelope
	ev, err := DecodeSession([]byte(`{"session": {"id": "conv-1", "type": "group"}}`))
	require.NoError(t, err)
	require.Equal(t, "conv-1", ev.ConversationID.String())

	_, err = DecodeSession([]byte(`{"session": {}}`))
	require.Error(t, err)
}

func TestDecodeTyping(t *testing.T) {
	ev, err := DecodeTyping([]byte(`{"conversationId": "c1", "senderId": "user_ana", "typing": true}`))
	require.NoError(t, err)
	require.True(t, ev.Typing)

	_, err = DecodeTyping([]byte(`{"senderId": "user_ana"}`))
	require.Error(t, err)
}
