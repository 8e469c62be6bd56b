package transport

import (
	"context"
	"sync"
)

// Memory is a synchronous loopback transport for tests and single-process
// runs: publishes are delivered inline to local subscribers.
type Memory struct {
	mu       sync.Mutex
	nextID   int
	subs     map[string]map[int]Handler
	clientID string
}

func NewMemory(clientID string) *Memory {
	return &Memory{subs: map[string]map[int]Handler{}, clientID: clientID}
}

func (m *Memory) Subscribe(channel string, h Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[channel] == nil {
		m.subs[channel] = map[int]Handler{}
	}
	id := m.nextID
	m.nextID++
	m.subs[channel][id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[channel], id)
	}, nil
}

func (m *Memory) Publish(_ context.Context, channel, event string, payload []byte) error {
	m.mu.Lock()
	hs := make([]Handler, 0, len(m.subs[channel]))
	for _, h := range m.subs[channel] {
		hs = append(hs, h)
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(event, payload)
	}
	return nil
}

func (m *Memory) ClientID() string { return m.clientID }

func (m *Memory) Close() error { return nil }
