package transport

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chatsync/pkg/logger"
)

const (
	// eventConnected is the server hello carrying the assigned client id.
	eventConnected   = "transport.connected"
	eventSubscribe   = "transport.subscribe"
	eventUnsubscribe = "transport.unsubscribe"
)

// WSConfig tunes the websocket transport's reconnect behavior.
type WSConfig struct {
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

func (c *WSConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
}

// WS is a Transport over a single websocket connection. Frames are JSON
// Envelopes; the server assigns the client id in a transport.connected
// frame after dial.
type WS struct {
	url string
	cfg WSConfig

	mu       sync.Mutex
	conn     *websocket.Conn
	subs     map[string]map[int]Handler
	nextID   int
	clientID string
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// DialWS connects to the realtime endpoint and starts the read loop.
func DialWS(ctx context.Context, url string, cfg WSConfig) (*WS, error) {
	cfg.defaults()
	runCtx, cancel := context.WithCancel(context.Background())
	t := &WS{
		url:    url,
		cfg:    cfg,
		subs:   map[string]map[int]Handler{},
		ctx:    runCtx,
		cancel: cancel,
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	t.conn = conn
	go t.readLoop()
	return t, nil
}

func (t *WS) Subscribe(channel string, h Handler) (func(), error) {
	t.mu.Lock()
	if t.subs[channel] == nil {
		t.subs[channel] = map[int]Handler{}
	}
	id := t.nextID
	t.nextID++
	t.subs[channel][id] = h
	first := len(t.subs[channel]) == 1
	conn := t.conn
	t.mu.Unlock()

	if first && conn != nil {
		if err := wsjson.Write(t.ctx, conn, Envelope{Channel: channel, Event: eventSubscribe}); err != nil {
			logger.Warn("ws_subscribe_write_failed", "channel", channel, "error", err)
		}
	}
	return func() {
		t.mu.Lock()
		delete(t.subs[channel], id)
		empty := len(t.subs[channel]) == 0
		conn := t.conn
		t.mu.Unlock()
		if empty && conn != nil {
			_ = wsjson.Write(t.ctx, conn, Envelope{Channel: channel, Event: eventUnsubscribe})
		}
	}, nil
}

func (t *WS) Publish(ctx context.Context, channel, event string, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return context.Canceled
	}
	return wsjson.Write(ctx, conn, Envelope{Channel: channel, Event: event, Payload: payload})
}

func (t *WS) ClientID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientID
}

func (t *WS) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	t.cancel()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	return nil
}

func (t *WS) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		closed := t.closed
		t.mu.Unlock()
		if closed || conn == nil {
			return
		}

		var env Envelope
		if err := wsjson.Read(t.ctx, conn, &env); err != nil {
			if t.ctx.Err() != nil {
				return
			}
			logger.Warn("ws_read_failed", "error", err)
			if !t.reconnect() {
				return
			}
			continue
		}
		t.dispatch(env)
	}
}

func (t *WS) dispatch(env Envelope) {
	if env.Event == eventConnected {
		var hello struct {
			ClientID string `json:"clientId"`
		}
		if err := json.Unmarshal(env.Payload, &hello); err == nil && hello.ClientID != "" {
			t.mu.Lock()
			t.clientID = hello.ClientID
			t.mu.Unlock()
			logger.Info("ws_connected", "client_id", hello.ClientID)
		}
		return
	}
	t.mu.Lock()
	hs := make([]Handler, 0, len(t.subs[env.Channel]))
	for _, h := range t.subs[env.Channel] {
		hs = append(hs, h)
	}
	t.mu.Unlock()
	for _, h := range hs {
		h(env.Event, env.Payload)
	}
}

// reconnect redials with jittered exponential backoff and replays channel
// subscriptions. Returns false when retries are exhausted or the transport
// was closed.
func (t *WS) reconnect() bool {
	for attempt := 1; attempt <= t.cfg.MaxReconnectAttempts; attempt++ {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return false
		}
		t.mu.Unlock()

		backoff := time.Duration(float64(t.cfg.ReconnectBaseDelay) * math.Pow(2, float64(attempt-1)))
		if backoff > t.cfg.ReconnectMaxDelay {
			backoff = t.cfg.ReconnectMaxDelay
		}
		backoff += time.Duration(rand.Int63n(int64(t.cfg.ReconnectBaseDelay)))
		logger.Info("ws_reconnecting", "attempt", attempt, "backoff", backoff.String())

		select {
		case <-t.ctx.Done():
			return false
		case <-time.After(backoff):
		}

		conn, _, err := websocket.Dial(t.ctx, t.url, nil)
		if err != nil {
			logger.Warn("ws_redial_failed", "attempt", attempt, "error", err)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		channels := make([]string, 0, len(t.subs))
		for ch, hs := range t.subs {
			if len(hs) > 0 {
				channels = append(channels, ch)
			}
		}
		t.mu.Unlock()

		for _, ch := range channels {
			_ = wsjson.Write(t.ctx, conn, Envelope{Channel: ch, Event: eventSubscribe})
		}
		return true
	}
	logger.Error("ws_reconnect_exhausted", "attempts", t.cfg.MaxReconnectAttempts)
	return false
}
