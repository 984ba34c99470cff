// Package transport maintains the client's duplex websocket channel to the
// host: dial, heartbeat, reconnect with bounded backoff, an outbound FIFO
// queue replayed on reconnect, and the watched-screen subscription.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/termsync/client/internal/errors"
	"github.com/termsync/client/internal/sdata"
)

// Channel states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateOpen         = "open"
	StateGaveUp       = "gaveup"
)

// reconnectDelays is the bounded backoff table, indexed by attempt number.
// Attempts past the end of the table wait the final entry.
var reconnectDelays = []time.Duration{
	0,
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// defaultMaxReconnectAttempts is the give-up ceiling. A server hello resets
// the attempt counter, so the ceiling only triggers when the host stays
// unreachable at the application layer.
const defaultMaxReconnectAttempts = 20

// flushTick paces outbound queue replay after a reconnect: one queued
// message per tick, never a burst.
const flushTick = 100 * time.Millisecond

// pingInterval is the heartbeat period while the channel is open.
const pingInterval = 10 * time.Second

const writeWait = 10 * time.Second
const maxFrameSize = 4 * 1024 * 1024

// FrameHandler consumes inbound application frames. Implemented by the
// update engine.
type FrameHandler interface {
	ApplyUpdate(mu sdata.ModelUpdate)
	ApplyPtyData(upd *sdata.PtyDataUpdate)
}

// watchScreenMessage subscribes the channel to one screen's push updates.
type watchScreenMessage struct {
	Type      string `json:"type"`
	SessionId string `json:"sessionid"`
	ScreenId  string `json:"screenid"`
	Connect   bool   `json:"connect"`
	AuthKey   string `json:"authkey"`
}

type pingMessage struct {
	Type  string `json:"type"`
	STime int64  `json:"stime"`
}

type pongMessage struct {
	Type  string `json:"type"`
	STime int64  `json:"stime"`
}

// Config holds the channel's connection parameters.
type Config struct {
	// BaseURL is the host websocket origin, e.g. "ws://127.0.0.1:1619".
	BaseURL string

	// ClientId is this client's stable uuid, carried on the dial URL.
	ClientId string

	// AuthKey authenticates watchscreen subscriptions.
	AuthKey string

	// ReconnectDelays overrides the backoff table. Nil uses the default.
	ReconnectDelays []time.Duration

	// MaxReconnectAttempts overrides the give-up ceiling. Zero uses the
	// default.
	MaxReconnectAttempts int
}

// Channel is the reconnecting duplex connection. One instance exists per
// client process.
type Channel struct {
	cfg     Config
	handler FrameHandler

	// Status is the observable channel state.
	Status *statusAtom

	mu             sync.Mutex
	conn           *websocket.Conn
	open           bool
	reconnectTimes int
	outbox         [][]byte
	watchSessionId string
	watchScreenId  string

	ctx    context.Context
	cancel context.CancelFunc
}

// statusAtom is a tiny observable string; kept local so the transport does
// not depend on the store package.
type statusAtom struct {
	mu    sync.Mutex
	value string
	subs  []func(string)
}

func (s *statusAtom) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *statusAtom) set(v string) {
	s.mu.Lock()
	s.value = v
	subs := append([]func(string){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers a callback invoked on every state change.
func (s *statusAtom) Subscribe(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// NewChannel creates a channel. Run must be called to start it.
func NewChannel(cfg Config, handler FrameHandler) *Channel {
	if cfg.ReconnectDelays == nil {
		cfg.ReconnectDelays = reconnectDelays
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:     cfg,
		handler: handler,
		Status:  &statusAtom{value: StateDisconnected},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run drives the connect/reconnect loop until Close is called or the
// attempt ceiling is reached. It blocks; callers run it in a goroutine.
func (c *Channel) Run() error {
	for {
		c.mu.Lock()
		attempt := c.reconnectTimes
		c.reconnectTimes++
		c.mu.Unlock()

		if attempt >= c.cfg.MaxReconnectAttempts {
			c.Status.set(StateGaveUp)
			log.Printf("transport: cannot connect, giving up after %d attempts", attempt)
			return errors.New(errors.CodeTransportGaveUp,
				fmt.Sprintf("giving up after %d reconnect attempts", attempt))
		}
		if delay := c.backoffDelay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-c.ctx.Done():
				return nil
			}
		}

		c.Status.set(StateConnecting)
		conn, err := c.dial()
		if err != nil {
			log.Printf("transport: connect failed (attempt %d): %v", attempt+1, err)
			c.Status.set(StateDisconnected)
			continue
		}

		c.onOpen(conn)
		c.readPump(conn) // blocks until the connection dies
		c.onClose(conn)

		select {
		case <-c.ctx.Done():
			return nil
		default:
		}
	}
}

// Close shuts the channel down permanently.
func (c *Channel) Close() {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// ReconnectAttempts returns the current reconnect attempt counter. The
// counter resets to zero when the server acknowledges the session with a
// hello frame.
func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTimes
}

func (c *Channel) backoffDelay(attempt int) time.Duration {
	table := c.cfg.ReconnectDelays
	if attempt >= len(table) {
		return table[len(table)-1]
	}
	return table[attempt]
}

func (c *Channel) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(errors.CodeTransportDialFailed, "invalid base url", err)
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"clientid": []string{c.cfg.ClientId}}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(c.ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodeTransportDialFailed, "websocket dial failed", err)
	}
	return conn, nil
}

// onOpen installs the new connection, replays the outbound queue one
// message per tick, then sends a watchscreen with connect set so the host
// pushes a full resynchronization. The host accepts empty ids, so this
// works on a cold start before any screen is watched, and after a reconnect
// it supersedes whatever updates were missed while disconnected.
func (c *Channel) onOpen(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.open = true
	queued := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	c.Status.set(StateOpen)

	go func() {
		ticker := time.NewTicker(flushTick)
		defer ticker.Stop()
		for _, data := range queued {
			select {
			case <-ticker.C:
			case <-c.ctx.Done():
				return
			}
			if err := c.writeRaw(conn, data); err != nil {
				return
			}
		}
		c.mu.Lock()
		sessionId, screenId := c.watchSessionId, c.watchScreenId
		c.mu.Unlock()
		c.sendWatchScreen(sessionId, screenId, true)
	}()

	go c.pingLoop(conn)
}

func (c *Channel) onClose(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.open = false
	}
	c.mu.Unlock()
	c.Status.set(StateDisconnected)
}

func (c *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			msg := pingMessage{Type: sdata.FramePing, STime: time.Now().UnixMilli()}
			data, _ := json.Marshal(msg)
			if err := c.writeRaw(conn, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readPump reads frames until the connection dies. A hello frame resets
// the reconnect counter; an inbound ping gets an immediate pong.
func (c *Channel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				log.Printf("transport: read error: %v", err)
			}
			return
		}
		c.handleFrame(conn, data)
	}
}

func (c *Channel) handleFrame(conn *websocket.Conn, data []byte) {
	frame, err := sdata.ParseFrame(data)
	if err != nil {
		log.Printf("transport: dropping bad frame: %v", err)
		return
	}
	switch f := frame.(type) {
	case *sdata.ControlFrame:
		switch f.Type {
		case sdata.FrameHello:
			c.mu.Lock()
			c.reconnectTimes = 0
			c.mu.Unlock()
		case sdata.FramePing:
			msg := pongMessage{Type: sdata.FramePong, STime: time.Now().UnixMilli()}
			out, _ := json.Marshal(msg)
			c.writeRaw(conn, out)
		default:
			log.Printf("transport: unknown control frame %q", f.Type)
		}
	case sdata.ModelUpdate:
		c.handler.ApplyUpdate(f)
	case *sdata.PtyDataUpdate:
		c.handler.ApplyPtyData(f)
	}
}

// PushMessage sends a JSON message if the channel is open, otherwise queues
// it for FIFO replay on the next reconnect.
func (c *Channel) PushMessage(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(errors.CodeTransportWriteFailed, "marshaling outbound message", err)
	}
	c.mu.Lock()
	open, conn := c.open, c.conn
	if !open {
		c.outbox = append(c.outbox, data)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.writeRaw(conn, data)
}

func (c *Channel) writeRaw(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("transport: write error: %v", err)
		return errors.Wrap(errors.CodeTransportWriteFailed, "websocket write failed", err)
	}
	return nil
}

// WatchScreen moves the channel's push subscription to a new screen. Ids
// must be well-formed uuids; a malformed id indicates a corrupted model and
// is rejected without touching the subscription. Connect is not requested
// here; moving the subscription only needs incremental pushes, and every
// fresh connection already solicits a full resync in onOpen.
func (c *Channel) WatchScreen(sessionId, screenId string) error {
	if _, err := uuid.Parse(sessionId); err != nil {
		return errors.Wrap(errors.CodeTransportBadFrame, "invalid session id", err)
	}
	if _, err := uuid.Parse(screenId); err != nil {
		return errors.Wrap(errors.CodeTransportBadFrame, "invalid screen id", err)
	}
	c.mu.Lock()
	c.watchSessionId = sessionId
	c.watchScreenId = screenId
	c.mu.Unlock()
	return c.sendWatchScreen(sessionId, screenId, false)
}

func (c *Channel) sendWatchScreen(sessionId, screenId string, connect bool) error {
	return c.PushMessage(watchScreenMessage{
		Type:      "watchscreen",
		SessionId: sessionId,
		ScreenId:  screenId,
		Connect:   connect,
		AuthKey:   c.cfg.AuthKey,
	})
}
