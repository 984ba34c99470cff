package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termsync/client/internal/errors"
	"github.com/termsync/client/internal/sdata"
)

type recordingHandler struct {
	mu      sync.Mutex
	updates []sdata.ModelUpdate
	pty     []*sdata.PtyDataUpdate
}

func (h *recordingHandler) ApplyUpdate(mu sdata.ModelUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, mu)
}

func (h *recordingHandler) ApplyPtyData(upd *sdata.PtyDataUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pty = append(h.pty, upd)
}

func (h *recordingHandler) updateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

// testServer upgrades /ws connections and hands them to fn.
func testServer(t *testing.T, fn func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		fn(conn)
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBackoffDelayTable(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 2 * time.Second},
		{3, 5 * time.Second},
		{4, 10 * time.Second},
		{5, 10 * time.Second},
		{6, 30 * time.Second},
		{7, 60 * time.Second},
		{8, 60 * time.Second},   // past the table: flat
		{100, 60 * time.Second}, // stays flat
	}
	c := NewChannel(Config{}, &recordingHandler{})
	defer c.Close()
	for _, tc := range tests {
		if got := c.backoffDelay(tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestChannel_GivesUpAfterCeiling(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "not today", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := NewChannel(Config{
		BaseURL:              wsURL,
		ClientId:             "c1",
		ReconnectDelays:      []time.Duration{0},
		MaxReconnectAttempts: 3,
	}, &recordingHandler{})
	defer c.Close()

	err := c.Run()
	if !errors.IsCode(err, errors.CodeTransportGaveUp) {
		t.Fatalf("Run error = %v, want %s", err, errors.CodeTransportGaveUp)
	}
	if got := c.Status.Get(); got != StateGaveUp {
		t.Errorf("status = %q, want %q", got, StateGaveUp)
	}
	if got := dials.Load(); got != 3 {
		t.Errorf("dial count = %d, want 3", got)
	}
	// No retry may be scheduled past the ceiling.
	time.Sleep(100 * time.Millisecond)
	if got := dials.Load(); got != 3 {
		t.Errorf("dial count after give-up = %d, want 3", got)
	}
}

func TestChannel_QueueReplayedFIFO(t *testing.T) {
	type frame struct {
		Type string `json:"type"`
		N    int    `json:"n"`
	}
	var (
		mu     sync.Mutex
		frames []frame
	)
	srv, wsURL := testServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil && f.Type == "test" {
				mu.Lock()
				frames = append(frames, f)
				mu.Unlock()
			}
		}
	})
	defer srv.Close()

	c := NewChannel(Config{BaseURL: wsURL, ClientId: "c1"}, &recordingHandler{})
	defer c.Close()

	// Queue while disconnected; replay must preserve FIFO order.
	for i := 1; i <= 3; i++ {
		if err := c.PushMessage(frame{Type: "test", N: i}); err != nil {
			t.Fatalf("queueing failed: %v", err)
		}
	}
	go c.Run()

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	for i, f := range frames {
		if f.N != i+1 {
			t.Errorf("frame %d = n%d, want n%d", i, f.N, i+1)
		}
	}
}

func TestChannel_HelloResetsAttempts(t *testing.T) {
	srv, wsURL := testServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`))
		// Keep the connection open until the test finishes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := NewChannel(Config{BaseURL: wsURL, ClientId: "c1"}, &recordingHandler{})
	defer c.Close()
	go c.Run()

	waitFor(t, 5*time.Second, func() bool {
		return c.Status.Get() == StateOpen && c.ReconnectAttempts() == 0
	})
}

func TestChannel_InboundPingGetsPong(t *testing.T) {
	gotPong := make(chan struct{})
	srv, wsURL := testServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","stime":1}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var probe struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &probe) == nil && probe.Type == "pong" {
				close(gotPong)
				return
			}
		}
	})
	defer srv.Close()

	c := NewChannel(Config{BaseURL: wsURL, ClientId: "c1"}, &recordingHandler{})
	defer c.Close()
	go c.Run()

	select {
	case <-gotPong:
	case <-time.After(5 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestChannel_InboundFramesDispatch(t *testing.T) {
	srv, wsURL := testServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"activesessionid":"s1"}]`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"screenid":"scr1","lineid":"l1","ptypos":0,"ptydata64":"aGk=","ptydatalen":2}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	h := &recordingHandler{}
	c := NewChannel(Config{BaseURL: wsURL, ClientId: "c1"}, h)
	defer c.Close()
	go c.Run()

	waitFor(t, 5*time.Second, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.updates) == 1 && len(h.pty) == 1
	})
}

func TestChannel_WatchScreenValidatesIds(t *testing.T) {
	c := NewChannel(Config{BaseURL: "ws://127.0.0.1:0"}, &recordingHandler{})
	defer c.Close()
	err := c.WatchScreen("not-a-uuid", "c56e2a85-5c60-4165-9e71-f92eeb8ba0ab")
	if !errors.IsCode(err, errors.CodeTransportBadFrame) {
		t.Errorf("bad session id error = %v", err)
	}
	err = c.WatchScreen("c56e2a85-5c60-4165-9e71-f92eeb8ba0ab", "nope")
	if !errors.IsCode(err, errors.CodeTransportBadFrame) {
		t.Errorf("bad screen id error = %v", err)
	}
	// Valid ids queue the subscription while disconnected.
	err = c.WatchScreen(
		"c56e2a85-5c60-4165-9e71-f92eeb8ba0ab",
		"8a783097-4b6c-4b15-9dc9-8c2861c00afc")
	if err != nil {
		t.Errorf("valid watchscreen failed: %v", err)
	}
}

func TestChannel_ColdStartRequestsResync(t *testing.T) {
	type ws struct {
		Type      string `json:"type"`
		SessionId string `json:"sessionid"`
		ScreenId  string `json:"screenid"`
		Connect   bool   `json:"connect"`
		AuthKey   string `json:"authkey"`
	}
	got := make(chan ws, 4)
	srv, wsURL := testServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f ws
			if json.Unmarshal(data, &f) == nil && f.Type == "watchscreen" {
				got <- f
			}
		}
	})
	defer srv.Close()

	// No screen is watched yet: the open must still solicit a full resync
	// with empty ids, or a client with an empty cache has no way to learn
	// what screens exist.
	c := NewChannel(Config{BaseURL: wsURL, ClientId: "c1", AuthKey: "secret"}, &recordingHandler{})
	defer c.Close()
	go c.Run()

	select {
	case f := <-got:
		if !f.Connect {
			t.Error("cold-start watchscreen has connect=false, no resync will be pushed")
		}
		if f.SessionId != "" || f.ScreenId != "" {
			t.Errorf("cold-start watchscreen carries ids: %+v", f)
		}
		if f.AuthKey != "secret" {
			t.Errorf("authkey = %q", f.AuthKey)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no watchscreen sent on cold start")
	}
}

func TestChannel_ResyncRequestedOnEveryOpen(t *testing.T) {
	type ws struct {
		Type      string `json:"type"`
		SessionId string `json:"sessionid"`
		ScreenId  string `json:"screenid"`
		Connect   bool   `json:"connect"`
	}
	got := make(chan ws, 8)
	srv, wsURL := testServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f ws
			if json.Unmarshal(data, &f) != nil || f.Type != "watchscreen" {
				continue
			}
			got <- f
			// Kill the connection once the resync request arrives, forcing
			// a reconnect.
			if f.Connect {
				return
			}
		}
	})
	defer srv.Close()

	c := NewChannel(Config{BaseURL: wsURL, ClientId: "c1"}, &recordingHandler{})
	defer c.Close()
	sessionId := "c56e2a85-5c60-4165-9e71-f92eeb8ba0ab"
	screenId := "8a783097-4b6c-4b15-9dc9-8c2861c00afc"
	if err := c.WatchScreen(sessionId, screenId); err != nil {
		t.Fatalf("watchscreen failed: %v", err)
	}
	go c.Run()

	// Missed updates are only ever superseded by a fresh resync, so every
	// connection (not just the first) must request one.
	connects := 0
	deadline := time.After(10 * time.Second)
	for connects < 2 {
		select {
		case f := <-got:
			if !f.Connect {
				continue
			}
			if f.SessionId != sessionId || f.ScreenId != screenId {
				t.Errorf("resync watchscreen ids = %+v", f)
			}
			connects++
		case <-deadline:
			t.Fatalf("saw %d resync requests, want one per connection", connects)
		}
	}
}

func TestChannel_WatchScreenResentOnReconnect(t *testing.T) {
	type ws struct {
		Type      string `json:"type"`
		SessionId string `json:"sessionid"`
		ScreenId  string `json:"screenid"`
		AuthKey   string `json:"authkey"`
	}
	got := make(chan ws, 4)
	srv, wsURL := testServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f ws
			if json.Unmarshal(data, &f) == nil && f.Type == "watchscreen" {
				got <- f
			}
		}
	})
	defer srv.Close()

	c := NewChannel(Config{BaseURL: wsURL, ClientId: "c1", AuthKey: "secret"}, &recordingHandler{})
	defer c.Close()
	sessionId := "c56e2a85-5c60-4165-9e71-f92eeb8ba0ab"
	screenId := "8a783097-4b6c-4b15-9dc9-8c2861c00afc"
	if err := c.WatchScreen(sessionId, screenId); err != nil {
		t.Fatalf("watchscreen failed: %v", err)
	}
	go c.Run()

	select {
	case f := <-got:
		if f.SessionId != sessionId || f.ScreenId != screenId || f.AuthKey != "secret" {
			t.Errorf("watchscreen frame = %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watchscreen not replayed on connect")
	}
}
