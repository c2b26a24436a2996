package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/topicmux/topicmux/internal/wire"
)

// testSink records dispatched messages and resets.
type testSink struct {
	mu     sync.Mutex
	msgs   []wire.Response
	resets []ResetReason
}

func (s *testSink) Dispatch(resp wire.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, resp)
}

func (s *testSink) Reset(reason ResetReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, reason)
}

func (s *testSink) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *testSink) resetReasons() []ResetReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ResetReason(nil), s.resets...)
}

// staticSubs is a fixed always-active topic list.
type staticSubs []string

func (s staticSubs) Active() []string { return s }

var upgrader = websocket.Upgrader{}

// newServer starts a WebSocket test server; every accepted connection is
// handed to handler in its own goroutine.
func newServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		handler(conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 50 * time.Millisecond
	cfg.StaleTimeout = 0 // no watchdog in tests
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func waitEvent(t *testing.T, events <-chan Event, typ EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %q not seen within %v", typ, timeout)
		}
	}
}

func TestManager_HeartbeatReply(t *testing.T) {
	pong := make(chan string, 1)
	srv, url := newServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(wire.Ping))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		pong <- string(data)
	})
	defer srv.Close()

	m := NewManager(testConfig(url), nil)
	sink := &testSink{}
	m.Bind(sink, staticSubs{})
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-pong:
		if got != wire.Pong {
			t.Errorf("heartbeat reply = %q, want %q", got, wire.Pong)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat reply")
	}

	// The ping frame must not reach the dispatch path.
	if n := sink.messageCount(); n != 0 {
		t.Errorf("dispatched %d messages, want 0", n)
	}
}

func TestManager_ResubscribeThenQueueFIFO(t *testing.T) {
	frames := make(chan string, 8)
	srv, url := newServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(data)
		}
	})
	defer srv.Close()

	m := NewManager(testConfig(url), nil)
	m.Bind(&testSink{}, staticSubs{"Config"})
	defer m.Close()

	// Queue while disconnected; the first Send triggers the connect.
	m.Send(wire.Request{Topic: "Foo"})
	m.Send(wire.Request{Topic: "Foo"})
	m.Send(wire.Request{Topic: "Bar"})

	want := []string{
		`{"t":"Config"}`, // subscription replay comes first
		`{"t":"Foo"}`,
		`{"t":"Foo"}`,
		`{"t":"Bar"}`,
	}
	for i, w := range want {
		select {
		case got := <-frames:
			if got != w {
				t.Fatalf("frame %d = %s, want %s", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not received", i)
		}
	}
}

func TestManager_DispatchAndMalformedDrop(t *testing.T) {
	srv, url := newServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"t":"Foo","o":"full","v":{"a":1}}`))
		// Keep the socket open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	m := NewManager(testConfig(url), nil)
	sink := &testSink{}
	m.Bind(sink, staticSubs{})
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return sink.messageCount() == 1 }, "message not dispatched")

	sink.mu.Lock()
	resp := sink.msgs[0]
	sink.mu.Unlock()
	if resp.Topic != "Foo" || resp.Operation() != wire.OpFull {
		t.Errorf("dispatched %+v", resp)
	}

	waitFor(t, 2*time.Second, func() bool { return m.Stats().Dropped == 1 }, "malformed frame not counted")
}

func TestManager_ReconnectReplaysSubscriptions(t *testing.T) {
	var connCount int
	var countMu sync.Mutex
	subs := make(chan string, 4)

	srv, url := newServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		countMu.Lock()
		connCount++
		n := connCount
		countMu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subs <- string(data)

		if n == 1 {
			// Drop the first connection abruptly to force a reconnect.
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	m := NewManager(testConfig(url), nil)
	m.Bind(&testSink{}, staticSubs{"Config"})
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}
	first := <-subs
	if first != `{"t":"Config"}` {
		t.Fatalf("first sub = %s", first)
	}

	select {
	case replay := <-subs:
		if replay != `{"t":"Config"}` {
			t.Errorf("replayed sub = %s", replay)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no resubscribe after reconnect")
	}

	if gen := m.Generation(); gen < 2 {
		t.Errorf("generation = %d, want >= 2 after reconnect", gen)
	}
}

func TestManager_AuthCloseStopsRetrying(t *testing.T) {
	var connCount int
	var countMu sync.Mutex

	srv, url := newServer(t, func(conn *websocket.Conn) {
		countMu.Lock()
		connCount++
		countMu.Unlock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseAuthFailed, "bad token"),
			time.Now().Add(time.Second),
		)
		conn.Close()
	})
	defer srv.Close()

	m := NewManager(testConfig(url), nil)
	sink := &testSink{}
	m.Bind(sink, staticSubs{})
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, m.Events(), EventAuthFailed, 2*time.Second)
	if ev.Code != CloseAuthFailed {
		t.Errorf("event code = %d, want %d", ev.Code, CloseAuthFailed)
	}

	reasons := sink.resetReasons()
	if len(reasons) != 1 || reasons[0] != ResetAuthFailed {
		t.Errorf("resets = %v, want [auth_failed]", reasons)
	}

	// No retry may follow an auth failure.
	time.Sleep(100 * time.Millisecond)
	countMu.Lock()
	defer countMu.Unlock()
	if connCount != 1 {
		t.Errorf("connections = %d, want 1", connCount)
	}
}

func TestManager_UnrecoverableCloseForcesReload(t *testing.T) {
	srv, url := newServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseUnrecoverable+7, "server wedged"),
			time.Now().Add(time.Second),
		)
		conn.Close()
	})
	defer srv.Close()

	m := NewManager(testConfig(url), nil)
	sink := &testSink{}
	m.Bind(sink, staticSubs{})
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}

	waitEvent(t, m.Events(), EventReloadRequired, 2*time.Second)

	reasons := sink.resetReasons()
	if len(reasons) != 1 || reasons[0] != ResetServerError {
		t.Errorf("resets = %v, want [server_error]", reasons)
	}
}

func TestManager_RetryBudgetExhausted(t *testing.T) {
	// A server that is immediately gone.
	srv, url := newServer(t, func(conn *websocket.Conn) { conn.Close() })
	srv.Close()

	cfg := testConfig(url)
	cfg.MaxReconnectTries = 2

	m := NewManager(cfg, nil)
	sink := &testSink{}
	m.Bind(sink, staticSubs{})
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatal(err)
	}

	waitEvent(t, m.Events(), EventReloadRequired, 3*time.Second)

	reasons := sink.resetReasons()
	if len(reasons) != 1 || reasons[0] != ResetRetriesExhausted {
		t.Errorf("resets = %v, want [retries_exhausted]", reasons)
	}
	if got := m.State(); got != StateClosed {
		t.Errorf("state = %q, want closed", got)
	}
}

func TestManager_ConnectAfterCloseFails(t *testing.T) {
	srv, url := newServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	m := NewManager(testConfig(url), nil)
	m.Bind(&testSink{}, staticSubs{})
	m.Close()

	if err := m.Connect(); err != ErrClosed {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestManager_ConnectIsIdempotentWhileOpen(t *testing.T) {
	var connCount int
	var countMu sync.Mutex
	srv, url := newServer(t, func(conn *websocket.Conn) {
		countMu.Lock()
		connCount++
		countMu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	m := NewManager(testConfig(url), nil)
	m.Bind(&testSink{}, staticSubs{})
	defer m.Close()

	m.Connect()
	waitFor(t, 2*time.Second, m.IsOpen, "never opened")
	m.Connect()
	m.Connect()

	time.Sleep(50 * time.Millisecond)
	countMu.Lock()
	defer countMu.Unlock()
	if connCount != 1 {
		t.Errorf("connections = %d, want 1", connCount)
	}
}
