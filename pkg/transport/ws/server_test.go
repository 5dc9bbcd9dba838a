package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type call struct {
	name string
	arg  string
}

type stubHandler struct {
	srv   *Server
	mu    sync.Mutex
	calls []call
	audio [][]byte
	seen  chan call
}

func newStubHandler(srv *Server) *stubHandler {
	return &stubHandler{srv: srv, seen: make(chan call, 32)}
}

func (h *stubHandler) record(name, arg string) {
	h.mu.Lock()
	h.calls = append(h.calls, call{name: name, arg: arg})
	h.mu.Unlock()
	h.seen <- call{name: name, arg: arg}
}

func (h *stubHandler) JoinRoom(connID, applicationID string) error {
	h.record(EventJoinRoom, applicationID)
	return h.srv.Emit(connID, "session-ready", nil)
}

func (h *stubHandler) StartInterview(_ context.Context, connID string) error {
	h.record(EventStartInterview, "")
	return h.srv.Emit(connID, "new-question", map[string]any{"question": "Why Go?", "questionNumber": 1})
}

func (h *stubHandler) StartAudioStream(context.Context, string) error {
	h.record(EventStartAudioStream, "")
	return nil
}

func (h *stubHandler) AudioChunk(_ string, chunk []byte) error {
	h.mu.Lock()
	h.audio = append(h.audio, append([]byte(nil), chunk...))
	h.mu.Unlock()
	h.seen <- call{name: EventAudioChunk, arg: string(chunk)}
	return nil
}

func (h *stubHandler) EndAudioStream(string) error {
	h.record(EventEndAudioStream, "")
	return nil
}

func (h *stubHandler) EndAnswer(_ context.Context, _ string, override string) error {
	h.record(EventEndAnswer, override)
	return nil
}

func (h *stubHandler) Disconnect(string) {
	h.record("disconnect", "")
}

func (h *stubHandler) wait(t *testing.T, name string) call {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c := <-h.seen:
			if c.name == name {
				return c
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func dial(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()
	hs := httptest.NewServer(srv.mux)
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + srv.cfg.WebsocketPath
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		hs.Close()
		t.Fatalf("dial: %v", err)
	}
	return c, func() {
		_ = c.Close()
		hs.Close()
	}
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	msg := map[string]any{"event": event}
	if data != nil {
		msg["data"] = data
	}
	if err := c.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEvent(t *testing.T, c *websocket.Conn) Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := c.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestSessionProtocolRoundTrip(t *testing.T) {
	srv := New(Config{}, nil)
	h := newStubHandler(srv)
	srv.SetHandler(h)
	c, cleanup := dial(t, srv)
	defer cleanup()

	send(t, c, EventJoinRoom, "app-42")
	if got := h.wait(t, EventJoinRoom); got.arg != "app-42" {
		t.Fatalf("unexpected application id %q", got.arg)
	}
	if env := readEvent(t, c); env.Event != "session-ready" {
		t.Fatalf("expected session-ready, got %s", env.Event)
	}

	send(t, c, EventStartInterview, nil)
	env := readEvent(t, c)
	if env.Event != "new-question" {
		t.Fatalf("expected new-question, got %s", env.Event)
	}
	var q struct {
		Question       string `json:"question"`
		QuestionNumber int    `json:"questionNumber"`
	}
	if err := json.Unmarshal(env.Data, &q); err != nil || q.QuestionNumber != 1 || q.Question != "Why Go?" {
		t.Fatalf("unexpected question payload %s: %v", env.Data, err)
	}

	send(t, c, EventStartAudioStream, nil)
	h.wait(t, EventStartAudioStream)
	if err := c.WriteMessage(websocket.BinaryMessage, []byte("pcm")); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if got := h.wait(t, EventAudioChunk); got.arg != "pcm" {
		t.Fatalf("unexpected audio %q", got.arg)
	}
	send(t, c, EventAudioChunk, "b3B1cw==")
	if got := h.wait(t, EventAudioChunk); got.arg != "opus" {
		t.Fatalf("unexpected base64 audio %q", got.arg)
	}
	send(t, c, EventEndAudioStream, nil)
	h.wait(t, EventEndAudioStream)
	send(t, c, EventEndAnswer, map[string]string{"transcript": "typed"})
	if got := h.wait(t, EventEndAnswer); got.arg != "typed" {
		t.Fatalf("unexpected override %q", got.arg)
	}

	_ = c.Close()
	h.wait(t, "disconnect")
}

func TestJoinRoomAcceptsObjectPayload(t *testing.T) {
	srv := New(Config{}, nil)
	h := newStubHandler(srv)
	srv.SetHandler(h)
	c, cleanup := dial(t, srv)
	defer cleanup()

	send(t, c, EventJoinRoom, map[string]string{"applicationId": "app-7"})
	if got := h.wait(t, EventJoinRoom); got.arg != "app-7" {
		t.Fatalf("unexpected application id %q", got.arg)
	}
}

func TestParseApplicationID(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"abc"`, "abc", true},
		{`{"applicationId":" xyz "}`, "xyz", true},
		{``, "", false},
		{`42`, "", false},
	}
	for _, tc := range cases {
		got, err := ParseApplicationID(json.RawMessage(tc.raw))
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("%s: got %q err %v", tc.raw, got, err)
		}
	}
}

func TestEmitUnknownConnection(t *testing.T) {
	srv := New(Config{}, nil)
	if err := srv.Emit("nobody", "error", nil); err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestCheckOrigin(t *testing.T) {
	srv := New(Config{AllowedOrigins: []string{"https://app.example.com", "admin.example.com"}}, nil)
	cases := map[string]bool{
		"https://app.example.com":  true,
		"http://admin.example.com": true,
		"https://evil.example.com": false,
		"":                         true,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if got := srv.checkOrigin(req); got != want {
			t.Fatalf("origin %q: expected %v, got %v", origin, want, got)
		}
	}
}

func TestHealthReportsDraining(t *testing.T) {
	srv := New(Config{}, nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health %d %s", w.Code, w.Body.String())
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	w = httptest.NewRecorder()
	srv.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", w.Code)
	}
}

func TestAsyncRefusedAfterStop(t *testing.T) {
	srv := New(Config{}, nil)
	release := make(chan struct{})
	if !srv.async("conn-1", EventEndAnswer, func() { <-release }) {
		t.Fatalf("expected background call before stop")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- srv.Stop() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				srv.async("conn-2", EventStartInterview, func() {})
			}
		}()
	}
	wg.Wait()
	close(release)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return after in-flight calls finished")
	}
	if srv.async("conn-3", EventEndAnswer, func() { t.Errorf("ran after stop") }) {
		t.Fatalf("expected background call refused while draining")
	}
}
