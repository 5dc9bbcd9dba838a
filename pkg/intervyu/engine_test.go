package intervyu

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/intervyu/pkg/runner"
	"github.com/harunnryd/intervyu/pkg/screening"
	"github.com/harunnryd/intervyu/pkg/store/memory"
)

func testConfig() Config {
	return Config{
		Server:    ServerConfig{Addr: "127.0.0.1:0", WSPath: "/ws", AllowAnyOrigin: true},
		Interview: InterviewConfig{MaxTurns: 1},
		AI: AIConfig{Providers: []NamedVendorConfig{{
			Name:     "primary",
			Provider: "mock",
			Settings: map[string]any{"score": 90, "summary": "Strong answers."},
		}}},
		STT:      VendorConfig{Provider: "mock", Settings: map[string]any{"transcript": "I use Go daily"}},
		Store:    StoreConfig{Driver: StoreMemory},
		Shutdown: ShutdownConfig{DrainTimeoutMS: 2000},
	}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		c.t.Fatalf("send %s: %v", event, err)
	}
}

func (c *wsClient) expect(event string) json.RawMessage {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		if msg.Event == event {
			return msg.Data
		}
		if msg.Event == "error" {
			c.t.Fatalf("unexpected error event while waiting for %s: %s", event, msg.Data)
		}
	}
}

func startEngine(t *testing.T, store Store) (*Engine, func() error) {
	t.Helper()
	runner.BannerOutput = nil
	e, err := NewEngine(context.Background(), EngineOptions{
		Config: testConfig(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  store,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for e.State() != runner.StateRunning {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("engine did not start, state %s", e.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatalf("engine did not stop")
			return nil
		}
	}
	return e, stop
}

func TestEngineServesInterview(t *testing.T) {
	store := memory.New()
	jobID := store.PutJob(&screening.Job{Title: "Platform Engineer", Skills: []string{"Go", "Kafka"}})
	appID := store.PutApplication(&screening.Application{
		JobID:          jobID,
		CandidateID:    "cand-7",
		ScreeningStage: screening.StageVideoPending,
	})

	e, stop := startEngine(t, store)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+e.Transport().Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	c := &wsClient{t: t, conn: conn}

	c.send("join-room", appID)
	c.expect("session-ready")

	c.send("start-interview", nil)
	var q struct {
		Question       string `json:"question"`
		QuestionNumber int    `json:"questionNumber"`
	}
	if err := json.Unmarshal(c.expect("new-question"), &q); err != nil {
		t.Fatalf("decode question: %v", err)
	}
	if q.QuestionNumber != 1 || q.Question == "" {
		t.Fatalf("unexpected first question %+v", q)
	}

	c.send("end-answer", map[string]any{"transcript": "I maintain a Kafka consumer fleet in Go."})
	var finished struct {
		Analysis struct {
			Score  int    `json:"score"`
			Status string `json:"status"`
		} `json:"analysis"`
	}
	if err := json.Unmarshal(c.expect("interview-finished"), &finished); err != nil {
		t.Fatalf("decode finished: %v", err)
	}
	if finished.Analysis.Score != 90 {
		t.Fatalf("expected score 90, got %d", finished.Analysis.Score)
	}

	app, err := store.GetApplication(context.Background(), appID)
	if err != nil {
		t.Fatalf("get application: %v", err)
	}
	if app.ScreeningStage != screening.StageVideoCompleted {
		t.Fatalf("expected video_completed, got %s", app.ScreeningStage)
	}
	if e.Sessions().Count() != 0 {
		t.Fatalf("expected session destroyed after finish")
	}

	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if e.State() != runner.StateStopped {
		t.Fatalf("expected stopped, got %s", e.State())
	}
}

func TestEngineHTTPRoutes(t *testing.T) {
	e, stop := startEngine(t, memory.New())
	defer func() { _ = stop() }()
	base := "http://" + e.Transport().Addr()

	resp, err := http.Get(base + "/providers")
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	var body struct {
		Providers []struct {
			Name      string `json:"name"`
			Available bool   `json:"available"`
			Default   bool   `json:"default"`
		} `json:"providers"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if len(body.Providers) != 1 || body.Providers[0].Name != "primary" || !body.Providers[0].Available || !body.Providers[0].Default {
		t.Fatalf("unexpected provider status %+v", body.Providers)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", resp.StatusCode)
	}
}

func TestNewEngineRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.AI.Providers[0].Provider = "claude"
	_, err := NewEngine(context.Background(), EngineOptions{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("expected registration error, got %v", err)
	}
}

func TestEngineStopBeforeRun(t *testing.T) {
	e, err := NewEngine(context.Background(), EngineOptions{
		Config: testConfig(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if e.State() != runner.StateStopped {
		t.Fatalf("expected stopped, got %s", e.State())
	}
}
