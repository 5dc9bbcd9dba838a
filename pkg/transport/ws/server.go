// Package ws serves the interview session protocol over websockets: one
// connection per candidate, JSON event envelopes on text frames and raw audio
// on binary frames.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/intervyu/pkg/logging"
)

// Inbound event names.
const (
	EventJoinRoom         = "join-room"
	EventStartInterview   = "start-interview"
	EventStartAudioStream = "start-audio-stream"
	EventAudioChunk       = "audio-chunk"
	EventEndAudioStream   = "end-audio-stream"
	EventEndAnswer        = "end-answer"
)

var ErrConnectionClosed = errors.New("connection closed")

type Config struct {
	Addr           string   `mapstructure:"addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer   int           `mapstructure:"send_buffer"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Handler receives inbound protocol events. *interview.Orchestrator
// satisfies it.
type Handler interface {
	JoinRoom(connID, applicationID string) error
	StartInterview(ctx context.Context, connID string) error
	StartAudioStream(ctx context.Context, connID string) error
	AudioChunk(connID string, chunk []byte) error
	EndAudioStream(connID string) error
	EndAnswer(ctx context.Context, connID, override string) error
	Disconnect(connID string)
}

// Envelope is the JSON shape of every text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
	handler  Handler
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn

	// asyncMu orders inflight.Add against the drain flag.
	asyncMu  sync.Mutex
	draining atomic.Bool
	inflight sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		mux:    http.NewServeMux(),
		conns:  make(map[string]*conn),
		logger: logging.NewComponentLogger(logger, "ws_transport"),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	s.mux.Handle(cfg.WebsocketPath, s)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

func (s *Server) Name() string { return "websocket" }

// SetHandler installs the event handler. It must be called before Start.
func (s *Server) SetHandler(h Handler) { s.handler = h }

// Handle registers an extra HTTP route next to the websocket endpoint.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

// Start binds the listener and serves until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.handler == nil {
		return errors.New("ws transport: handler not set")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ws_server_error", "error", err.Error())
		}
	}()
	s.logger.Info("ws_listening", "addr", ln.Addr().String(), "path", s.cfg.WebsocketPath)
	return nil
}

// Addr is the bound listen address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop rejects new connections, closes the open ones and waits for in-flight
// handler calls to return.
func (s *Server) Stop() error {
	s.asyncMu.Lock()
	s.draining.Store(true)
	s.asyncMu.Unlock()
	var err error
	if s.server != nil {
		err = s.server.Close()
	}
	s.mu.Lock()
	open := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()
	for _, c := range open {
		c.close()
	}
	s.inflight.Wait()
	return err
}

// Connections reports the number of open websocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Emit queues an outbound event for connID.
func (s *Server) Emit(connID, event string, payload any) error {
	c := s.conn(connID)
	if c == nil {
		return ErrConnectionClosed
	}
	b, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return err
	}
	if !c.enqueue(b) {
		s.logger.Warn("ws_send_dropped", "conn_id", connID, "event", event)
		return ErrConnectionClosed
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws_upgrade_failed", "error", err)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:           uuid.NewString(),
		ws:           ws,
		sendCh:       make(chan []byte, s.cfg.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: s.cfg.WriteTimeout,
	}
	s.attach(c)
	go c.loop()
	s.logger.Info("ws_connected", "conn_id", c.id, "remote", r.RemoteAddr)

	defer func() {
		cancel()
		s.handler.Disconnect(c.id)
		s.detach(c.id)
		s.logger.Info("ws_disconnected", "conn_id", c.id)
	}()

	for {
		kind, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.BinaryMessage {
			s.audio(c.id, msg)
			continue
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Debug("ws_bad_envelope", "conn_id", c.id, "error", err)
			continue
		}
		s.dispatch(ctx, c.id, env)
	}
}

// dispatch runs stream events inline so audio stays ordered with its stream,
// and runs turn events in the background so reads continue during AI calls.
func (s *Server) dispatch(ctx context.Context, connID string, env Envelope) {
	switch env.Event {
	case EventJoinRoom:
		appID, err := ParseApplicationID(env.Data)
		if err != nil {
			s.logger.Debug("ws_bad_join", "conn_id", connID, "error", err)
		}
		s.report(connID, env.Event, s.handler.JoinRoom(connID, appID))
	case EventStartInterview:
		s.async(connID, env.Event, func() { s.report(connID, env.Event, s.handler.StartInterview(ctx, connID)) })
	case EventStartAudioStream:
		s.report(connID, env.Event, s.handler.StartAudioStream(ctx, connID))
	case EventAudioChunk:
		chunk, err := decodeAudio(env.Data)
		if err != nil {
			s.logger.Debug("ws_bad_audio", "conn_id", connID, "error", err)
			return
		}
		s.audio(connID, chunk)
	case EventEndAudioStream:
		s.report(connID, env.Event, s.handler.EndAudioStream(connID))
	case EventEndAnswer:
		override := parseEndAnswer(env.Data)
		s.async(connID, env.Event, func() { s.report(connID, env.Event, s.handler.EndAnswer(ctx, connID, override)) })
	default:
		s.logger.Debug("ws_unknown_event", "conn_id", connID, "event", env.Event)
	}
}

func (s *Server) audio(connID string, chunk []byte) {
	if err := s.handler.AudioChunk(connID, chunk); err != nil {
		s.logger.Debug("ws_audio_failed", "conn_id", connID, "error", err)
	}
}

// async runs fn in the background unless the server is draining. It
// reports whether fn was started.
func (s *Server) async(connID, event string, fn func()) bool {
	s.asyncMu.Lock()
	if s.draining.Load() {
		s.asyncMu.Unlock()
		s.logger.Debug("ws_event_dropped", "conn_id", connID, "event", event, "reason", "draining")
		return false
	}
	s.inflight.Add(1)
	s.asyncMu.Unlock()
	go func() {
		defer s.inflight.Done()
		fn()
	}()
	return true
}

func (s *Server) report(connID, event string, err error) {
	if err != nil {
		s.logger.Debug("ws_event_failed", "conn_id", connID, "event", event, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.draining.Load() {
		status, code = "draining", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "connections": s.Connections()})
}

func (s *Server) attach(c *conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) detach(connID string) {
	s.mu.Lock()
	c := s.conns[connID]
	delete(s.conns, connID)
	s.mu.Unlock()
	if c != nil {
		c.close()
	}
}

func (s *Server) conn(connID string) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[connID]
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return true
	}
	originHost := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

// ParseApplicationID accepts either a bare JSON string or an object with an
// applicationId field.
func ParseApplicationID(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", errors.New("missing application id")
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id), nil
	}
	var obj struct {
		ApplicationID string `json:"applicationId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	return strings.TrimSpace(obj.ApplicationID), nil
}

func parseEndAnswer(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var body struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Transcript
}

// decodeAudio reads a base64 string or a JSON byte array.
func decodeAudio(data json.RawMessage) ([]byte, error) {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		return base64.StdEncoding.DecodeString(encoded)
	}
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	for i, v := range raw {
		out[i] = byte(v)
	}
	return out, nil
}

type conn struct {
	id           string
	ws           *websocket.Conn
	sendCh       chan []byte
	done         chan struct{}
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// enqueue never blocks; a full queue drops the message.
func (c *conn) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.sendCh <- msg:
		return true
	default:
		return false
	}
}

func (c *conn) loop() {
	defer close(c.done)
	for msg := range c.sendCh {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// close flushes queued messages, bounded by the write timeout, then closes
// the socket.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.sendCh)
	c.mu.Unlock()
	select {
	case <-c.done:
	case <-time.After(c.writeTimeout):
	}
	_ = c.ws.Close()
}
