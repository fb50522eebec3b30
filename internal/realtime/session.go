package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

const (
	ScopeProject   = "project"
	ScopeWorkspace = "workspace"
)

// command is a client-to-server control message.
type command struct {
	Action string `json:"action"`
	Scope  string `json:"scope"`
}

// Session streams one topic at a time to a WebSocket client. The client
// switches between its project and workspace topics with
// {"action":"watch","scope":"project"|"workspace"}.
type Session struct {
	conn   *websocket.Conn
	hub    *Hub
	scopes map[string]string
	logger *slog.Logger
}

// NewSession binds conn to the topics its credentials allow. The session
// starts on projectTopic.
func NewSession(conn *websocket.Conn, hub *Hub, projectTopic, workspaceTopic string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn: conn,
		hub:  hub,
		scopes: map[string]string{
			ScopeProject:   projectTopic,
			ScopeWorkspace: workspaceTopic,
		},
		logger: logger,
	}
}

// Run serves the connection until ctx is done, the client goes away or the
// hub closes. It always closes the connection.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	watch := make(chan string, 1)
	readDone := make(chan struct{})
	go s.readLoop(watch, readDone)

	sub := s.hub.Subscribe(s.scopes[ScopeProject])
	defer func() { sub.Close() }()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.writeClose(websocket.CloseGoingAway, "server shutting down")
			return
		case <-readDone:
			return
		case topic := <-watch:
			if topic == sub.Topic() {
				continue
			}
			sub.Close()
			sub = s.hub.Subscribe(topic)
		case msg, ok := <-sub.C():
			if !ok {
				s.writeClose(websocket.CloseGoingAway, "server shutting down")
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("realtime write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Session) readLoop(watch chan string, done chan<- struct{}) {
	defer close(done)

	_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var cmd command
		if err := s.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("realtime read ended", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		topic, ok := s.scopes[cmd.Scope]
		if cmd.Action != "watch" || !ok || topic == "" {
			s.logger.Debug("ignoring realtime command", "action", cmd.Action, "scope", cmd.Scope)
			continue
		}
		// Keep only the latest pending switch.
		select {
		case <-watch:
		default:
		}
		watch <- topic
	}
}

func (s *Session) writeClose(code int, text string) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
}
