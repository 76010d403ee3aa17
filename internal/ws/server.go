package ws

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aichat/relay/internal/auth"
	"github.com/aichat/relay/internal/logger"
	"github.com/aichat/relay/internal/pipeline"
	"github.com/aichat/relay/internal/session"
)

// Server upgrades connections, gates them through the token verifier and
// wires each one to a session.
type Server struct {
	verifier auth.Verifier
	registry *session.Registry
	rooms    *session.Router
	pipeline *pipeline.Pipeline
	upgrader websocket.Upgrader
}

// NewServer creates a WebSocket server with explicitly passed dependencies.
func NewServer(verifier auth.Verifier, registry *session.Registry, rooms *session.Router, p *pipeline.Pipeline) *Server {
	return &Server{
		verifier: verifier,
		registry: registry,
		rooms:    rooms,
		pipeline: p,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// bearerToken extracts the credential from the Authorization header or the
// token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP is the connection handshake: the token is verified before the
// upgrade, so no event handler ever runs for an unauthenticated peer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		logger.L.Warn("connection rejected", "error", err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.NewString(), conn)
	sess := session.New(c.ID, claims, c)
	c.Sess = sess
	sess.MarkAuthenticated()

	s.registry.Add(sess)
	// Private room keyed by identity, for presence and direct signals.
	s.rooms.Join(sess, "user:"+claims.SubjectID)
	sess.MarkRegistered()

	logger.L.Info("user connected", "client", c.ID, "user", claims.SubjectID)

	go sess.Run()
	go c.writePump()
	go c.readPump(s)
}

// disconnect tears the session down after the reader exits: registry and
// room state first, then the worker, then the write pump.
func (s *Server) disconnect(c *Client) {
	sess := c.Sess
	s.registry.Remove(sess.ID)
	s.rooms.LeaveAll(sess)
	c.cancel()
	sess.Close()
	logger.L.Info("user disconnected", "client", c.ID, "user", sess.Claims.SubjectID)
}
