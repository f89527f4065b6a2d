package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
	"github.com/cwrk-planet/coursechat-service/internal/presence"
	"github.com/cwrk-planet/coursechat-service/internal/registry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Coordinator interface {
	OnConnect(ctx context.Context, connID, userID string) (*registry.Connection, error)
	Dispatch(ctx context.Context, connID string, env presence.Envelope) error
	OnDisconnect(ctx context.Context, connID string)
}

type Options struct {
	PingEvery    time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

func (o *Options) defaults() {
	if o.PingEvery <= 0 {
		o.PingEvery = 15 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	coord    Coordinator
	opts     Options
}

func NewServer(hub *Hub, coord Coordinator, opts Options) *Server {
	opts.defaults()
	return &Server{
		hub:   hub,
		coord: coord,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS serves GET /ws?access_token=...[&user_id=...]. The token may also
// come as a bearer Authorization header. Without a user id (query or
// X-User-ID header) the client must send a register frame first.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	if accessToken(r) == "" {
		http.Error(w, `{"error":"unauthorized","message":"missing access_token"}`, http.StatusUnauthorized)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get("X-User-ID"))
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	connID := uuid.NewString()
	log := slog.With("conn", connID)
	s.hub.Add(connID, ws)
	defer func() {
		s.hub.Remove(connID)
		_ = ws.Close()
	}()

	ctx := r.Context()
	ws.SetReadLimit(s.opts.ReadLimit)
	s.extendRead(ws)
	ws.SetPongHandler(func(string) error {
		s.extendRead(ws)
		return nil
	})

	conn, err := s.handshake(ctx, ws, connID, userID)
	if err != nil {
		log.Debug("ws handshake ended", "err", err)
		return
	}
	log.Info("ws connected", "user", conn.UserID())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ws, conn)
	}()

	s.readLoop(ctx, ws, conn)

	// Done is closed here; the writer flushes what is queued and exits.
	s.coord.OnDisconnect(context.WithoutCancel(ctx), connID)
	wg.Wait()
	log.Info("ws disconnected", "user", conn.UserID(), "dropped", conn.Dropped())
}

// accessToken reads the access_token query parameter, falling back to a
// bearer Authorization header. The token is verified by the edge gateway.
func accessToken(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("access_token")); t != "" {
		return t
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func (s *Server) extendRead(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(2 * s.opts.PingEvery))
}

// handshake registers the connection, reading register frames when the
// upgrade request carried no user id. It is the only writer until it returns.
func (s *Server) handshake(ctx context.Context, ws *websocket.Conn, connID, userID string) (*registry.Connection, error) {
	for {
		if userID != "" {
			conn, err := s.coord.OnConnect(ctx, connID, userID)
			if err == nil {
				return conn, nil
			}
			_ = s.writeDirect(ws, domain.NewError(err))
			if errors.Is(err, domain.ErrDuplicateConnection) {
				return nil, err
			}
			userID = ""
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		s.extendRead(ws)

		env, err := parseFrame(data)
		if err == nil {
			userID, err = registerUser(env)
		}
		if err != nil {
			if werr := s.writeDirect(ws, domain.NewError(err)); werr != nil {
				return nil, werr
			}
		}
	}
}

func (s *Server) writeDirect(ws *websocket.Conn, ev domain.Event) error {
	_ = ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return ws.WriteJSON(ev)
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, conn *registry.Connection) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("ws read failed", "conn", conn.ID(), "err", err)
			}
			return
		}
		s.extendRead(ws)

		env, err := parseFrame(data)
		if err != nil {
			conn.Push(domain.NewError(err))
			continue
		}
		if err := s.coord.Dispatch(ctx, conn.ID(), env); err != nil {
			// unknown connection or repeated register: drop the socket
			slog.Warn("ws protocol error", "conn", conn.ID(), "type", env.Type, "err", err)
			conn.Push(domain.NewError(err))
			return
		}
	}
}

// writeLoop is the only writer once the connection is registered.
func (s *Server) writeLoop(ws *websocket.Conn, conn *registry.Connection) {
	ticker := time.NewTicker(s.opts.PingEvery)
	defer ticker.Stop()
	defer func() { _ = ws.Close() }()

	for {
		select {
		case ev := <-conn.Outbound():
			if err := s.writeDirect(ws, ev); err != nil {
				slog.Debug("ws write failed", "conn", conn.ID(), "err", err)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Evicted():
			slog.Warn("ws slow consumer evicted", "conn", conn.ID(), "dropped", conn.Dropped())
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "outbound queue overflow")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
			return
		case <-conn.Done():
			s.flush(ws, conn)
			return
		}
	}
}

// flush writes whatever is still queued, without blocking.
func (s *Server) flush(ws *websocket.Conn, conn *registry.Connection) {
	for {
		select {
		case ev := <-conn.Outbound():
			if s.writeDirect(ws, ev) != nil {
				return
			}
		default:
			return
		}
	}
}
