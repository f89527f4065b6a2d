// Package presence binds transport lifecycle events to the registry, rooms
// and broker. Every inbound event name maps to exactly one entry point.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
	"github.com/cwrk-planet/coursechat-service/internal/registry"
	"github.com/cwrk-planet/coursechat-service/internal/rooms"
	"github.com/cwrk-planet/coursechat-service/pkg/logger"
)

type Sender interface {
	Send(ctx context.Context, courseID, senderConnID, content string) (domain.Message, error)
}

// Envelope is the inbound frame shape: {"type": "...", "payload": {...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type RegisterRequest struct {
	UserID string `json:"userId"`
}

type RoomRequest struct {
	CourseID string `json:"courseId"`
	UserID   string `json:"userId"`
}

type MessageRequest struct {
	CourseID string `json:"courseId"`
	Content  string `json:"content"`
}

type handlerFunc func(ctx context.Context, connID string, payload json.RawMessage) error

type Coordinator struct {
	registry *registry.Registry
	rooms    *rooms.Manager
	broker   Sender

	handlers map[string]handlerFunc
}

func NewCoordinator(reg *registry.Registry, rm *rooms.Manager, broker Sender) *Coordinator {
	c := &Coordinator{
		registry: reg,
		rooms:    rm,
		broker:   broker,
	}
	c.handlers = map[string]handlerFunc{
		domain.EventJoinRoom:   c.handleJoin,
		domain.EventLeaveRoom:  c.handleLeave,
		domain.EventNewMessage: c.handleMessage,
	}
	return c
}

// OnConnect registers a fresh transport connection. A duplicate id is a
// protocol error: the caller must drop the connection.
func (c *Coordinator) OnConnect(ctx context.Context, connID, userID string) (*registry.Connection, error) {
	conn, err := c.registry.Register(connID, userID)
	if err != nil {
		logger.FromCtx(ctx).Warn("presence connect rejected", "conn", connID, "user", userID, "err", err)
		return nil, err
	}
	conn.Push(domain.Event{
		Type:    domain.EventRegistered,
		Payload: domain.RegisteredPayload{ConnectionID: connID, UserID: conn.UserID()},
	})
	logger.FromCtx(ctx).Debug("presence connected", "conn", connID, "user", conn.UserID())
	return conn, nil
}

// Dispatch routes one inbound frame. It returns an error only when the
// requester cannot be answered through its queue (unknown connection) or
// must be dropped (repeated register).
func (c *Coordinator) Dispatch(ctx context.Context, connID string, env Envelope) error {
	if env.Type == domain.EventRegister {
		if _, err := c.registry.Lookup(connID); err == nil {
			return fmt.Errorf("register on %q: %w", connID, domain.ErrDuplicateConnection)
		}
		return fmt.Errorf("register must be handled by the transport: %w", domain.ErrInvalidRequest)
	}

	conn, err := c.registry.Lookup(connID)
	if err != nil {
		return err
	}
	h, ok := c.handlers[env.Type]
	if !ok {
		conn.Push(domain.NewError(fmt.Errorf("%w: %q", domain.ErrUnknownEvent, env.Type)))
		return nil
	}
	return h(ctx, connID, env.Payload)
}

func decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: missing payload", domain.ErrInvalidRequest)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func (c *Coordinator) handleJoin(ctx context.Context, connID string, payload json.RawMessage) error {
	var req RoomRequest
	if err := decode(payload, &req); err != nil {
		return c.reject(connID, err)
	}
	return c.OnJoinRequest(ctx, req.CourseID, connID, req.UserID)
}

func (c *Coordinator) handleLeave(ctx context.Context, connID string, payload json.RawMessage) error {
	var req RoomRequest
	if err := decode(payload, &req); err != nil {
		return c.reject(connID, err)
	}
	return c.OnLeaveRequest(ctx, req.CourseID, connID, req.UserID)
}

func (c *Coordinator) handleMessage(ctx context.Context, connID string, payload json.RawMessage) error {
	var req MessageRequest
	if err := decode(payload, &req); err != nil {
		return c.reject(connID, err)
	}
	return c.OnMessage(ctx, req.CourseID, connID, req.Content)
}

// reject sends an error event to the requester only.
func (c *Coordinator) reject(connID string, cause error) error {
	conn, err := c.registry.Lookup(connID)
	if err != nil {
		return err
	}
	conn.Push(domain.NewError(cause))
	return nil
}

// checkIdentity validates a room request and returns the normalized course id
// that every downstream call and ack uses.
func (c *Coordinator) checkIdentity(conn *registry.Connection, courseID, userID string) (string, error) {
	courseID = domain.NormalizeID(courseID)
	if courseID == "" {
		return "", fmt.Errorf("%w: courseId is required", domain.ErrInvalidRequest)
	}
	if userID = domain.NormalizeID(userID); userID != "" && userID != conn.UserID() {
		return "", fmt.Errorf("%w: userId does not match the connection", domain.ErrInvalidRequest)
	}
	return courseID, nil
}

// OnJoinRequest admits the connection into the course room and acknowledges
// with the resulting participant count.
func (c *Coordinator) OnJoinRequest(ctx context.Context, courseID, connID, userID string) error {
	conn, err := c.registry.Lookup(connID)
	if err != nil {
		return err
	}
	courseID, err = c.checkIdentity(conn, courseID, userID)
	if err != nil {
		conn.Push(domain.NewError(err))
		return nil
	}

	wasMember := c.rooms.IsMember(courseID, connID)
	n, err := c.rooms.Join(courseID, connID)
	if err != nil {
		if errors.Is(err, domain.ErrNotRegistered) {
			return err
		}
		conn.Push(domain.NewError(err))
		return nil
	}

	conn.Push(domain.Event{
		Type:    domain.EventJoinedRoom,
		Payload: domain.RoomPayload{CourseID: courseID, ParticipantCount: n},
	})
	if !wasMember {
		c.notifyCount(courseID, n, connID)
	}
	logger.FromCtx(ctx).Debug("presence joined", "course", courseID, "conn", connID, "participants", n)
	return nil
}

// OnLeaveRequest removes the connection from the course room.
func (c *Coordinator) OnLeaveRequest(ctx context.Context, courseID, connID, userID string) error {
	conn, err := c.registry.Lookup(connID)
	if err != nil {
		return err
	}
	courseID, err = c.checkIdentity(conn, courseID, userID)
	if err != nil {
		conn.Push(domain.NewError(err))
		return nil
	}

	wasMember := c.rooms.IsMember(courseID, connID)
	n := c.rooms.Leave(courseID, connID)
	conn.Push(domain.Event{
		Type:    domain.EventLeftRoom,
		Payload: domain.RoomPayload{CourseID: courseID, ParticipantCount: n},
	})
	if wasMember {
		c.notifyCount(courseID, n, connID)
	}
	logger.FromCtx(ctx).Debug("presence left", "course", courseID, "conn", connID, "participants", n)
	return nil
}

// OnMessage posts content through the broker; failures go to the sender only.
func (c *Coordinator) OnMessage(ctx context.Context, courseID, connID, content string) error {
	conn, err := c.registry.Lookup(connID)
	if err != nil {
		return err
	}
	if _, err := c.broker.Send(ctx, courseID, connID, content); err != nil {
		if errors.Is(err, domain.ErrNotRegistered) {
			return err
		}
		conn.Push(domain.NewError(err))
	}
	return nil
}

// OnDisconnect removes the connection from every room and from the registry.
// It is safe to call more than once.
func (c *Coordinator) OnDisconnect(ctx context.Context, connID string) {
	joined := c.registry.Unregister(connID)
	for _, courseID := range joined {
		n := c.rooms.Leave(courseID, connID)
		c.notifyCount(courseID, n, connID)
	}
	logger.FromCtx(ctx).Debug("presence disconnected", "conn", connID, "rooms", len(joined))
}

func (c *Coordinator) notifyCount(courseID string, n int, exclude string) {
	c.rooms.Broadcast(courseID, domain.Event{
		Type:    domain.EventParticipantsChanged,
		Payload: domain.RoomPayload{CourseID: courseID, ParticipantCount: n},
	}, exclude)
}

// Stats reports live connection and room counts.
func (c *Coordinator) Stats() (connections, roomCount int) {
	return c.registry.Count(), c.rooms.Count()
}
