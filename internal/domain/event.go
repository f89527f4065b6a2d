package domain

import "time"

// Event types exchanged with clients over the live transport.
const (
	EventRegister            = "register"
	EventRegistered          = "registered"
	EventJoinRoom            = "join_room"
	EventJoinedRoom          = "joined_room"
	EventLeaveRoom           = "leave_room"
	EventLeftRoom            = "left_room"
	EventParticipantsChanged = "participants_changed"
	EventNewMessage          = "new_message"
	EventMessageDelivered    = "message_delivered"
	EventError               = "error"
)

// Event is one outbound item queued for a connection.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type RegisteredPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

type RoomPayload struct {
	CourseID         string `json:"courseId"`
	ParticipantCount int    `json:"participantCount"`
}

// DeliveredPayload carries a persisted message. Seq is the per-course
// ordering key; Timestamp (unix millis) can tie within a course, CreatedAt
// keeps the store's microsecond precision.
type DeliveredPayload struct {
	ID        string `json:"id"`
	CourseID  string `json:"courseId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	CreatedAt string `json:"createdAt"` // RFC3339Nano, UTC
}

type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func NewDelivered(m Message) Event {
	return Event{
		Type: EventMessageDelivered,
		Payload: DeliveredPayload{
			ID:        m.ID,
			CourseID:  m.CourseID,
			SenderID:  m.UserID,
			Content:   m.Content,
			Seq:       m.Seq,
			Timestamp: m.CreatedAt.UnixMilli(),
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func NewError(err error) Event {
	return Event{
		Type: EventError,
		Payload: ErrorPayload{
			Reason:  Reason(err),
			Message: err.Error(),
		},
	}
}
