package grpcx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	mdAuthorization = "authorization"
	mdUserID        = "x-user-id"
)

type HistoryReader interface {
	FetchHistory(ctx context.Context, courseID string, before time.Time, limit int) ([]domain.Message, error)
	Page(ctx context.Context, courseID, cursor string, limit int) ([]domain.Message, string, error)
}

type PresenceReader interface {
	ParticipantCount(courseID string) int
}

type Server struct {
	history  HistoryReader
	presence PresenceReader
}

func NewServer(history HistoryReader, presence PresenceReader) *Server {
	return &Server{history: history, presence: presence}
}

// Register installs the chat service and the standard health service. The
// returned health server is flipped to NOT_SERVING on shutdown.
func Register(gs *grpc.Server, s *Server) *health.Server {
	gs.RegisterService(&ChatServiceDesc, s)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return hs
}

// -------- helpers --------

func userFromMD(ctx context.Context) (userID string, _ error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	auth := first(md.Get(mdAuthorization))
	if auth == "" {
		return "", status.Error(codes.Unauthenticated, "missing authorization")
	}
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") || strings.TrimSpace(auth[7:]) == "" {
		return "", status.Error(codes.Unauthenticated, "invalid authorization")
	}

	userID = strings.TrimSpace(first(md.Get(mdUserID)))
	if userID == "" {
		return "", status.Error(codes.Unauthenticated, "missing x-user-id")
	}
	return userID, nil
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func stringField(in *structpb.Struct, key string) string {
	return strings.TrimSpace(in.GetFields()[key].GetStringValue())
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidCursor):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotRegistered):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, domain.ErrPersistence):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func mapMessage(m domain.Message) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"courseId":  m.CourseID,
		"senderId":  m.UserID,
		"content":   m.Content,
		"seq":       m.Seq,
		"timestamp": m.CreatedAt.UnixMilli(),
		"createdAt": m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// -------- methods --------

// GetHistory takes {courseId, cursor?, before? (RFC3339), limit?} and
// returns {items: [...], nextCursor}.
func (s *Server) GetHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := userFromMD(ctx); err != nil {
		return nil, err
	}
	courseID := stringField(in, "courseId")
	limit := int(in.GetFields()["limit"].GetNumberValue())

	var (
		items []domain.Message
		next  string
		err   error
	)
	if b := stringField(in, "before"); b != "" {
		before, perr := time.Parse(time.RFC3339Nano, b)
		if perr != nil {
			return nil, status.Error(codes.InvalidArgument, "before must be RFC3339")
		}
		items, err = s.history.FetchHistory(ctx, courseID, before, limit)
	} else {
		items, next, err = s.history.Page(ctx, courseID, stringField(in, "cursor"), limit)
	}
	if err != nil {
		return nil, mapErr(err)
	}

	list := make([]any, 0, len(items))
	for _, m := range items {
		list = append(list, mapMessage(m))
	}
	out, err := structpb.NewStruct(map[string]any{
		"items":      list,
		"nextCursor": next,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// GetPresence takes {courseId} and returns {courseId, participantCount}.
func (s *Server) GetPresence(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := userFromMD(ctx); err != nil {
		return nil, err
	}
	courseID := stringField(in, "courseId")
	if courseID == "" {
		return nil, status.Error(codes.InvalidArgument, "courseId is required")
	}
	out, err := structpb.NewStruct(map[string]any{
		"courseId":         courseID,
		"participantCount": s.presence.ParticipantCount(courseID),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
