package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"

	"github.com/go-chi/chi/v5"
)

type HistoryReader interface {
	FetchHistory(ctx context.Context, courseID string, before time.Time, limit int) ([]domain.Message, error)
	Page(ctx context.Context, courseID, cursor string, limit int) ([]domain.Message, string, error)
}

type PresenceReader interface {
	ParticipantCount(courseID string) int
}

type StatsReader interface {
	Stats() (connections, rooms int)
}

type Handler struct {
	history  HistoryReader
	presence PresenceReader
	stats    StatsReader
}

func NewHandler(history HistoryReader, presence PresenceReader, stats StatsReader) *Handler {
	return &Handler{history: history, presence: presence, stats: stats}
}

type MessageItem = domain.DeliveredPayload

type HistoryResponse struct {
	Items      []MessageItem `json:"items"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "http handler failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, ErrorResponse{Error: domain.Reason(err), Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GET /courses/{courseId}/messages?before=&cursor=&limit=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseId")
	q := r.URL.Query()

	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidRequest))
			return
		}
		limit = n
	}

	var (
		items []domain.Message
		next  string
		err   error
	)
	if s := strings.TrimSpace(q.Get("before")); s != "" {
		before, perr := time.Parse(time.RFC3339Nano, s)
		if perr != nil {
			writeError(w, r, fmt.Errorf("%w: before must be RFC3339", domain.ErrInvalidRequest))
			return
		}
		items, err = h.history.FetchHistory(r.Context(), courseID, before, limit)
	} else {
		items, next, err = h.history.Page(r.Context(), courseID, q.Get("cursor"), limit)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := HistoryResponse{Items: make([]MessageItem, 0, len(items)), NextCursor: next}
	for _, m := range items {
		resp.Items = append(resp.Items, domain.NewDelivered(m).Payload.(domain.DeliveredPayload))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /courses/{courseId}/presence
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	courseID := strings.TrimSpace(chi.URLParam(r, "courseId"))
	if courseID == "" {
		writeError(w, r, fmt.Errorf("%w: course id is required", domain.ErrInvalidRequest))
		return
	}
	writeJSON(w, http.StatusOK, domain.RoomPayload{
		CourseID:         courseID,
		ParticipantCount: h.presence.ParticipantCount(courseID),
	})
}

// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.stats != nil {
		resp.Connections, resp.Rooms = h.stats.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
