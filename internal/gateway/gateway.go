// Package gateway is the persistence boundary used by the broker: it assigns
// message ids, delegates to a Store and normalizes store failures.
package gateway

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// Store is an append-capable message log keyed by course.
//
// Append receives a message with ID, CourseID, UserID and Content set and
// must assign Seq and CreatedAt, both strictly increasing per course.
// History returns messages created strictly before `before` (zero means no
// bound), most recent first.
type Store interface {
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)
	History(ctx context.Context, courseID string, before time.Time, limit int) ([]domain.Message, error)
}

type Options struct {
	DefaultLimit int
	MaxLimit     int
}

type Gateway struct {
	store Store

	defaultLimit int
	maxLimit     int

	idMu    sync.Mutex
	entropy io.Reader
}

func New(store Store, opts Options) *Gateway {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = MaxHistoryLimit
	}
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = min(DefaultHistoryLimit, opts.MaxLimit)
	}
	return &Gateway{
		store:        store,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
		entropy:      ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *Gateway) newID() (string, error) {
	g.idMu.Lock()
	defer g.idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Append durably records a message. Any failure is reported as
// domain.ErrPersistence and leaves nothing visible to readers.
func (g *Gateway) Append(ctx context.Context, courseID, userID, content string) (domain.Message, error) {
	id, err := g.newID()
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: generate id: %v", domain.ErrPersistence, err)
	}
	msg, err := g.store.Append(ctx, domain.Message{
		ID:       id,
		CourseID: courseID,
		UserID:   userID,
		Content:  content,
	})
	if err != nil {
		slog.Warn("gateway append failed", "course", courseID, "user", userID, "err", err)
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return msg, nil
}

func (g *Gateway) clamp(limit int) int {
	if limit <= 0 {
		return g.defaultLimit
	}
	if limit > g.maxLimit {
		return g.maxLimit
	}
	return limit
}

// FetchHistory returns up to limit messages older than before, newest first.
func (g *Gateway) FetchHistory(ctx context.Context, courseID string, before time.Time, limit int) ([]domain.Message, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, fmt.Errorf("%w: course id is required", domain.ErrInvalidRequest)
	}
	items, err := g.store.History(ctx, courseID, before, g.clamp(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", domain.ErrPersistence, err)
	}
	if items == nil {
		items = []domain.Message{}
	}
	return items, nil
}

// Page is FetchHistory driven by an opaque cursor; next is empty on the last page.
func (g *Gateway) Page(ctx context.Context, courseID, cursor string, limit int) ([]domain.Message, string, error) {
	cur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	var before time.Time
	if cur != nil {
		before = cur.CreatedAt
	}
	limit = g.clamp(limit)
	items, err := g.FetchHistory(ctx, courseID, before, limit)
	if err != nil {
		return nil, "", err
	}

	var next string
	if len(items) == limit {
		last := items[len(items)-1]
		if c, e := EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); e == nil {
			next = c
		}
	}
	return items, next, nil
}
