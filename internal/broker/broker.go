// Package broker runs the persist-then-broadcast pipeline for chat messages.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
	"github.com/cwrk-planet/coursechat-service/internal/ratelimit"
	"github.com/cwrk-planet/coursechat-service/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxContentLength = 5000
	DefaultPersistTimeout   = 5 * time.Second
)

type Registry interface {
	LookupUser(connID string) (string, error)
}

type Rooms interface {
	IsMember(courseID, connID string) bool
	Broadcast(courseID string, ev domain.Event, exclude string) int
	Serialize(ctx context.Context, courseID string, fn func(ctx context.Context) error) error
}

type Gateway interface {
	Append(ctx context.Context, courseID, userID, content string) (domain.Message, error)
	FetchHistory(ctx context.Context, courseID string, before time.Time, limit int) ([]domain.Message, error)
}

type Options struct {
	MaxContentLength int
	PersistTimeout   time.Duration
	EchoToSender     bool
	Limiter          ratelimit.Limiter
}

type Broker struct {
	registry Registry
	rooms    Rooms
	gateway  Gateway

	maxLen         int
	persistTimeout time.Duration
	echo           bool
	limiter        ratelimit.Limiter
	tracer         trace.Tracer
}

func New(reg Registry, rooms Rooms, gw Gateway, opts Options) *Broker {
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Nop{}
	}
	return &Broker{
		registry:       reg,
		rooms:          rooms,
		gateway:        gw,
		maxLen:         opts.MaxContentLength,
		persistTimeout: opts.PersistTimeout,
		echo:           opts.EchoToSender,
		limiter:        opts.Limiter,
		tracer:         otel.Tracer("coursechat/broker"),
	}
}

// Send validates, persists and fans out one message. The persisted message
// is returned whatever the number of live recipients.
func (b *Broker) Send(ctx context.Context, courseID, senderConnID, content string) (msg domain.Message, err error) {
	ctx, span := b.tracer.Start(ctx, "broker.Send", trace.WithAttributes(
		attribute.String("course.id", courseID),
		attribute.String("connection.id", senderConnID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.Reason(err))
		}
		span.End()
	}()

	courseID = domain.NormalizeID(courseID)
	userID, err := b.registry.LookupUser(senderConnID)
	if err != nil {
		return domain.Message{}, err
	}
	if courseID == "" {
		return domain.Message{}, fmt.Errorf("%w: course id is required", domain.ErrInvalidRequest)
	}
	text := strings.TrimSpace(content)
	if text == "" {
		return domain.Message{}, domain.ErrEmptyContent
	}
	if n := utf8.RuneCountInString(text); n > b.maxLen {
		return domain.Message{}, fmt.Errorf("%w: %d > %d", domain.ErrContentTooLong, n, b.maxLen)
	}

	err = b.rooms.Serialize(ctx, courseID, func(ctx context.Context) error {
		if !b.rooms.IsMember(courseID, senderConnID) {
			return fmt.Errorf("course %q: %w", courseID, domain.ErrNotJoined)
		}
		// only sends that would be persisted spend quota
		ok, lerr := b.limiter.Allow(ctx, userID)
		if lerr != nil {
			// a broken limiter must not take chat down
			logger.FromCtx(ctx).Warn("rate limiter failed", "user", userID, "err", lerr)
		} else if !ok {
			return domain.ErrRateLimited
		}

		pctx, cancel := context.WithTimeout(ctx, b.persistTimeout)
		defer cancel()
		persisted, perr := b.gateway.Append(pctx, courseID, userID, text)
		if perr != nil {
			if !errors.Is(perr, domain.ErrPersistence) {
				perr = fmt.Errorf("%w: %v", domain.ErrPersistence, perr)
			}
			return perr
		}

		exclude := senderConnID
		if b.echo {
			exclude = ""
		}
		delivered := b.rooms.Broadcast(courseID, domain.NewDelivered(persisted), exclude)
		span.SetAttributes(attribute.Int("broadcast.delivered", delivered))
		logger.FromCtx(ctx).Debug("message delivered",
			"course", courseID, "msg", persisted.ID, "seq", persisted.Seq, "delivered", delivered)

		msg = persisted
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// gave up waiting for the room; nothing was persisted
			err = fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
		if errors.Is(err, domain.ErrPersistence) {
			slog.Warn("broker send failed", "course", courseID, "conn", senderConnID, "err", err)
		}
		return domain.Message{}, err
	}
	return msg, nil
}

// History returns persisted messages of a course, newest first.
func (b *Broker) History(ctx context.Context, courseID string, before time.Time, limit int) ([]domain.Message, error) {
	return b.gateway.FetchHistory(ctx, courseID, before, limit)
}
