// Package memstore is an in-process message store for development and tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
)

type Store struct {
	mu       sync.RWMutex
	byCourse map[string][]domain.Message
	now      func() time.Time
}

func New() *Store {
	return &Store{
		byCourse: make(map[string][]domain.Message),
		now:      time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.byCourse[msg.CourseID]
	ts := s.now().UTC().Truncate(time.Microsecond)
	msg.Seq = 1
	if n := len(list); n > 0 {
		last := list[n-1]
		msg.Seq = last.Seq + 1
		if !ts.After(last.CreatedAt) {
			ts = last.CreatedAt.Add(time.Microsecond)
		}
	}
	msg.CreatedAt = ts
	s.byCourse[msg.CourseID] = append(list, msg)
	return msg, nil
}

func (s *Store) History(ctx context.Context, courseID string, before time.Time, limit int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byCourse[courseID]
	out := make([]domain.Message, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		m := list[i]
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Len returns the number of stored messages for a course.
func (s *Store) Len(courseID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCourse[courseID])
}
