// Package sqlite stores chat messages in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS course_messages (
	id         TEXT PRIMARY KEY,
	course_id  TEXT    NOT NULL,
	user_id    TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	created_us INTEGER NOT NULL,
	UNIQUE (course_id, seq)
);
CREATE INDEX IF NOT EXISTS course_messages_course_created_idx
	ON course_messages (course_id, created_us DESC);
`

// Store keeps timestamps as unix microseconds. Writes go through a single
// mutex since SQLite allows one writer at a time.
type Store struct {
	db  *sql.DB
	wmu sync.Mutex
	now func() time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var lastSeq, lastUS int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq, created_us FROM course_messages WHERE course_id = ? ORDER BY seq DESC LIMIT 1`,
		msg.CourseID).Scan(&lastSeq, &lastUS)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("read last message: %w", err)
	}

	us := s.now().UnixMicro()
	if us <= lastUS {
		us = lastUS + 1
	}
	msg.Seq = lastSeq + 1

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO course_messages (id, course_id, user_id, content, seq, created_us) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.CourseID, msg.UserID, msg.Content, msg.Seq, us); err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	msg.CreatedAt = time.UnixMicro(us).UTC()
	return msg, nil
}

func (s *Store) History(ctx context.Context, courseID string, before time.Time, limit int) ([]domain.Message, error) {
	bound := int64(1<<63 - 1)
	if !before.IsZero() {
		bound = before.UnixMicro()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, user_id, content, seq, created_us
		FROM course_messages
		WHERE course_id = ? AND created_us < ?
		ORDER BY created_us DESC, seq DESC
		LIMIT ?`, courseID, bound, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var (
			m  domain.Message
			us int64
		)
		if err := rows.Scan(&m.ID, &m.CourseID, &m.UserID, &m.Content, &m.Seq, &us); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMicro(us).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
