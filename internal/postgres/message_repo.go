package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// EnsureSchema creates the message table if it does not exist.
func (r *MessageRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *MessageRepository) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	row := r.db.QueryRow(ctx, appendSQL, msg.CourseID, msg.ID, msg.UserID, msg.Content)
	if err := row.Scan(&msg.Seq, &msg.CreatedAt); err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

// History returns messages of a course older than before, newest first.
func (r *MessageRepository) History(ctx context.Context, courseID string, before time.Time, limit int) ([]domain.Message, error) {
	var bound any
	if !before.IsZero() {
		bound = before
	}
	rows, err := r.db.Query(ctx, historySQL, courseID, bound, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.CourseID, &m.UserID, &m.Content, &m.Seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
