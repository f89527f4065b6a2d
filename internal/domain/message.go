package domain

import "time"

// Message is a chat message after it has been accepted by the store.
type Message struct {
	ID        string    `db:"id"`
	CourseID  string    `db:"course_id"`
	UserID    string    `db:"user_id"`
	Content   string    `db:"content"`
	Seq       int64     `db:"seq"`
	CreatedAt time.Time `db:"created_at"`
}
