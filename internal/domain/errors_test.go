package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestReason_UnwrapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrDuplicateConnection, "duplicate_connection"},
		{fmt.Errorf("lookup %q: %w", "c1", ErrNotRegistered), "not_registered"},
		{ErrEmptyContent, "empty_content"},
		{ErrContentTooLong, "content_too_long"},
		{fmt.Errorf("room C-101: %w", ErrNotJoined), "not_joined"},
		{fmt.Errorf("%w: timeout", ErrPersistence), "persistence_error"},
		{ErrRateLimited, "rate_limited"},
		{fmt.Errorf("%w: \"dance\"", ErrUnknownEvent), "unknown_event"},
		{errors.New("boom"), "internal_error"},
		{nil, ""},
	}
	for _, c := range cases {
		if got := Reason(c.err); got != c.want {
			t.Fatalf("Reason(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestNewDelivered_CopiesMessage(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewDelivered(Message{ID: "m1", CourseID: "C-101", UserID: "U1", Content: "hello", Seq: 7, CreatedAt: ts})
	if ev.Type != EventMessageDelivered {
		t.Fatalf("type = %q", ev.Type)
	}
	p, ok := ev.Payload.(DeliveredPayload)
	if !ok {
		t.Fatalf("payload type %T", ev.Payload)
	}
	if p.SenderID != "U1" || p.Content != "hello" || p.Seq != 7 || p.Timestamp != ts.UnixMilli() {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestNewDelivered_KeepsMicroseconds(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 1000, time.UTC)
	b := a.Add(time.Microsecond)
	pa := NewDelivered(Message{Seq: 1, CreatedAt: a}).Payload.(DeliveredPayload)
	pb := NewDelivered(Message{Seq: 2, CreatedAt: b}).Payload.(DeliveredPayload)
	if pa.Timestamp != pb.Timestamp {
		t.Fatalf("millis differ: %d vs %d", pa.Timestamp, pb.Timestamp)
	}
	if pa.CreatedAt != "2026-01-02T03:04:05.000001Z" || pb.CreatedAt != "2026-01-02T03:04:05.000002Z" {
		t.Fatalf("createdAt = %q, %q", pa.CreatedAt, pb.CreatedAt)
	}
	if pa.Seq >= pb.Seq {
		t.Fatalf("seq not increasing")
	}
}
