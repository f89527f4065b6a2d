package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
	"github.com/cwrk-planet/coursechat-service/internal/gateway"
	"github.com/cwrk-planet/coursechat-service/internal/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

func (brokenStore) Append(context.Context, domain.Message) (domain.Message, error) {
	return domain.Message{}, errors.New("disk on fire")
}

func (brokenStore) History(context.Context, string, time.Time, int) ([]domain.Message, error) {
	return nil, errors.New("disk on fire")
}

func TestAppend_RoundTrip(t *testing.T) {
	g := gateway.New(memstore.New(), gateway.Options{})
	ctx := context.Background()

	sent := []string{"one", "two", "three"}
	for _, c := range sent {
		m, err := g.Append(ctx, "C-101", "U1", c)
		require.NoError(t, err)
		assert.Len(t, m.ID, 26, "ulid string")
		assert.False(t, m.CreatedAt.IsZero())
	}

	got, err := g.FetchHistory(ctx, "C-101", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, m := range got {
		assert.Equal(t, sent[len(sent)-1-i], m.Content)
		assert.Equal(t, "U1", m.UserID)
		assert.Equal(t, "C-101", m.CourseID)
		if i > 0 {
			assert.False(t, m.CreatedAt.After(got[i-1].CreatedAt), "newest first")
		}
	}
}

func TestAppend_IDsAreUniqueAndSortable(t *testing.T) {
	g := gateway.New(memstore.New(), gateway.Options{})
	prev := ""
	for i := 0; i < 50; i++ {
		m, err := g.Append(context.Background(), "C", "U", fmt.Sprint(i))
		require.NoError(t, err)
		assert.Greater(t, m.ID, prev)
		prev = m.ID
	}
}

func TestAppend_WrapsStoreFailure(t *testing.T) {
	g := gateway.New(brokenStore{}, gateway.Options{})
	_, err := g.Append(context.Background(), "C", "U", "hi")
	require.ErrorIs(t, err, domain.ErrPersistence)

	_, err = g.FetchHistory(context.Background(), "C", time.Time{}, 10)
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestFetchHistory_ClampsLimit(t *testing.T) {
	g := gateway.New(memstore.New(), gateway.Options{DefaultLimit: 2, MaxLimit: 3})
	for i := 0; i < 5; i++ {
		_, err := g.Append(context.Background(), "C", "U", fmt.Sprint(i))
		require.NoError(t, err)
	}

	got, err := g.FetchHistory(context.Background(), "C", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = g.FetchHistory(context.Background(), "C", time.Time{}, 1000)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = g.FetchHistory(context.Background(), "", time.Time{}, 1)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPage_WalksAllMessages(t *testing.T) {
	g := gateway.New(memstore.New(), gateway.Options{})
	for i := 0; i < 7; i++ {
		_, err := g.Append(context.Background(), "C", "U", fmt.Sprint(i))
		require.NoError(t, err)
	}

	var (
		seen   []string
		cursor string
		pages  int
	)
	for {
		items, next, err := g.Page(context.Background(), "C", cursor, 3)
		require.NoError(t, err)
		for _, m := range items {
			seen = append(seen, m.Content)
		}
		pages++
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, []string{"6", "5", "4", "3", "2", "1", "0"}, seen)
	assert.Equal(t, 3, pages)
}

func TestPage_InvalidCursor(t *testing.T) {
	g := gateway.New(memstore.New(), gateway.Options{})
	_, _, err := g.Page(context.Background(), "C", "%%%not-base64", 3)
	require.ErrorIs(t, err, domain.ErrInvalidCursor)
}

func TestCursor_RoundTrip(t *testing.T) {
	in := gateway.Cursor{CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 1000, time.UTC), ID: "01J"}
	s, err := gateway.EncodeCursor(in)
	require.NoError(t, err)
	out, err := gateway.DecodeCursor(s)
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)

	none, err := gateway.DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, none)
}
