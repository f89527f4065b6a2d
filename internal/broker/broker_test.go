package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
	"github.com/cwrk-planet/coursechat-service/internal/gateway"
	"github.com/cwrk-planet/coursechat-service/internal/memstore"
	"github.com/cwrk-planet/coursechat-service/internal/ratelimit"
	"github.com/cwrk-planet/coursechat-service/internal/registry"
	"github.com/cwrk-planet/coursechat-service/internal/rooms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	reg   *registry.Registry
	rooms *rooms.Manager
	store *memstore.Store
	gw    *gateway.Gateway
}

func newFixture(t *testing.T, queue int) *fixture {
	t.Helper()
	reg := registry.New(queue)
	store := memstore.New()
	return &fixture{
		reg:   reg,
		rooms: rooms.NewManager(reg),
		store: store,
		gw:    gateway.New(store, gateway.Options{}),
	}
}

func (f *fixture) connect(t *testing.T, connID, userID string, courses ...string) *registry.Connection {
	t.Helper()
	c, err := f.reg.Register(connID, userID)
	require.NoError(t, err)
	for _, course := range courses {
		_, err := f.rooms.Join(course, connID)
		require.NoError(t, err)
	}
	return c
}

func drain(c *registry.Connection) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-c.Outbound():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func delivered(t *testing.T, evs []domain.Event) []domain.DeliveredPayload {
	t.Helper()
	var out []domain.DeliveredPayload
	for _, ev := range evs {
		if ev.Type != domain.EventMessageDelivered {
			continue
		}
		p, ok := ev.Payload.(domain.DeliveredPayload)
		require.True(t, ok)
		out = append(out, p)
	}
	return out
}

func TestSend_ScenarioTwoMembers(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, f.gw, Options{EchoToSender: true})
	c1 := f.connect(t, "C1", "U1", "C-101")
	c2 := f.connect(t, "C2", "U2", "C-101")

	msg, err := b.Send(context.Background(), "C-101", "C1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "U1", msg.UserID)
	assert.Equal(t, "hello", msg.Content)

	got1 := delivered(t, drain(c1))
	got2 := delivered(t, drain(c2))
	require.Len(t, got1, 1)
	require.Len(t, got2, 1)
	assert.Equal(t, got1[0], got2[0])
	assert.Equal(t, "U1", got2[0].SenderID)
	assert.Equal(t, "hello", got2[0].Content)
	assert.Equal(t, msg.ID, got2[0].ID)
	assert.Equal(t, msg.CreatedAt.UnixMilli(), got2[0].Timestamp)
}

func TestSend_ExcludesSenderWhenEchoDisabled(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, f.gw, Options{EchoToSender: false})
	c1 := f.connect(t, "C1", "U1", "C-101")
	c2 := f.connect(t, "C2", "U2", "C-101")

	_, err := b.Send(context.Background(), "C-101", "C1", "hello")
	require.NoError(t, err)
	assert.Empty(t, drain(c1))
	assert.Len(t, drain(c2), 1)
}

func TestSend_BeforeJoinFails(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, f.gw, Options{EchoToSender: true})
	f.connect(t, "C1", "U1")
	c2 := f.connect(t, "C2", "U2", "C-101")

	_, err := b.Send(context.Background(), "C-101", "C1", "hi")
	require.ErrorIs(t, err, domain.ErrNotJoined)
	assert.Equal(t, 0, f.store.Len("C-101"))
	assert.Empty(t, drain(c2))
}

func TestSend_ValidationErrors(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, f.gw, Options{MaxContentLength: 5000})
	f.connect(t, "C1", "U1", "C-101")
	ctx := context.Background()

	_, err := b.Send(ctx, "C-101", "ghost", "hi")
	require.ErrorIs(t, err, domain.ErrNotRegistered)

	_, err = b.Send(ctx, "C-101", "C1", "   \n\t ")
	require.ErrorIs(t, err, domain.ErrEmptyContent)

	_, err = b.Send(ctx, "C-101", "C1", strings.Repeat("x", 6000))
	require.ErrorIs(t, err, domain.ErrContentTooLong)

	_, err = b.Send(ctx, "", "C1", "hi")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	history, err := b.History(ctx, "C-101", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSend_LimitCountsRunesAfterTrim(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, f.gw, Options{MaxContentLength: 3})
	f.connect(t, "C1", "U1", "C")

	msg, err := b.Send(context.Background(), "C", "C1", "  héé  ")
	require.NoError(t, err)
	assert.Equal(t, "héé", msg.Content)
}

func TestSend_SequentialOrderSeenByEveryMember(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, f.gw, Options{EchoToSender: true})
	c1 := f.connect(t, "C1", "U1", "C-101")
	c2 := f.connect(t, "C2", "U2", "C-101")

	_, err := b.Send(context.Background(), "C-101", "C1", "m1")
	require.NoError(t, err)
	_, err = b.Send(context.Background(), "C-101", "C2", "m2")
	require.NoError(t, err)

	for _, c := range []*registry.Connection{c1, c2} {
		got := delivered(t, drain(c))
		require.Len(t, got, 2)
		assert.Equal(t, "m1", got[0].Content)
		assert.Equal(t, "m2", got[1].Content)
	}
}

func TestSend_ConcurrentSendsKeepStoreOrder(t *testing.T) {
	f := newFixture(t, 1024)
	b := New(f.reg, f.rooms, f.gw, Options{EchoToSender: true})
	const senders, perSender = 8, 25

	var members []*registry.Connection
	for i := 0; i < senders; i++ {
		members = append(members, f.connect(t, fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i), "C-101"))
	}
	observer := f.connect(t, "observer", "uo", "C-101")

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_, err := b.Send(context.Background(), "C-101", fmt.Sprintf("c%d", i), fmt.Sprintf("%d-%d", i, j))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	history, err := f.gw.FetchHistory(context.Background(), "C-101", time.Time{}, 100)
	require.NoError(t, err)
	require.Len(t, history, 100)

	for _, c := range append(members, observer) {
		got := delivered(t, drain(c))
		require.Len(t, got, senders*perSender)
		for i := 1; i < len(got); i++ {
			require.Equal(t, got[i-1].Seq+1, got[i].Seq, "fan-out order must follow store order")
		}
	}
}

type failingGateway struct{ err error }

func (g failingGateway) Append(context.Context, string, string, string) (domain.Message, error) {
	return domain.Message{}, g.err
}

func (g failingGateway) FetchHistory(context.Context, string, time.Time, int) ([]domain.Message, error) {
	return nil, nil
}

type blockingGateway struct{}

func (blockingGateway) Append(ctx context.Context, _, _, _ string) (domain.Message, error) {
	<-ctx.Done()
	return domain.Message{}, ctx.Err()
}

func (blockingGateway) FetchHistory(context.Context, string, time.Time, int) ([]domain.Message, error) {
	return nil, nil
}

func TestSend_PersistenceFailureSkipsBroadcast(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, failingGateway{err: errors.New("connection reset")}, Options{EchoToSender: true})
	c1 := f.connect(t, "C1", "U1", "C-101")
	c2 := f.connect(t, "C2", "U2", "C-101")

	_, err := b.Send(context.Background(), "C-101", "C1", "hello")
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Empty(t, drain(c1))
	assert.Empty(t, drain(c2))
}

func TestSend_PersistenceTimeout(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, blockingGateway{}, Options{PersistTimeout: 30 * time.Millisecond})
	c2 := f.connect(t, "C2", "U2", "C-101")
	f.connect(t, "C1", "U1", "C-101")

	start := time.Now()
	_, err := b.Send(context.Background(), "C-101", "C1", "hello")
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, drain(c2))

	// the room slot was released
	_, err = b.Send(context.Background(), "C-101", "C1", "again")
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestSend_RateLimited(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, f.gw, Options{Limiter: ratelimit.NewLocal(2, time.Hour)})
	f.connect(t, "C1", "U1", "C-101")

	for i := 0; i < 2; i++ {
		_, err := b.Send(context.Background(), "C-101", "C1", "ok")
		require.NoError(t, err)
	}
	_, err := b.Send(context.Background(), "C-101", "C1", "too many")
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 2, f.store.Len("C-101"))
}

func TestSend_SlowMemberDoesNotStallSender(t *testing.T) {
	f := newFixture(t, 2)
	b := New(f.reg, f.rooms, f.gw, Options{EchoToSender: false})
	f.connect(t, "sender", "U1", "C")
	slow := f.connect(t, "slow", "U2", "C")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_, err := b.Send(context.Background(), "C", "sender", fmt.Sprint(i))
			assert.NoError(t, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("sender stalled by a slow recipient")
	}
	select {
	case <-slow.Evicted():
	default:
		t.Fatal("slow recipient should be flagged")
	}
}

func TestSend_NotJoinedDoesNotSpendQuota(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, f.gw, Options{Limiter: ratelimit.NewLocal(1, time.Hour)})
	f.connect(t, "C1", "U1")

	for i := 0; i < 3; i++ {
		_, err := b.Send(context.Background(), "C-101", "C1", "early")
		require.ErrorIs(t, err, domain.ErrNotJoined)
	}

	_, err := f.rooms.Join("C-101", "C1")
	require.NoError(t, err)
	_, err = b.Send(context.Background(), "C-101", "C1", "now joined")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Len("C-101"))
}

func TestSend_PaddedCourseIDMatchesJoin(t *testing.T) {
	f := newFixture(t, 16)
	b := New(f.reg, f.rooms, f.gw, Options{EchoToSender: true})
	c := f.connect(t, "C1", "U1", " C-101 ")

	msg, err := b.Send(context.Background(), "  C-101", "C1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "C-101", msg.CourseID)
	assert.Equal(t, 1, f.store.Len("C-101"))
	require.Len(t, delivered(t, drain(c)), 1)
}
