package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cinema-realtime/shared"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	Subject string
	Event   shared.SeatEvent
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	fail   int
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("nats: connection closed")
	}
	var ev shared.SeatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.events = append(p.events, published{Subject: subject, Event: ev})
	return nil
}

func (p *fakePublisher) Events() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	mr    *miniredis.Miniredis
	pub   *fakePublisher
	seats *SeatManager
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &fixture{
		mr:    mr,
		pub:   &fakePublisher{},
		clock: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC),
	}
	f.seats = NewSeatManager(rdb, f.pub, 30*time.Second, discardLogger())
	f.seats.now = func() time.Time { return f.clock }
	require.NoError(t, f.seats.EnsureShowtime(context.Background(), "101"))
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
	f.mr.FastForward(d)
}

func seatByID(t *testing.T, seats []shared.Seat, id string) shared.Seat {
	t.Helper()
	for _, s := range seats {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("seat %s not found", id)
	return shared.Seat{}
}

func TestEnsureShowtimeCreatesLayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seats, err := f.seats.GetSeats(ctx, "101")
	require.NoError(t, err)
	require.Len(t, seats, shared.TotalSeats)
	assert.Equal(t, "A1", seats[0].ID)
	assert.Equal(t, "J10", seats[len(seats)-1].ID)
	assert.Equal(t, shared.SeatTypeCouple, seatByID(t, seats, "J3").Type)
	assert.Equal(t, shared.SeatTypeVIP, seatByID(t, seats, "G1").Type)
	assert.Equal(t, shared.SeatTypeStandard, seatByID(t, seats, "F1").Type)

	_, err = f.seats.HoldSeats(ctx, "101", "u1", []string{"A1"})
	require.NoError(t, err)
	require.NoError(t, f.seats.EnsureShowtime(ctx, "101"))
	held, err := f.seats.HeldSeats(ctx, "101")
	require.NoError(t, err)
	assert.Len(t, held, 1, "re-initializing keeps existing state")

	members, err := f.mr.SMembers(shared.RedisKeyShowtimes)
	require.NoError(t, err)
	assert.Equal(t, []string{"101"}, members)
}

func TestUnknownShowtime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.seats.GetSeats(ctx, "999")
	assert.ErrorIs(t, err, ErrShowtimeNotFound)

	_, err = f.seats.HoldSeats(ctx, "999", "u1", []string{"A1"})
	assert.ErrorIs(t, err, ErrShowtimeNotFound)
	assert.False(t, f.mr.Exists("showtime:999:seat:A1:lock"), "failed hold leaves no lock")
}

func TestHoldSeatsFirstRequestWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expiresAt, err := f.seats.HoldSeats(ctx, "101", "u1", []string{"A1", "A2"})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(30*time.Second), expiresAt)

	_, err = f.seats.HoldSeats(ctx, "101", "u2", []string{"A3", "A2"})
	assert.ErrorIs(t, err, ErrSeatTaken)

	held, err := f.seats.HeldSeats(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, []shared.HeldSeat{{SeatID: "A1", HeldBy: "u1"}, {SeatID: "A2", HeldBy: "u1"}}, held)
	assert.False(t, f.mr.Exists("showtime:101:seat:A3:lock"), "partial hold was rolled back")

	events := f.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, shared.NATSTopicSeatHeld, events[0].Subject)
	assert.Equal(t, "101", events[0].Event.ShowtimeID)
	assert.Equal(t, []string{"A1", "A2"}, events[0].Event.SeatIDs)
	assert.Equal(t, expiresAt.UnixMilli(), events[0].Event.ExpiresAt)
}

func TestHoldSeatsExtendsOwnHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.seats.HoldSeats(ctx, "101", "u1", []string{"B1"})
	require.NoError(t, err)
	f.advance(20 * time.Second)

	expiresAt, err := f.seats.HoldSeats(ctx, "101", "u1", []string{"B1", "B1"})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(30*time.Second), expiresAt)
	assert.Equal(t, 30*time.Second, f.mr.TTL("showtime:101:seat:B1:lock"))
}

func TestHoldSeatsRejectsBookedAndUnknownSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.seats.HoldSeats(ctx, "101", "u1", []string{"C1"})
	require.NoError(t, err)
	require.NoError(t, f.seats.BookSeats(ctx, "101", "u1", []string{"C1"}))

	_, err = f.seats.HoldSeats(ctx, "101", "u2", []string{"C1"})
	assert.ErrorIs(t, err, ErrSeatBooked)
	assert.False(t, f.mr.Exists("showtime:101:seat:C1:lock"))

	_, err = f.seats.HoldSeats(ctx, "101", "u2", []string{"Z99"})
	assert.ErrorIs(t, err, ErrSeatNotFound)

	_, err = f.seats.HoldSeats(ctx, "101", "u2", nil)
	assert.ErrorIs(t, err, ErrNoSeats)
}

func TestReleaseSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.seats.HoldSeats(ctx, "101", "u1", []string{"D1", "D2"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.seats.ReleaseSeats(ctx, "101", "u2", []string{"D1"}), ErrNotHolder)
	assert.ErrorIs(t, f.seats.ReleaseSeats(ctx, "101", "u1", []string{"D1", "D3"}), ErrNotHolder)

	require.NoError(t, f.seats.ReleaseSeats(ctx, "101", "u1", []string{"D1"}))

	held, err := f.seats.HeldSeats(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, []shared.HeldSeat{{SeatID: "D2", HeldBy: "u1"}}, held)
	assert.False(t, f.mr.Exists("showtime:101:seat:D1:lock"))

	events := f.pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, shared.NATSTopicSeatReleased, events[1].Subject)
	assert.Equal(t, shared.SeatEventReleased, events[1].Event.Type)
	assert.Equal(t, "u1", events[1].Event.UserID)
}

func TestBookSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.seats.HoldSeats(ctx, "101", "u1", []string{"E1", "E2"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.seats.BookSeats(ctx, "101", "u2", []string{"E1"}), ErrNotHolder)
	require.NoError(t, f.seats.BookSeats(ctx, "101", "u1", []string{"E1", "E2"}))

	seats, err := f.seats.GetSeats(ctx, "101")
	require.NoError(t, err)
	e1 := seatByID(t, seats, "E1")
	assert.Equal(t, shared.SeatBooked, e1.Status)
	assert.Empty(t, e1.HeldBy)
	assert.Zero(t, e1.ExpiresAt)

	events := f.pub.Events()
	assert.Equal(t, shared.NATSTopicSeatBooked, events[len(events)-1].Subject)

	assert.ErrorIs(t, f.seats.ReleaseSeats(ctx, "101", "u1", []string{"E1"}), ErrNotHolder, "sold seats cannot be released")
}

func TestCheckExpiredHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.seats.HoldSeats(ctx, "101", "u1", []string{"F1"})
	require.NoError(t, err)
	f.advance(10 * time.Second)
	_, err = f.seats.HoldSeats(ctx, "101", "u2", []string{"F2"})
	require.NoError(t, err)

	f.advance(25 * time.Second)
	assert.Equal(t, 1, f.seats.checkExpiredHolds(ctx))

	held, err := f.seats.HeldSeats(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, []shared.HeldSeat{{SeatID: "F2", HeldBy: "u2"}}, held)

	events := f.pub.Events()
	last := events[len(events)-1]
	assert.Equal(t, shared.NATSTopicSeatReleased, last.Subject)
	assert.Equal(t, shared.SeatEventAutoReleased, last.Event.Type)
	assert.Equal(t, []string{"F1"}, last.Event.SeatIDs)
	assert.Equal(t, "u1", last.Event.UserID)

	_, err = f.seats.HoldSeats(ctx, "101", "u3", []string{"F1"})
	assert.NoError(t, err, "expired seat can be held again")
	assert.Zero(t, f.seats.checkExpiredHolds(ctx))
}

func TestSweepSkipsHoldRenewedAfterItsRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.seats.HoldSeats(ctx, "101", "u1", []string{"F3"})
	require.NoError(t, err)
	f.advance(31 * time.Second)

	seats, err := f.seats.GetSeats(ctx, "101")
	require.NoError(t, err)
	stale := seatByID(t, seats, "F3")
	require.Equal(t, shared.SeatHeld, stale.Status)

	renewedUntil, err := f.seats.HoldSeats(ctx, "101", "u1", []string{"F3"})
	require.NoError(t, err)
	eventsBefore := len(f.pub.Events())

	released, err := f.seats.autoReleaseSeat(ctx, "101", stale)
	require.NoError(t, err)
	assert.False(t, released)

	seats, err = f.seats.GetSeats(ctx, "101")
	require.NoError(t, err)
	f3 := seatByID(t, seats, "F3")
	assert.Equal(t, shared.SeatHeld, f3.Status)
	assert.Equal(t, "u1", f3.HeldBy)
	assert.Equal(t, renewedUntil.UnixMilli(), f3.ExpiresAt)
	assert.True(t, f.mr.Exists("showtime:101:seat:F3:lock"))
	assert.Len(t, f.pub.Events(), eventsBefore)
}

func TestPublishRetries(t *testing.T) {
	f := newFixture(t)
	f.pub.fail = 2

	_, err := f.seats.HoldSeats(context.Background(), "101", "u1", []string{"G1"})
	require.NoError(t, err)
	assert.Len(t, f.pub.Events(), 1)

	f.pub.fail = 3
	require.NoError(t, f.seats.ReleaseSeats(context.Background(), "101", "u1", []string{"G1"}), "a lost notification does not fail the change")
	assert.Len(t, f.pub.Events(), 1)
}

func TestTimerServiceStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.seats.StartTimerService(ctx, 5*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer service did not stop")
	}
}
