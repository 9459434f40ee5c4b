package seatmap_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cinema-realtime/realtime/realtimetest"
	"cinema-realtime/seatmap"
	"cinema-realtime/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snapshotOnJoin makes the fake hub answer every JoinGroup with the
// snapshot returned by held.
func snapshotOnJoin(conn *realtimetest.Conn, held func(room string) []shared.HeldSeat) {
	conn.OnInvoke = func(method string, args []json.RawMessage) error {
		if method != shared.MethodJoinGroup {
			return nil
		}
		var room string
		if err := json.Unmarshal(args[0], &room); err != nil {
			return err
		}
		conn.Emit(shared.EventCurrentHeldSeats, room, held(room))
		return nil
	}
}

func TestViewerOpenAppliesSnapshot(t *testing.T) {
	conn := realtimetest.NewConn()
	snapshotOnJoin(conn, func(string) []shared.HeldSeat {
		return []shared.HeldSeat{{SeatID: "A1", HeldBy: "u1"}}
	})
	v := seatmap.NewViewer(conn, "me", nil)

	require.NoError(t, v.Open(context.Background(), "101"))

	state := v.State()
	assert.Equal(t, "101", state.Room())
	assert.Equal(t, seatmap.HeldByOther, state.Status("A1"))
	assert.Equal(t, seatmap.Free, state.Status("B2"))
	assert.Equal(t, []string{shared.MethodJoinGroup}, conn.Methods())
}

func TestViewerDropsEventsForPreviousShowtime(t *testing.T) {
	conn := realtimetest.NewConn()
	v := seatmap.NewViewer(conn, "me", nil)
	ctx := context.Background()

	require.NoError(t, v.Open(ctx, "101"))
	conn.Emit(shared.EventSeatsHeld, "101", []shared.HeldSeat{{SeatID: "A1", HeldBy: "u1"}})
	require.NoError(t, v.Open(ctx, "202"))

	assert.Equal(t, seatmap.Free, v.State().Status("A1"), "switching showtimes clears the map")

	conn.Emit(shared.EventSeatsHeld, "101", []shared.HeldSeat{{SeatID: "C3", HeldBy: "u1"}})
	conn.Emit(shared.EventSeatsBooked, "101", []string{"C4"})
	assert.Empty(t, v.State().Seats())

	conn.Emit(shared.EventSeatsHeld, "202", []shared.HeldSeat{{SeatID: "C3", HeldBy: "u1"}})
	assert.Equal(t, seatmap.HeldByOther, v.State().Status("C3"))

	assert.Equal(t, []string{
		shared.MethodJoinGroup, shared.MethodLeaveGroup, shared.MethodJoinGroup,
	}, conn.Methods())
	assert.Equal(t, 1, conn.Handlers(shared.EventSeatsHeld), "handlers are registered once")
}

func TestViewerAppliesDeltas(t *testing.T) {
	conn := realtimetest.NewConn()
	v := seatmap.NewViewer(conn, "me", nil)
	require.NoError(t, v.Open(context.Background(), "5"))

	conn.Emit(shared.EventSeatsHeld, "5", []shared.HeldSeat{{SeatID: "A1", HeldBy: "me"}, {SeatID: "A2", HeldBy: "u2"}})
	conn.Emit(shared.EventSeatReleased, "5", "A2", "u2")
	conn.Emit(shared.EventSeatsBooked, "5", []string{"A1"})

	assert.Equal(t, seatmap.Sold, v.State().Status("A1"))
	assert.Equal(t, seatmap.Free, v.State().Status("A2"))
}

func TestViewerIgnoresMalformedPayload(t *testing.T) {
	conn := realtimetest.NewConn()
	v := seatmap.NewViewer(conn, "me", nil)
	require.NoError(t, v.Open(context.Background(), "5"))

	conn.Emit(shared.EventSeatsHeld, "5", "not a list")
	conn.Emit(shared.EventJoinedGroup, "5")

	assert.Empty(t, v.State().Seats())
}

func TestViewerOpenFailureDetaches(t *testing.T) {
	conn := realtimetest.NewConn()
	v := seatmap.NewViewer(conn, "me", nil)
	conn.FailNext(shared.MethodJoinGroup, errors.New("unknown showtime"))

	require.Error(t, v.Open(context.Background(), "404"))
	assert.Equal(t, "", v.State().Room())

	conn.Emit(shared.EventSeatsHeld, "404", []shared.HeldSeat{{SeatID: "A1", HeldBy: "u1"}})
	assert.Empty(t, v.State().Seats())
}

func TestViewerCloseLeavesAndUnsubscribes(t *testing.T) {
	conn := realtimetest.NewConn()
	v := seatmap.NewViewer(conn, "me", nil)
	ctx := context.Background()
	require.NoError(t, v.Open(ctx, "5"))

	require.NoError(t, v.Close(ctx))

	assert.Equal(t, []string{shared.MethodJoinGroup, shared.MethodLeaveGroup}, conn.Methods())
	assert.Zero(t, conn.Handlers(shared.EventCurrentHeldSeats))
	assert.Zero(t, conn.Handlers(shared.EventSeatReleased))
	assert.Equal(t, "", v.State().Room())
}

func TestViewerResyncsAfterReconnect(t *testing.T) {
	conn := realtimetest.NewConn()
	snapshot := []shared.HeldSeat{{SeatID: "A1", HeldBy: "u1"}}
	snapshotOnJoin(conn, func(string) []shared.HeldSeat { return snapshot })
	v := seatmap.NewViewer(conn, "me", nil)
	ctx := context.Background()
	require.NoError(t, v.Open(ctx, "101"))

	conn.Drop()
	snapshot = []shared.HeldSeat{{SeatID: "A2", HeldBy: "u3"}}
	conn.Reconnect(ctx)

	assert.Equal(t, seatmap.Free, v.State().Status("A1"))
	assert.Equal(t, seatmap.HeldByOther, v.State().Status("A2"))
}

func TestViewerShutdownDropsRejoin(t *testing.T) {
	conn := realtimetest.NewConn()
	v := seatmap.NewViewer(conn, "me", nil)
	ctx := context.Background()
	require.NoError(t, v.Open(ctx, "101"))
	require.NoError(t, v.Shutdown(ctx))

	conn.Reset()
	conn.Reconnect(ctx)
	assert.Empty(t, conn.Methods())
}

func TestViewerSeed(t *testing.T) {
	conn := realtimetest.NewConn()
	v := seatmap.NewViewer(conn, "me", nil)
	require.NoError(t, v.Open(context.Background(), "5"))

	v.Seed([]shared.Seat{{ID: "A1", Type: shared.SeatTypeVIP, Status: shared.SeatBooked}})

	seat := v.State().Seat("A1")
	assert.Equal(t, seatmap.Sold, seat.Status)
	assert.Equal(t, shared.SeatTypeVIP, seat.Type)
}
