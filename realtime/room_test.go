package realtime_test

import (
	"context"
	"errors"
	"testing"

	"cinema-realtime/realtime"
	"cinema-realtime/realtime/realtimetest"
	"cinema-realtime/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roomArg(t *testing.T, c realtimetest.Call) string {
	t.Helper()
	var key string
	c.Arg(0, &key)
	return key
}

func TestRoomJoinFromUnjoined(t *testing.T) {
	conn := realtimetest.NewConn()
	room := realtime.NewRoom(conn, realtime.ShowtimeRooms, nil)

	require.NoError(t, room.Join(context.Background(), "101"))

	assert.Equal(t, []string{shared.MethodJoinGroup}, conn.Methods())
	key, ok := room.Current()
	assert.True(t, ok)
	assert.Equal(t, "101", key)
}

func TestRoomJoinSameKeyTwiceLeavesThenJoins(t *testing.T) {
	conn := realtimetest.NewConn()
	room := realtime.NewRoom(conn, realtime.ShowtimeRooms, nil)
	ctx := context.Background()

	require.NoError(t, room.Join(ctx, "7"))
	require.NoError(t, room.Join(ctx, "7"))

	calls := conn.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, shared.MethodJoinGroup, calls[0].Method)
	assert.Equal(t, shared.MethodLeaveGroup, calls[1].Method)
	assert.Equal(t, "7", roomArg(t, calls[1]))
	assert.Equal(t, shared.MethodJoinGroup, calls[2].Method)
	assert.Equal(t, "7", roomArg(t, calls[2]))
}

func TestRoomSwitchLeavesPrevious(t *testing.T) {
	conn := realtimetest.NewConn()
	room := realtime.NewRoom(conn, realtime.CustomerRooms, nil)
	ctx := context.Background()

	require.NoError(t, room.Join(ctx, "u1"))
	require.NoError(t, room.Join(ctx, "u2"))

	calls := conn.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, shared.MethodLeaveCustomerRoom, calls[1].Method)
	assert.Equal(t, "u1", roomArg(t, calls[1]))
	assert.Equal(t, shared.MethodSwitchCustomerRoom, calls[2].Method)
	assert.Equal(t, "u2", roomArg(t, calls[2]))
}

func TestRoomJoinProceedsWhenLeaveFails(t *testing.T) {
	conn := realtimetest.NewConn()
	room := realtime.NewRoom(conn, realtime.ShowtimeRooms, nil)
	ctx := context.Background()

	require.NoError(t, room.Join(ctx, "7"))
	conn.FailNext(shared.MethodLeaveGroup, errors.New("boom"))
	require.NoError(t, room.Join(ctx, "8"))

	key, ok := room.Current()
	assert.True(t, ok)
	assert.Equal(t, "8", key)
}

func TestRoomJoinFailureLeavesUnjoined(t *testing.T) {
	conn := realtimetest.NewConn()
	room := realtime.NewRoom(conn, realtime.ShowtimeRooms, nil)

	conn.FailNext(shared.MethodJoinGroup, &realtime.InvocationError{Method: shared.MethodJoinGroup, Message: "no such showtime"})
	err := room.Join(context.Background(), "404")

	var invErr *realtime.InvocationError
	assert.ErrorAs(t, err, &invErr)
	_, ok := room.Current()
	assert.False(t, ok)
}

func TestRoomLeave(t *testing.T) {
	conn := realtimetest.NewConn()
	room := realtime.NewRoom(conn, realtime.ShowtimeRooms, nil)
	ctx := context.Background()

	require.NoError(t, room.Leave(ctx))
	assert.Empty(t, conn.Methods(), "leaving an unjoined room is a no-op")

	require.NoError(t, room.Join(ctx, "7"))
	conn.Drop()
	assert.ErrorIs(t, room.Leave(ctx), realtime.ErrNotConnected)

	_, ok := room.Current()
	assert.False(t, ok)
}

func TestRoomReportsUnjoinedWhileDisconnected(t *testing.T) {
	conn := realtimetest.NewConn()
	room := realtime.NewRoom(conn, realtime.ShowtimeRooms, nil)
	ctx := context.Background()
	require.NoError(t, room.Join(ctx, "7"))

	conn.Drop()
	_, ok := room.Current()
	assert.False(t, ok)

	conn.Reset()
	conn.Reconnect(ctx)
	assert.Equal(t, []string{shared.MethodJoinGroup}, conn.Methods())
	key, ok := room.Current()
	assert.True(t, ok)
	assert.Equal(t, "7", key)
}

func TestRoomRejoinFailureMarksUnjoined(t *testing.T) {
	conn := realtimetest.NewConn()
	room := realtime.NewRoom(conn, realtime.ShowtimeRooms, nil)
	ctx := context.Background()
	require.NoError(t, room.Join(ctx, "7"))

	conn.FailNext(shared.MethodJoinGroup, errors.New("gone"))
	conn.Reconnect(ctx)

	_, ok := room.Current()
	assert.False(t, ok)
}

func TestRoomCloseDropsReconnectHook(t *testing.T) {
	conn := realtimetest.NewConn()
	room := realtime.NewRoom(conn, realtime.ShowtimeRooms, nil)
	ctx := context.Background()
	require.NoError(t, room.Join(ctx, "7"))
	room.Close()

	conn.Reset()
	conn.Reconnect(ctx)
	assert.Empty(t, conn.Methods())
}
