package shared

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventWireFormat(t *testing.T) {
	msg, err := NewEvent(EventSeatsHeld, "101", []HeldSeat{{SeatID: "A1", HeldBy: "u1"}})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","target":"SeatsHeld","arguments":["101",[{"seatId":"A1","heldBy":"u1"}]]}`, string(data))
}

func TestInvocationWithoutIDOmitsIt(t *testing.T) {
	args, err := EncodeArgs("hello")
	require.NoError(t, err)
	data, err := json.Marshal(ClientMessage{Type: MessageTypeInvocation, Target: MethodSendMessage, Arguments: args})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"invocation","target":"SendMessageAsync","arguments":["hello"]}`, string(data))
}

func TestDecodeArgs(t *testing.T) {
	var msg ClientMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"invocation","invocation_id":"7","target":"HoldSeats","arguments":["101",["A1","A2"],"extra"]}`), &msg))

	var room string
	var seats []string
	require.NoError(t, DecodeArgs(msg.Arguments, &room, &seats))
	assert.Equal(t, "101", room)
	assert.Equal(t, []string{"A1", "A2"}, seats)

	var a, b, c, d string
	assert.Error(t, DecodeArgs(msg.Arguments, &a, &b, &c, &d))
	assert.Error(t, DecodeArgs(msg.Arguments, &room, &a))
}

func TestEncodeArgsRejectsUnencodable(t *testing.T) {
	_, err := EncodeArgs("ok", make(chan int))
	assert.ErrorContains(t, err, "argument 1")
}
