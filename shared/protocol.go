package shared

import (
	"encoding/json"
	"fmt"
)

// Message types for WebSocket communication
const (
	MessageTypeInvocation = "invocation"
	MessageTypeCompletion = "completion"
	MessageTypeEvent      = "event"
)

// Server-to-client events
const (
	EventCurrentHeldSeats    = "CurrentHeldSeats"
	EventSeatsHeld           = "SeatsHeld"
	EventSeatReleased        = "SeatReleased"
	EventSeatsBooked         = "SeatsBooked"
	EventJoinedGroup         = "JoinedGroup"
	EventReceive             = "Receive"
	EventReceiveChatHistory  = "ReceiveChatHistory"
	EventAllCustomersChatted = "AllCustomersChatted"
	EventError               = "Error"
)

// Client-to-server procedures
const (
	MethodJoinGroup             = "JoinGroup"
	MethodLeaveGroup            = "LeaveGroup"
	MethodHoldSeats             = "HoldSeats"
	MethodReleaseSeat           = "ReleaseSeat"
	MethodBookSeats             = "BookSeats"
	MethodSwitchCustomerRoom    = "SwitchCustomerRoom"
	MethodLeaveCustomerRoom     = "LeaveCustomerRoom"
	MethodSendMessage           = "SendMessageAsync"
	MethodSendMessageToCustomer = "SendMessageToCustomerAsync"
	MethodSendChatHistory       = "SendChatHistory"
)

// Connection query parameters
const (
	QueryRole        = "role"
	QueryUserID      = "userId"
	QueryName        = "name"
	QueryAccessToken = "access_token"
)

// ClientMessage represents a message from the client to the hub.
// InvocationID is empty for fire-and-forget sends.
type ClientMessage struct {
	Type         string            `json:"type"`
	InvocationID string            `json:"invocation_id,omitempty"`
	Target       string            `json:"target"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
}

// ServerMessage represents a message from the hub to the client
type ServerMessage struct {
	Type         string            `json:"type"`
	InvocationID string            `json:"invocation_id,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EncodeArgs marshals each argument into its own raw JSON value.
func EncodeArgs(args ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// DecodeArgs unmarshals positional arguments into dst. It fails when fewer
// arguments were sent than destinations given; extra arguments are ignored.
func DecodeArgs(args []json.RawMessage, dst ...any) error {
	if len(args) < len(dst) {
		return fmt.Errorf("expected %d arguments, got %d", len(dst), len(args))
	}
	for i, d := range dst {
		if err := json.Unmarshal(args[i], d); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// NewEvent builds an event message for target with the given arguments.
func NewEvent(target string, args ...any) (ServerMessage, error) {
	raw, err := EncodeArgs(args...)
	if err != nil {
		return ServerMessage{}, err
	}
	return ServerMessage{Type: MessageTypeEvent, Target: target, Arguments: raw}, nil
}
