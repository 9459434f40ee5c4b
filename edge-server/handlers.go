package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cinema-realtime/shared"
)

var (
	errEmployeesOnly = errors.New("only employees may do this")
	errCustomersOnly = errors.New("only customers may do this")
	errEmptyMessage  = errors.New("message is empty")
)

// procedure handles one invocation. A returned error becomes the error of
// the completion, or an Error event for fire-and-forget sends.
type procedure func(ctx context.Context, c *Client, args []json.RawMessage) error

var procedures map[string]procedure

func init() {
	procedures = map[string]procedure{
		shared.MethodJoinGroup:             joinShowtime,
		shared.MethodLeaveGroup:            leaveShowtime,
		shared.MethodHoldSeats:             holdSeats,
		shared.MethodReleaseSeat:           releaseSeat,
		shared.MethodBookSeats:             bookSeats,
		shared.MethodSwitchCustomerRoom:    switchCustomerRoom,
		shared.MethodLeaveCustomerRoom:     leaveCustomerRoom,
		shared.MethodSendMessage:           sendMessage,
		shared.MethodSendMessageToCustomer: sendMessageToCustomer,
		shared.MethodSendChatHistory:       sendChatHistory,
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *shared.ClientMessage) {
	if msg.Type != shared.MessageTypeInvocation {
		c.sendError("Unknown message type: " + msg.Type)
		return
	}

	var err error
	if p, ok := procedures[msg.Target]; ok {
		callCtx, cancel := context.WithTimeout(ctx, invocationTimeout)
		err = p(callCtx, c, msg.Arguments)
		cancel()
	} else {
		err = fmt.Errorf("unknown procedure %s", msg.Target)
	}

	if err != nil {
		c.log.Info("invocation failed", slog.String("target", msg.Target), slog.String("error", err.Error()))
	} else {
		c.log.Debug("invocation", slog.String("target", msg.Target))
	}

	if msg.InvocationID != "" {
		c.complete(msg.InvocationID, err)
	} else if err != nil {
		c.sendError(err.Error())
	}
}

func joinShowtime(ctx context.Context, c *Client, args []json.RawMessage) error {
	var showtimeID string
	if err := shared.DecodeArgs(args, &showtimeID); err != nil {
		return err
	}
	group := showtimeGroup(showtimeID)

	// Member before the read; seat events for the group wait until the
	// snapshot is queued.
	unlock := c.hub.sequence.lock(group)
	defer unlock()
	c.hub.joinGroup(c, group)
	held, err := c.hub.seats.HeldSeats(ctx, showtimeID)
	if err != nil {
		c.hub.leaveGroup(c, group)
		return err
	}
	c.emit(shared.EventJoinedGroup, showtimeID)
	c.emit(shared.EventCurrentHeldSeats, showtimeID, held)
	return nil
}

func leaveShowtime(_ context.Context, c *Client, args []json.RawMessage) error {
	var showtimeID string
	if err := shared.DecodeArgs(args, &showtimeID); err != nil {
		return err
	}
	c.hub.leaveGroup(c, showtimeGroup(showtimeID))
	return nil
}

func holdSeats(ctx context.Context, c *Client, args []json.RawMessage) error {
	var showtimeID string
	var seatIDs []string
	if err := shared.DecodeArgs(args, &showtimeID, &seatIDs); err != nil {
		return err
	}
	return c.hub.seats.HoldSeats(ctx, showtimeID, c.userID, seatIDs)
}

func releaseSeat(ctx context.Context, c *Client, args []json.RawMessage) error {
	var showtimeID, seatID string
	if err := shared.DecodeArgs(args, &showtimeID, &seatID); err != nil {
		return err
	}
	return c.hub.seats.ReleaseSeats(ctx, showtimeID, c.userID, []string{seatID})
}

func bookSeats(ctx context.Context, c *Client, args []json.RawMessage) error {
	var showtimeID string
	var seatIDs []string
	if err := shared.DecodeArgs(args, &showtimeID, &seatIDs); err != nil {
		return err
	}
	return c.hub.seats.BookSeats(ctx, showtimeID, c.userID, seatIDs)
}

func switchCustomerRoom(_ context.Context, c *Client, args []json.RawMessage) error {
	if c.role != shared.RoleEmployee {
		return errEmployeesOnly
	}
	var customerID string
	if err := shared.DecodeArgs(args, &customerID); err != nil {
		return err
	}
	if c.chatRoom != "" && c.chatRoom != customerID {
		c.hub.leaveGroup(c, chatGroup(c.chatRoom))
	}
	c.chatRoom = customerID
	c.hub.joinGroup(c, chatGroup(customerID))
	return nil
}

func leaveCustomerRoom(_ context.Context, c *Client, args []json.RawMessage) error {
	if c.role != shared.RoleEmployee {
		return errEmployeesOnly
	}
	var customerID string
	if err := shared.DecodeArgs(args, &customerID); err != nil {
		return err
	}
	c.hub.leaveGroup(c, chatGroup(customerID))
	if c.chatRoom == customerID {
		c.chatRoom = ""
	}
	return nil
}

// sendMessage stores a customer's message, then delivers it to the
// customer's room and to every employee.
func sendMessage(ctx context.Context, c *Client, args []json.RawMessage) error {
	if c.role != shared.RoleCustomer {
		return errCustomersOnly
	}
	var content string
	if err := shared.DecodeArgs(args, &content); err != nil {
		return err
	}
	msg, err := c.newChatMessage(content)
	if err != nil {
		return err
	}

	unlock := c.hub.sequence.lock(chatGroup(c.userID))
	isNew, err := c.hub.chat.Append(ctx, c.userID, c.name, msg)
	if err != nil {
		unlock()
		return fmt.Errorf("store message: %w", err)
	}
	c.hub.broadcastToGroups(shared.EventReceive, []string{chatGroup(c.userID), groupEmployees},
		msg.Sender, msg.Content, msg.Time, msg.FromUserID, c.userID)
	unlock()

	if isNew {
		customers, err := c.hub.chat.Customers(ctx)
		if err != nil {
			c.log.Error("load chat roster", slog.String("error", err.Error()))
			return nil
		}
		c.hub.broadcastToGroups(shared.EventAllCustomersChatted, []string{groupEmployees}, customers)
	}
	return nil
}

func sendMessageToCustomer(ctx context.Context, c *Client, args []json.RawMessage) error {
	if c.role != shared.RoleEmployee {
		return errEmployeesOnly
	}
	var customerID, content string
	if err := shared.DecodeArgs(args, &customerID, &content); err != nil {
		return err
	}
	msg, err := c.newChatMessage(content)
	if err != nil {
		return err
	}

	unlock := c.hub.sequence.lock(chatGroup(customerID))
	defer unlock()
	if _, err := c.hub.chat.Append(ctx, customerID, customerID, msg); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	c.hub.broadcastToGroups(shared.EventReceive, []string{chatGroup(customerID)},
		msg.Sender, msg.Content, msg.Time, msg.FromUserID, customerID)
	return nil
}

func sendChatHistory(ctx context.Context, c *Client, args []json.RawMessage) error {
	var customerID string
	if err := shared.DecodeArgs(args, &customerID); err != nil {
		return err
	}
	if c.role == shared.RoleCustomer && customerID != c.userID {
		return errEmployeesOnly
	}
	// A message stored after this read is fanned out after this emit.
	unlock := c.hub.sequence.lock(chatGroup(customerID))
	defer unlock()
	history, err := c.hub.chat.History(ctx, customerID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	c.emit(shared.EventReceiveChatHistory, history)
	return nil
}

func (c *Client) newChatMessage(content string) (shared.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return shared.ChatMessage{}, errEmptyMessage
	}
	return shared.ChatMessage{
		Sender:     c.name,
		Content:    content,
		Time:       time.Now().UTC(),
		FromUserID: c.userID,
	}, nil
}
