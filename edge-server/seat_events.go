package main

import (
	"encoding/json"
	"log/slog"

	"cinema-realtime/shared"

	"github.com/nats-io/nats.go"
)

// subscribeToNATS forwards booking service seat events to the showtime
// groups.
func subscribeToNATS(nc *nats.Conn, hub *Hub) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(shared.NATSTopicAllSeats, func(msg *nats.Msg) {
		hub.handleSeatEvent(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	hub.log.Info("subscribed to seat events", slog.String("subject", shared.NATSTopicAllSeats))
	return sub, nil
}

// handleSeatEvent turns one bus event into room events. A multi-seat
// release becomes one SeatReleased per seat.
func (h *Hub) handleSeatEvent(subject string, data []byte) {
	var ev shared.SeatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.log.Error("parse seat event", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if ev.ShowtimeID == "" || len(ev.SeatIDs) == 0 {
		h.log.Warn("seat event without showtime or seats", slog.String("subject", subject))
		return
	}
	group := []string{showtimeGroup(ev.ShowtimeID)}
	unlock := h.sequence.lock(group[0])
	defer unlock()

	switch ev.Type {
	case shared.SeatEventHeld:
		held := make([]shared.HeldSeat, len(ev.SeatIDs))
		for i, id := range ev.SeatIDs {
			held[i] = shared.HeldSeat{SeatID: id, HeldBy: ev.UserID}
		}
		h.broadcastToGroups(shared.EventSeatsHeld, group, ev.ShowtimeID, held)
	case shared.SeatEventReleased, shared.SeatEventAutoReleased:
		for _, id := range ev.SeatIDs {
			h.broadcastToGroups(shared.EventSeatReleased, group, ev.ShowtimeID, id, ev.UserID)
		}
	case shared.SeatEventBooked:
		h.broadcastToGroups(shared.EventSeatsBooked, group, ev.ShowtimeID, ev.SeatIDs)
	default:
		h.log.Warn("unknown seat event type", slog.String("type", ev.Type))
		return
	}
	h.log.Debug("seat event forwarded", slog.String("type", ev.Type), slog.String("showtime", ev.ShowtimeID), slog.Any("seats", ev.SeatIDs))
}
