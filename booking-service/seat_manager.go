package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cinema-realtime/shared"

	"github.com/go-redis/redis/v8"
)

var (
	ErrShowtimeNotFound = errors.New("showtime not found")
	ErrSeatNotFound     = errors.New("seat not found")
	ErrSeatTaken        = errors.New("seat is already held by another user")
	ErrSeatBooked       = errors.New("seat is already booked")
	ErrNotHolder        = errors.New("seat is not held by you")
	ErrNoSeats          = errors.New("no seats given")
)

// Publisher is the part of *nats.Conn the seat manager needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// SeatManager is the authority on seat state. Every showtime keeps its
// seats in one Redis hash, and a hold is a per-seat lock key created with
// SETNX, so the first request for a seat wins and the lock expires on its
// own after the hold duration.
type SeatManager struct {
	rdb          *redis.Client
	pub          Publisher
	holdDuration time.Duration
	now          func() time.Time
	log          *slog.Logger
}

func NewSeatManager(rdb *redis.Client, pub Publisher, holdDuration time.Duration, logger *slog.Logger) *SeatManager {
	if holdDuration <= 0 {
		holdDuration = shared.HoldDuration
	}
	return &SeatManager{
		rdb:          rdb,
		pub:          pub,
		holdDuration: holdDuration,
		now:          time.Now,
		log:          logger,
	}
}

// EnsureShowtime creates the default seat layout for showtimeID unless it
// already exists.
func (m *SeatManager) EnsureShowtime(ctx context.Context, showtimeID string) error {
	seatsKey := fmt.Sprintf(shared.RedisKeyShowtimeSeats, showtimeID)
	exists, err := m.rdb.Exists(ctx, seatsKey).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		m.log.Debug("showtime already initialized", slog.String("showtime", showtimeID))
		return m.rdb.SAdd(ctx, shared.RedisKeyShowtimes, showtimeID).Err()
	}

	values := make(map[string]interface{}, shared.TotalSeats)
	for row := 0; row < shared.VenueRows; row++ {
		for col := 0; col < shared.VenueCols; col++ {
			seat := shared.Seat{
				ID:     shared.GetSeatID(row, col),
				Row:    row,
				Col:    col,
				Type:   shared.SeatTypeForRow(row),
				Status: shared.SeatAvailable,
			}
			seatJSON, err := json.Marshal(seat)
			if err != nil {
				return err
			}
			values[seat.ID] = seatJSON
		}
	}

	if err := m.rdb.HSet(ctx, seatsKey, values).Err(); err != nil {
		return err
	}
	if err := m.rdb.SAdd(ctx, shared.RedisKeyShowtimes, showtimeID).Err(); err != nil {
		return err
	}
	m.log.Info("showtime initialized", slog.String("showtime", showtimeID), slog.Int("seats", shared.TotalSeats))
	return nil
}

// GetSeats returns every seat of a showtime ordered by row and column.
func (m *SeatManager) GetSeats(ctx context.Context, showtimeID string) ([]shared.Seat, error) {
	seatMap, err := m.rdb.HGetAll(ctx, fmt.Sprintf(shared.RedisKeyShowtimeSeats, showtimeID)).Result()
	if err != nil {
		return nil, err
	}
	if len(seatMap) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrShowtimeNotFound, showtimeID)
	}

	seats := make([]shared.Seat, 0, len(seatMap))
	for id, seatJSON := range seatMap {
		var seat shared.Seat
		if err := json.Unmarshal([]byte(seatJSON), &seat); err != nil {
			m.log.Error("corrupt seat record", slog.String("showtime", showtimeID), slog.String("seat", id), slog.String("error", err.Error()))
			continue
		}
		seats = append(seats, seat)
	}
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].Row != seats[j].Row {
			return seats[i].Row < seats[j].Row
		}
		return seats[i].Col < seats[j].Col
	})
	return seats, nil
}

// HeldSeats returns the current holds of a showtime, the payload of a
// CurrentHeldSeats snapshot.
func (m *SeatManager) HeldSeats(ctx context.Context, showtimeID string) ([]shared.HeldSeat, error) {
	seats, err := m.GetSeats(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	held := make([]shared.HeldSeat, 0)
	for _, seat := range seats {
		if seat.Status == shared.SeatHeld {
			held = append(held, shared.HeldSeat{SeatID: seat.ID, HeldBy: seat.HeldBy})
		}
	}
	return held, nil
}

// HoldSeats holds every seat in seatIDs for userID or none of them. Seats
// the user already holds have their hold extended.
func (m *SeatManager) HoldSeats(ctx context.Context, showtimeID, userID string, seatIDs []string) (time.Time, error) {
	seatIDs = dedupe(seatIDs)
	if len(seatIDs) == 0 {
		return time.Time{}, ErrNoSeats
	}
	seatsKey := fmt.Sprintf(shared.RedisKeyShowtimeSeats, showtimeID)

	var acquired []string
	rollback := func() {
		for _, id := range acquired {
			m.rdb.Del(ctx, fmt.Sprintf(shared.RedisKeySeatLock, showtimeID, id))
		}
	}

	seats := make([]shared.Seat, 0, len(seatIDs))
	for _, seatID := range seatIDs {
		lockKey := fmt.Sprintf(shared.RedisKeySeatLock, showtimeID, seatID)
		ok, err := m.rdb.SetNX(ctx, lockKey, userID, m.holdDuration).Result()
		if err != nil {
			rollback()
			return time.Time{}, err
		}
		if ok {
			acquired = append(acquired, seatID)
		} else {
			holder, err := m.rdb.Get(ctx, lockKey).Result()
			if err != nil && err != redis.Nil {
				rollback()
				return time.Time{}, err
			}
			if holder != userID {
				rollback()
				return time.Time{}, fmt.Errorf("%w: %s", ErrSeatTaken, seatID)
			}
		}

		seat, err := m.loadSeat(ctx, seatsKey, showtimeID, seatID)
		if err != nil {
			rollback()
			return time.Time{}, err
		}
		if seat.Status == shared.SeatBooked {
			rollback()
			return time.Time{}, fmt.Errorf("%w: %s", ErrSeatBooked, seatID)
		}
		seats = append(seats, seat)
	}

	expiresAt := m.now().Add(m.holdDuration)
	values := make(map[string]interface{}, len(seats))
	pipe := m.rdb.TxPipeline()
	for _, seat := range seats {
		seat.Status = shared.SeatHeld
		seat.HeldBy = userID
		seat.ExpiresAt = expiresAt.UnixMilli()
		seatJSON, err := json.Marshal(seat)
		if err != nil {
			rollback()
			return time.Time{}, err
		}
		values[seat.ID] = seatJSON
		pipe.Expire(ctx, fmt.Sprintf(shared.RedisKeySeatLock, showtimeID, seat.ID), m.holdDuration)
	}
	pipe.HSet(ctx, seatsKey, values)
	if _, err := pipe.Exec(ctx); err != nil {
		rollback()
		return time.Time{}, err
	}

	m.publishSeatEvent(shared.SeatEvent{
		Type:       shared.SeatEventHeld,
		ShowtimeID: showtimeID,
		SeatIDs:    seatIDs,
		UserID:     userID,
		ExpiresAt:  expiresAt.UnixMilli(),
	})
	m.log.Info("seats held", slog.String("showtime", showtimeID), slog.String("user", userID), slog.Any("seats", seatIDs))
	return expiresAt, nil
}

// ReleaseSeats gives back seats held by userID. Every seat must be held by
// the user or nothing is released.
func (m *SeatManager) ReleaseSeats(ctx context.Context, showtimeID, userID string, seatIDs []string) error {
	return m.settleHolds(ctx, showtimeID, userID, dedupe(seatIDs), shared.SeatAvailable, shared.SeatEventReleased)
}

// BookSeats turns seats held by userID into sold seats.
func (m *SeatManager) BookSeats(ctx context.Context, showtimeID, userID string, seatIDs []string) error {
	return m.settleHolds(ctx, showtimeID, userID, dedupe(seatIDs), shared.SeatBooked, shared.SeatEventBooked)
}

// settleHolds ends the user's holds on seatIDs, moving the seats to status.
func (m *SeatManager) settleHolds(ctx context.Context, showtimeID, userID string, seatIDs []string, status int, eventType string) error {
	if len(seatIDs) == 0 {
		return ErrNoSeats
	}
	seatsKey := fmt.Sprintf(shared.RedisKeyShowtimeSeats, showtimeID)

	seats := make([]shared.Seat, 0, len(seatIDs))
	for _, seatID := range seatIDs {
		lockKey := fmt.Sprintf(shared.RedisKeySeatLock, showtimeID, seatID)
		holder, err := m.rdb.Get(ctx, lockKey).Result()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", ErrNotHolder, seatID)
		}
		if err != nil {
			return err
		}
		if holder != userID {
			return fmt.Errorf("%w: %s", ErrNotHolder, seatID)
		}

		seat, err := m.loadSeat(ctx, seatsKey, showtimeID, seatID)
		if err != nil {
			return err
		}
		if seat.Status != shared.SeatHeld || seat.HeldBy != userID {
			return fmt.Errorf("%w: %s", ErrNotHolder, seatID)
		}
		seats = append(seats, seat)
	}

	values := make(map[string]interface{}, len(seats))
	locks := make([]string, 0, len(seats))
	for _, seat := range seats {
		seat.Status = status
		seat.HeldBy = ""
		seat.ExpiresAt = 0
		seatJSON, err := json.Marshal(seat)
		if err != nil {
			return err
		}
		values[seat.ID] = seatJSON
		locks = append(locks, fmt.Sprintf(shared.RedisKeySeatLock, showtimeID, seat.ID))
	}

	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, seatsKey, values)
	pipe.Del(ctx, locks...)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	m.publishSeatEvent(shared.SeatEvent{
		Type:       eventType,
		ShowtimeID: showtimeID,
		SeatIDs:    seatIDs,
		UserID:     userID,
	})
	m.log.Info("seats "+eventType, slog.String("showtime", showtimeID), slog.String("user", userID), slog.Any("seats", seatIDs))
	return nil
}

func (m *SeatManager) loadSeat(ctx context.Context, seatsKey, showtimeID, seatID string) (shared.Seat, error) {
	var seat shared.Seat
	seatJSON, err := m.rdb.HGet(ctx, seatsKey, seatID).Result()
	if err == redis.Nil {
		exists, _ := m.rdb.Exists(ctx, seatsKey).Result()
		if exists == 0 {
			return seat, fmt.Errorf("%w: %s", ErrShowtimeNotFound, showtimeID)
		}
		return seat, fmt.Errorf("%w: %s", ErrSeatNotFound, seatID)
	}
	if err != nil {
		return seat, err
	}
	if err := json.Unmarshal([]byte(seatJSON), &seat); err != nil {
		return seat, fmt.Errorf("decode seat %s: %w", seatID, err)
	}
	return seat, nil
}

// publishSeatEvent publishes to the subject matching the event type,
// retrying a few times. A failed publish never fails the seat change.
func (m *SeatManager) publishSeatEvent(event shared.SeatEvent) bool {
	event.Timestamp = m.now()

	var topic string
	switch event.Type {
	case shared.SeatEventHeld:
		topic = shared.NATSTopicSeatHeld
	case shared.SeatEventReleased, shared.SeatEventAutoReleased:
		topic = shared.NATSTopicSeatReleased
	case shared.SeatEventBooked:
		topic = shared.NATSTopicSeatBooked
	default:
		m.log.Error("unknown seat event type", slog.String("type", event.Type))
		return false
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		m.log.Error("marshal seat event", slog.String("error", err.Error()))
		return false
	}

	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		err = m.pub.Publish(topic, eventJSON)
		if err == nil {
			m.log.Debug("published seat event", slog.String("topic", topic), slog.Any("seats", event.SeatIDs))
			return true
		}
		if i < maxRetries-1 {
			m.log.Warn("publish seat event failed, retrying", slog.Int("attempt", i+1), slog.String("error", err.Error()))
			time.Sleep(100 * time.Millisecond)
		}
	}
	m.log.Error("seat changed but event notification failed",
		slog.String("topic", topic), slog.Any("seats", event.SeatIDs), slog.String("error", err.Error()))
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
