package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cinema-realtime/shared"

	"github.com/go-redis/redis/v8"
)

// StartTimerService sweeps expired holds every interval until ctx is done.
// Lock keys expire on their own; the sweep brings the seat records in line
// and tells the edge servers.
func (m *SeatManager) StartTimerService(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = shared.TimerCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.log.Info("timer service started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.log.Info("timer service stopped")
			return
		case <-ticker.C:
			m.checkExpiredHolds(ctx)
		}
	}
}

// checkExpiredHolds releases every hold past its expiry and returns how
// many seats were released.
func (m *SeatManager) checkExpiredHolds(ctx context.Context) int {
	showtimes, err := m.rdb.SMembers(ctx, shared.RedisKeyShowtimes).Result()
	if err != nil {
		m.log.Error("list showtimes for timer check", slog.String("error", err.Error()))
		return 0
	}

	now := m.now().UnixMilli()
	expiredCount := 0
	for _, showtimeID := range showtimes {
		seatsKey := fmt.Sprintf(shared.RedisKeyShowtimeSeats, showtimeID)
		seatMap, err := m.rdb.HGetAll(ctx, seatsKey).Result()
		if err != nil {
			m.log.Error("fetch seats for timer check", slog.String("showtime", showtimeID), slog.String("error", err.Error()))
			continue
		}

		for seatID, seatJSON := range seatMap {
			var seat shared.Seat
			if err := json.Unmarshal([]byte(seatJSON), &seat); err != nil {
				m.log.Error("corrupt seat record", slog.String("seat", seatID), slog.String("error", err.Error()))
				continue
			}
			if seat.Status != shared.SeatHeld || seat.ExpiresAt == 0 || seat.ExpiresAt > now {
				continue
			}
			released, err := m.autoReleaseSeat(ctx, showtimeID, seat)
			if err != nil {
				m.log.Error("auto-release seat", slog.String("showtime", showtimeID), slog.String("seat", seatID), slog.String("error", err.Error()))
				continue
			}
			if released {
				expiredCount++
			}
		}
	}

	if expiredCount > 0 {
		m.log.Info("released expired holds", slog.Int("count", expiredCount))
	}
	return expiredCount
}

// autoReleaseSeat frees a seat whose record still carries the expired hold
// the sweep read. The check and the write run in one WATCH transaction on
// the seat record and its lock; it reports whether the seat was released.
func (m *SeatManager) autoReleaseSeat(ctx context.Context, showtimeID string, expired shared.Seat) (bool, error) {
	seatsKey := fmt.Sprintf(shared.RedisKeyShowtimeSeats, showtimeID)
	lockKey := fmt.Sprintf(shared.RedisKeySeatLock, showtimeID, expired.ID)

	released := false
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		seatJSON, err := tx.HGet(ctx, seatsKey, expired.ID).Result()
		if err != nil {
			return err
		}
		var seat shared.Seat
		if err := json.Unmarshal([]byte(seatJSON), &seat); err != nil {
			return err
		}
		// Renewed or taken over since the sweep read it.
		if seat.Status != shared.SeatHeld || seat.HeldBy != expired.HeldBy || seat.ExpiresAt != expired.ExpiresAt {
			return nil
		}
		holder, err := tx.Get(ctx, lockKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if holder != "" && holder != expired.HeldBy {
			return nil
		}

		seat.Status = shared.SeatAvailable
		seat.HeldBy = ""
		seat.ExpiresAt = 0
		updatedJSON, err := json.Marshal(seat)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if holder != "" {
				pipe.Del(ctx, lockKey)
			}
			pipe.HSet(ctx, seatsKey, seat.ID, updatedJSON)
			return nil
		})
		released = err == nil
		return err
	}, seatsKey, lockKey)
	if errors.Is(err, redis.TxFailedErr) {
		// Something wrote the showtime meanwhile; the next sweep looks again.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !released {
		return false, nil
	}

	if !m.publishSeatEvent(shared.SeatEvent{
		Type:       shared.SeatEventAutoReleased,
		ShowtimeID: showtimeID,
		SeatIDs:    []string{expired.ID},
		UserID:     expired.HeldBy,
	}) {
		m.log.Warn("seat was released but event notification failed", slog.String("seat", expired.ID))
	}
	m.log.Info("auto-released expired seat", slog.String("showtime", showtimeID), slog.String("seat", expired.ID), slog.String("held_by", expired.HeldBy))
	return true, nil
}
