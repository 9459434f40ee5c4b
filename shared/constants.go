package shared

import (
	"strconv"
	"time"
)

// Redis key patterns
const (
	RedisKeyShowtimes     = "showtimes"
	RedisKeyShowtimeSeats = "showtime:%s:seats"        // formatted with showtime ID
	RedisKeySeatLock      = "showtime:%s:seat:%s:lock" // formatted with showtime ID and seat ID
	RedisKeyChatHistory   = "chat:history:%s"          // formatted with customer ID
	RedisKeyChatCustomers = "chat:customers"
	RedisKeyChatRecent    = "chat:customers:recent"
	RedisKeyIdentity      = "identity:%s" // formatted with device/installation key
)

// NATS topics
const (
	NATSTopicSeatHeld     = "seats.held"
	NATSTopicSeatReleased = "seats.released"
	NATSTopicSeatBooked   = "seats.booked"
	NATSTopicAllSeats     = "seats.>"
)

// Timeouts and durations
const (
	HoldDuration          = 30 * time.Second
	TimerCheckInterval    = 2 * time.Second
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongWait     = 60 * time.Second
	WebSocketPingPeriod   = (WebSocketPongWait * 9) / 10
	ReconnectMinBackoff   = 500 * time.Millisecond
	ReconnectMaxBackoff   = 30 * time.Second
)

// Venue configuration
const (
	VenueRows  = 10
	VenueCols  = 10
	TotalSeats = VenueRows * VenueCols
)

// Server configuration
const (
	BookingServicePort = ":8080"
	DefaultEdgePort    = ":3000"
)

// API endpoints
const (
	APIEndpointSeats       = "/api/showtimes/:id/seats"
	APIEndpointHeldSeats   = "/api/showtimes/:id/held"
	APIEndpointHoldSeats   = "/api/showtimes/:id/hold"
	APIEndpointReleaseSeat = "/api/showtimes/:id/release"
	APIEndpointBookSeats   = "/api/showtimes/:id/book"
	APIEndpointHealth      = "/health"
	WebSocketEndpoint      = "/ws"
)

// GetSeatID generates a seat ID from a zero-based row and column, e.g. A1, J10.
func GetSeatID(row, col int) string {
	rowLetter := string(rune('A' + row))
	return rowLetter + strconv.Itoa(col+1)
}

// SeatTypeForRow classifies a row of the default layout. The back row is
// couple seating and the three rows in front of it are VIP.
func SeatTypeForRow(row int) SeatType {
	switch {
	case row == VenueRows-1:
		return SeatTypeCouple
	case row >= VenueRows-4:
		return SeatTypeVIP
	default:
		return SeatTypeStandard
	}
}
