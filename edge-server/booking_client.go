package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cinema-realtime/shared"
)

// SeatService is the seat arbiter the hub forwards intents to.
type SeatService interface {
	HeldSeats(ctx context.Context, showtimeID string) ([]shared.HeldSeat, error)
	HoldSeats(ctx context.Context, showtimeID, userID string, seatIDs []string) error
	ReleaseSeats(ctx context.Context, showtimeID, userID string, seatIDs []string) error
	BookSeats(ctx context.Context, showtimeID, userID string, seatIDs []string) error
}

// BookingClient handles communication with the booking service
type BookingClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBookingClient creates a new booking service client
func NewBookingClient(baseURL string) *BookingClient {
	return &BookingClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetSeats fetches the seat layout of a showtime
func (bc *BookingClient) GetSeats(ctx context.Context, showtimeID string) ([]shared.Seat, error) {
	var seats []shared.Seat
	if err := bc.get(ctx, bc.showtimePath(showtimeID, "seats"), &seats); err != nil {
		return nil, err
	}
	return seats, nil
}

// HeldSeats fetches the current holds of a showtime
func (bc *BookingClient) HeldSeats(ctx context.Context, showtimeID string) ([]shared.HeldSeat, error) {
	var held []shared.HeldSeat
	if err := bc.get(ctx, bc.showtimePath(showtimeID, "held"), &held); err != nil {
		return nil, err
	}
	return held, nil
}

// HoldSeats attempts to hold seats for a user
func (bc *BookingClient) HoldSeats(ctx context.Context, showtimeID, userID string, seatIDs []string) error {
	return bc.postRequest(ctx, bc.showtimePath(showtimeID, "hold"), shared.SeatRequest{SeatIDs: seatIDs, UserID: userID})
}

// ReleaseSeats releases seats held by a user
func (bc *BookingClient) ReleaseSeats(ctx context.Context, showtimeID, userID string, seatIDs []string) error {
	return bc.postRequest(ctx, bc.showtimePath(showtimeID, "release"), shared.SeatRequest{SeatIDs: seatIDs, UserID: userID})
}

// BookSeats books seats held by a user
func (bc *BookingClient) BookSeats(ctx context.Context, showtimeID, userID string, seatIDs []string) error {
	return bc.postRequest(ctx, bc.showtimePath(showtimeID, "book"), shared.SeatRequest{SeatIDs: seatIDs, UserID: userID})
}

// HealthCheck verifies the booking service is available
func (bc *BookingClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bc.baseURL+shared.APIEndpointHealth, nil)
	if err != nil {
		return err
	}
	resp, err := bc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

func (bc *BookingClient) showtimePath(showtimeID, action string) string {
	return "/api/showtimes/" + url.PathEscape(showtimeID) + "/" + action
}

func (bc *BookingClient) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bc.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := bc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postRequest makes a POST request to the booking service
func (bc *BookingClient) postRequest(ctx context.Context, endpoint string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bc.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := bc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

// decodeError turns an error response into an error whose text is safe to
// hand back to websocket clients.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var errResp shared.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return errors.New(errResp.Error)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
