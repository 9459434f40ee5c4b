package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cinema-realtime/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingClientHeldSeats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/showtimes/101/held", r.URL.Path)
		json.NewEncoder(w).Encode([]shared.HeldSeat{{SeatID: "A1", HeldBy: "alice"}})
	}))
	defer srv.Close()

	held, err := NewBookingClient(srv.URL).HeldSeats(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, []shared.HeldSeat{{SeatID: "A1", HeldBy: "alice"}}, held)
}

func TestBookingClientPostsSeatRequest(t *testing.T) {
	var got shared.SeatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/showtimes/101/hold", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(shared.SeatResponse{ShowtimeID: "101", SeatIDs: got.SeatIDs})
	}))
	defer srv.Close()

	err := NewBookingClient(srv.URL).HoldSeats(context.Background(), "101", "alice", []string{"A1", "A2"})
	require.NoError(t, err)
	assert.Equal(t, shared.SeatRequest{SeatIDs: []string{"A1", "A2"}, UserID: "alice"}, got)
}

func TestBookingClientSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(shared.ErrorResponse{Error: "seat A1 is already held"})
	}))
	defer srv.Close()

	err := NewBookingClient(srv.URL).BookSeats(context.Background(), "101", "bob", []string{"A1"})
	assert.EqualError(t, err, "seat A1 is already held")
}

func TestBookingClientPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewBookingClient(srv.URL).ReleaseSeats(context.Background(), "101", "bob", []string{"A1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestBookingClientHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != shared.APIEndpointHealth {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	client := NewBookingClient(srv.URL)
	require.NoError(t, client.HealthCheck(context.Background()))

	srv.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}
