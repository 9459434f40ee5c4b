package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"cinema-realtime/shared"

	"github.com/gin-gonic/gin"
)

type API struct {
	seats *SeatManager
	log   *slog.Logger
}

func setupRoutes(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(api.log))

	showtimes := router.Group("/api/showtimes/:id")
	{
		showtimes.PUT("", api.handleEnsureShowtime)
		showtimes.GET("/seats", api.handleGetSeats)
		showtimes.GET("/held", api.handleGetHeldSeats)
		showtimes.POST("/hold", api.handleHoldSeats)
		showtimes.POST("/release", api.handleReleaseSeats)
		showtimes.POST("/book", api.handleBookSeats)
	}

	router.GET(shared.APIEndpointHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()))
	}
}

func (a *API) handleEnsureShowtime(c *gin.Context) {
	if err := a.seats.EnsureShowtime(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"showtime_id": c.Param("id")})
}

func (a *API) handleGetSeats(c *gin.Context) {
	seats, err := a.seats.GetSeats(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, seats)
}

func (a *API) handleGetHeldSeats(c *gin.Context) {
	held, err := a.seats.HeldSeats(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, held)
}

func (a *API) handleHoldSeats(c *gin.Context) {
	var req shared.SeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, shared.ErrorResponse{Error: "seat_ids and user_id are required"})
		return
	}

	showtimeID := c.Param("id")
	expiresAt, err := a.seats.HoldSeats(c.Request.Context(), showtimeID, req.UserID, req.SeatIDs)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, shared.SeatResponse{ShowtimeID: showtimeID, SeatIDs: req.SeatIDs, ExpiresAt: expiresAt.UnixMilli()})
}

func (a *API) handleReleaseSeats(c *gin.Context) {
	a.settle(c, a.seats.ReleaseSeats)
}

func (a *API) handleBookSeats(c *gin.Context) {
	a.settle(c, a.seats.BookSeats)
}

func (a *API) settle(c *gin.Context, op func(ctx context.Context, showtimeID, userID string, seatIDs []string) error) {
	var req shared.SeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, shared.ErrorResponse{Error: "seat_ids and user_id are required"})
		return
	}

	showtimeID := c.Param("id")
	if err := op(c.Request.Context(), showtimeID, req.UserID, req.SeatIDs); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, shared.SeatResponse{ShowtimeID: showtimeID, SeatIDs: req.SeatIDs})
}

// fail maps seat manager errors to HTTP statuses. Unknown errors are logged
// and hidden from the caller.
func (a *API) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrShowtimeNotFound), errors.Is(err, ErrSeatNotFound):
		c.JSON(http.StatusNotFound, shared.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrSeatTaken), errors.Is(err, ErrSeatBooked), errors.Is(err, ErrNotHolder):
		c.JSON(http.StatusConflict, shared.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrNoSeats):
		c.JSON(http.StatusBadRequest, shared.ErrorResponse{Error: err.Error()})
	default:
		a.log.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, shared.ErrorResponse{Error: "internal error"})
	}
}
