package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/constants"
	"github.com/aman-zulfiqar/pair-sniper/internal/flags"
	"github.com/aman-zulfiqar/pair-sniper/internal/storage"
	"github.com/aman-zulfiqar/pair-sniper/internal/swapengine"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// StateReader exposes the trading loop snapshot.
type StateReader interface {
	Snapshot() swapengine.CycleState
}

// PauseControl is the operator pause over new buys.
type PauseControl interface {
	Status(ctx context.Context) (*flags.Pause, error)
	Pause(ctx context.Context, req flags.PauseRequest) (*flags.Pause, error)
	Resume(ctx context.Context, by string) (*flags.Pause, error)
	History(ctx context.Context, limit int64) ([]*flags.Pause, error)
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Loop    StateReader
	Quotes  *QuoteSource       // optional; /v1/quote answers 503 without it
	Cache   storage.TradeCache // optional Redis-backed recent trades
	Pause   PauseControl       // optional Redis-backed pause
	Hub     *Hub               // optional websocket fan-out
	DevMode bool               // Enable detailed error responses in development
	Logger  *logrus.Logger
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

// withTimeout creates a context with timeout, defaulting to 10 seconds if duration <= 0
func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{OK: true})
}

// State returns the current trading loop snapshot.
func (h *Handlers) State(c echo.Context) error {
	if h.Loop == nil {
		return h.err(c, http.StatusServiceUnavailable, "trading loop is not running", nil)
	}
	st := h.Loop.Snapshot()
	resp := StateResponse{CycleState: st}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	if h.Pause != nil {
		ctx, cancel := h.withTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		p, err := h.Pause.Status(ctx)
		if err != nil {
			// the loop fails open on this too
			h.Logger.WithError(err).Warn("failed to read pause")
		} else {
			resp.Pause = p
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// RecentTrades returns the most recent trades with optional limit parameter
// Accepts limit query parameter (default: 50, range: 1-200)
func (h *Handlers) RecentTrades(c echo.Context) error {
	if h.Cache == nil {
		return h.err(c, http.StatusServiceUnavailable, "trade cache is not configured", nil)
	}

	limit := 50
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "must be an integer"})
		}
		limit = n
	}
	if limit < 1 || limit > 200 {
		return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "min 1 max 200"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Cache.GetRecentTrades(ctx, int64(limit))
	if err != nil {
		h.Logger.WithError(err).Warn("failed to read recent trades")
		return h.err(c, http.StatusInternalServerError, "failed to get trades", nil)
	}
	return c.JSON(http.StatusOK, TradesResponse{Items: items})
}

// PauseGet returns the operator pause record.
func (h *Handlers) PauseGet(c echo.Context) error {
	if h.Pause == nil {
		return h.err(c, http.StatusServiceUnavailable, "pause control is not configured", nil)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Pause.Status(ctx)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to read pause", nil)
	}
	return c.JSON(http.StatusOK, out)
}

// PauseSet holds new buys, optionally for a duration such as "15m".
func (h *Handlers) PauseSet(c echo.Context) error {
	if h.Pause == nil {
		return h.err(c, http.StatusServiceUnavailable, "pause control is not configured", nil)
	}
	var req PauseRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	var d time.Duration
	if req.Duration != "" {
		v, err := time.ParseDuration(req.Duration)
		if err != nil {
			return h.err(c, http.StatusBadRequest, "invalid duration", map[string]any{"duration": "e.g. 90s, 15m, 2h"})
		}
		d = v
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Pause.Pause(ctx, flags.PauseRequest{Reason: req.Reason, By: req.By, For: d})
	if err != nil {
		if errors.Is(err, flags.ErrInvalidPause) {
			return h.err(c, http.StatusBadRequest, "invalid pause", err.Error())
		}
		return h.err(c, http.StatusInternalServerError, "failed to pause", nil)
	}
	h.Logger.WithFields(logrus.Fields{
		"by":     out.By,
		"reason": out.Reason,
		"until":  out.Until,
	}).Warn("trading paused")
	return c.JSON(http.StatusOK, out)
}

// PauseClear resumes trading. The optional by query parameter names who did.
func (h *Handlers) PauseClear(c echo.Context) error {
	if h.Pause == nil {
		return h.err(c, http.StatusServiceUnavailable, "pause control is not configured", nil)
	}
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Pause.Resume(ctx, c.QueryParam("by"))
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to resume", nil)
	}
	h.Logger.WithField("by", out.By).Info("trading resumed")
	return c.JSON(http.StatusOK, out)
}

// PauseHistory lists pause changes, newest first (limit 1-100, default 20).
func (h *Handlers) PauseHistory(c echo.Context) error {
	if h.Pause == nil {
		return h.err(c, http.StatusServiceUnavailable, "pause control is not configured", nil)
	}
	limit := 20
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 || n > constants.MaxPauseHistory {
			return h.err(c, http.StatusBadRequest, "invalid limit", map[string]any{"limit": "min 1 max 100"})
		}
		limit = n
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	items, err := h.Pause.History(ctx, int64(limit))
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to read pause history", nil)
	}
	return c.JSON(http.StatusOK, PauseHistoryResponse{Items: items})
}

// Stream upgrades to a websocket that first receives the current state and
// then every transition and trade.
func (h *Handlers) Stream(c echo.Context) error {
	if h.Hub == nil {
		return h.err(c, http.StatusServiceUnavailable, "stream is not configured", nil)
	}
	var hello *StreamMessage
	if h.Loop != nil {
		st := h.Loop.Snapshot()
		hello = &StreamMessage{Type: "state", State: &st}
	}
	return h.Hub.Serve(c.Response(), c.Request(), hello)
}
