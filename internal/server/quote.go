package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/config"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/aman-zulfiqar/pair-sniper/internal/swapengine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
)

// Quoter prices a path in either direction.
type Quoter interface {
	QuoteForward(ctx context.Context, amountIn *big.Int, path []common.Address) (swapengine.Quote, error)
	QuoteReverse(ctx context.Context, amountOut *big.Int, path []common.Address) (swapengine.Quote, error)
}

// QuoteSource pairs a Quoter with the trading configuration that names the
// tokens and the slippage tolerance.
type QuoteSource struct {
	Quoter  Quoter
	Trading config.TradingConfig
}

// Quote prices one leg of the configured pair without trading.
//
//	side   buy (quote -> base) or sell (base -> quote), default buy
//	amount integer in the smallest unit of the fixed side
//	mode   ExactIn prices the output and bounds it from below,
//	       ExactOut prices the input and bounds it from above
func (h *Handlers) Quote(c echo.Context) error {
	if h.Quotes == nil {
		return h.err(c, http.StatusServiceUnavailable, "quotes are not configured", nil)
	}
	src := h.Quotes

	side := models.Side(strings.ToLower(strings.TrimSpace(c.QueryParam("side"))))
	if side == "" {
		side = models.SideBuy
	}
	var path []common.Address
	switch side {
	case models.SideBuy:
		path = src.Trading.BuyPath()
	case models.SideSell:
		path = src.Trading.SellPath()
	default:
		return h.err(c, http.StatusBadRequest, "invalid side", map[string]any{"side": "must be buy or sell"})
	}

	amountStr := strings.TrimSpace(c.QueryParam("amount"))
	if amountStr == "" {
		return h.err(c, http.StatusBadRequest, "invalid amount", map[string]any{"amount": "required"})
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok || amount.Sign() <= 0 {
		return h.err(c, http.StatusBadRequest, "invalid amount", map[string]any{"amount": "must be a positive integer"})
	}

	mode := strings.TrimSpace(c.QueryParam("mode"))
	if mode == "" {
		mode = "ExactIn"
	}
	if mode != "ExactIn" && mode != "ExactOut" {
		return h.err(c, http.StatusBadRequest, "invalid mode", map[string]any{"mode": "must be ExactIn or ExactOut"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var (
		q         swapengine.Quote
		err       error
		bound     *big.Int
		boundKind string
	)
	if mode == "ExactIn" {
		q, err = src.Quoter.QuoteForward(ctx, amount, path)
		if err == nil {
			bound = swapengine.Bound(q.AmountOut, src.Trading.SlippageDenominator, swapengine.MinOut)
			boundKind = "min_out"
		}
	} else {
		q, err = src.Quoter.QuoteReverse(ctx, amount, path)
		if err == nil {
			bound = swapengine.Bound(q.AmountIn, src.Trading.SlippageDenominator, swapengine.MaxIn)
			boundKind = "max_in"
		}
	}
	switch {
	case errors.Is(err, swapengine.ErrInsufficientLiquidity):
		return h.err(c, http.StatusUnprocessableEntity, "insufficient liquidity", map[string]any{"err": err.Error()})
	case err != nil:
		return h.err(c, http.StatusBadGateway, "quote failed", map[string]any{"err": err.Error()})
	}

	hops := make([]string, len(path))
	for i, a := range path {
		hops[i] = a.Hex()
	}
	return c.JSON(http.StatusOK, QuoteResponse{
		Side:      side,
		Mode:      mode,
		Path:      hops,
		AmountIn:  q.AmountIn.String(),
		AmountOut: q.AmountOut.String(),
		Bound:     bound.String(),
		BoundKind: boundKind,
		QuotedAt:  q.QuotedAt,
	})
}
