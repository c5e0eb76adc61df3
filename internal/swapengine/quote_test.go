package swapengine

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/aman-zulfiqar/pair-sniper/internal/chain"
	"github.com/aman-zulfiqar/pair-sniper/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteForward(t *testing.T) {
	ex := newFakeExchange()
	qs := NewQuoteService(ex, nil)

	q, err := qs.QuoteForward(context.Background(), big.NewInt(100), []common.Address{wbnb, token})
	require.NoError(t, err)
	assert.Equal(t, QuoteForward, q.Direction)
	assert.Equal(t, big.NewInt(100), q.AmountIn)
	assert.Equal(t, big.NewInt(1000), q.AmountOut)
	assert.False(t, q.QuotedAt.IsZero())
}

func TestQuoteReverse(t *testing.T) {
	ex := newFakeExchange()
	ex.inQuote = big.NewInt(1053)
	qs := NewQuoteService(ex, nil)

	q, err := qs.QuoteReverse(context.Background(), big.NewInt(1000), []common.Address{wbnb, token})
	require.NoError(t, err)
	assert.Equal(t, QuoteReverse, q.Direction)
	assert.Equal(t, big.NewInt(1053), q.AmountIn)
	assert.Equal(t, big.NewInt(1000), q.AmountOut)
}

func TestQuote_ErrorClassification(t *testing.T) {
	m := metrics.New("quote_test")
	path := []common.Address{wbnb, token}

	ex := newFakeExchange()
	ex.quoteErrs = []error{
		fmt.Errorf("%w: execution reverted: PancakeLibrary: INSUFFICIENT_LIQUIDITY", chain.ErrReverted),
		fmt.Errorf("max retries exceeded: %w", errNode),
	}
	qs := NewQuoteService(ex, m)

	_, err := qs.QuoteForward(context.Background(), big.NewInt(1), path)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	assert.NotErrorIs(t, err, ErrQueryFailed)

	_, err = qs.QuoteForward(context.Background(), big.NewInt(1), path)
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.ErrorIs(t, err, errNode)

	// each failure is one call: no retry at this layer
	assert.Equal(t, 2, ex.quoteCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuoteErrors.WithLabelValues("forward", "revert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuoteErrors.WithLabelValues("forward", "transport")))
}

func TestQuote_ZeroOutputIsInsufficientLiquidity(t *testing.T) {
	ex := newFakeExchange()
	ex.buyQuote = big.NewInt(0)
	qs := NewQuoteService(ex, nil)

	_, err := qs.QuoteForward(context.Background(), big.NewInt(100), []common.Address{wbnb, token})
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestQuote_RejectsBadArguments(t *testing.T) {
	ex := newFakeExchange()
	qs := NewQuoteService(ex, nil)

	_, err := qs.QuoteForward(context.Background(), big.NewInt(1), []common.Address{wbnb})
	assert.Error(t, err)
	_, err = qs.QuoteReverse(context.Background(), big.NewInt(0), []common.Address{wbnb, token})
	assert.Error(t, err)
	assert.Equal(t, 0, ex.quoteCalls)
}
