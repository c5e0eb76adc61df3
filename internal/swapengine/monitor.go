package swapengine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LiquidityMonitor observes the pair for a token pair. Observations are
// stateless: every call reads the factory and the pair's quote balance.
type LiquidityMonitor struct {
	reader PairReader
	now    func() time.Time
}

func NewLiquidityMonitor(reader PairReader) *LiquidityMonitor {
	return &LiquidityMonitor{reader: reader, now: time.Now}
}

// Observe returns the pair address and its quote reserve. A missing pair is
// not an error; it yields a PoolState without an address.
func (m *LiquidityMonitor) Observe(ctx context.Context, quote, base common.Address) (PoolState, error) {
	pair, err := m.reader.GetPair(ctx, quote, base)
	if err != nil {
		return PoolState{}, fmt.Errorf("%w: getPair: %w", ErrQueryFailed, err)
	}

	state := PoolState{ObservedAt: m.now()}
	if pair == (common.Address{}) {
		return state, nil
	}

	reserve, err := m.reader.BalanceOf(ctx, quote, pair)
	if err != nil {
		return PoolState{}, fmt.Errorf("%w: balanceOf pair %s: %w", ErrQueryFailed, pair.Hex(), err)
	}

	state.PairAddress = &pair
	state.ReserveOfQuoteToken = reserve
	return state, nil
}
