package swapengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/chain"
	"github.com/aman-zulfiqar/pair-sniper/internal/config"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitions struct {
	mu     sync.Mutex
	events []models.PhaseEvent
}

func watch(l *TradingLoop) *transitions {
	tr := &transitions{}
	l.Observe(func(ev models.PhaseEvent, _ CycleState) {
		tr.mu.Lock()
		tr.events = append(tr.events, ev)
		tr.mu.Unlock()
	})
	return tr
}

func (tr *transitions) path() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, 0, len(tr.events))
	for _, ev := range tr.events {
		out = append(out, ev.From+">"+ev.To)
	}
	return out
}

func TestTradingLoop_SingleCycle(t *testing.T) {
	ex := newFakeExchange()
	h := newHarness(t, ex, testTrading(), nil, 0)
	tr := watch(h.loop)

	final, err := h.loop.Run(h.ctx)
	require.NoError(t, err)

	assert.Equal(t, Terminated, final.Phase)
	assert.Equal(t, "single cycle complete", final.Reason)
	assert.Equal(t, []string{
		"awaiting_liquidity>committed",
		"committed>cooldown",
		"cooldown>terminated",
	}, tr.path())

	swaps := ex.swaps()
	require.Len(t, swaps, 2)

	// buy: quote 1000 with 1/20 tolerance
	assert.Equal(t, chain.ExactETHForTokens, swaps[0].Kind)
	assert.Equal(t, big.NewInt(100), swaps[0].AmountIn)
	assert.Equal(t, big.NewInt(950), swaps[0].AmountOutMin)
	assert.Equal(t, []common.Address{wbnb, token}, swaps[0].Path)

	// sell: the realized buy amount, valued by the reverse quote at 880
	// and bounded to 836
	assert.Equal(t, chain.ExactTokensForETH, swaps[1].Kind)
	assert.Equal(t, big.NewInt(990), swaps[1].AmountIn)
	assert.Equal(t, big.NewInt(836), swaps[1].AmountOutMin)
	assert.Equal(t, []common.Address{token, wbnb}, swaps[1].Path)
	require.Len(t, ex.reverseFor, 1)
	assert.Equal(t, big.NewInt(990), ex.reverseFor[0])
	assert.Equal(t, []common.Address{wbnb, token}, ex.reversePth[0])

	require.NotNil(t, final.LastBuy)
	require.NotNil(t, final.LastSell)
	assert.Equal(t, big.NewInt(990), final.LastBuy.AmountOut)
	assert.Equal(t, big.NewInt(870), final.LastSell.AmountOut)
	assert.Equal(t, 0, final.Position.Sign())

	// buy delay then the holding interval
	assert.Equal(t, []time.Duration{3 * time.Second, time.Minute}, h.clock.sleeps())
	assert.Len(t, h.sink.trades, 2)
}

func TestTradingLoop_BelowThresholdNeverBuys(t *testing.T) {
	ex := newFakeExchange()
	ex.reserves = []*big.Int{big.NewInt(40)}
	h := newHarness(t, ex, testTrading(), nil, 5)

	final, err := h.loop.Run(h.ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Terminated, final.Phase)

	assert.Empty(t, ex.swaps())
	assert.Equal(t, big.NewInt(40), final.LastReserve)
	require.NotNil(t, final.Pair)
	assert.Equal(t, pairAddr, *final.Pair)

	// a pair exists, so polling stays at the base interval
	for _, d := range h.clock.sleeps() {
		assert.Equal(t, 500*time.Millisecond, d)
	}
}

func TestTradingLoop_BuysOnceLiquidityCrossesThreshold(t *testing.T) {
	ex := newFakeExchange()
	ex.reserves = []*big.Int{big.NewInt(40), big.NewInt(50), big.NewInt(51)}
	h := newHarness(t, ex, testTrading(), nil, 0)

	_, err := h.loop.Run(h.ctx)
	require.NoError(t, err)

	swaps := ex.swaps()
	require.Len(t, swaps, 2)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		500 * time.Millisecond,
		3 * time.Second,
		time.Minute,
	}, h.clock.sleeps())
}

func TestTradingLoop_BacksOffWhilePairMissing(t *testing.T) {
	ex := newFakeExchange()
	ex.pair = common.Address{}
	h := newHarness(t, ex, testTrading(), nil, 7)

	_, err := h.loop.Run(h.ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}, h.clock.sleeps())
}

func TestTradingLoop_QueryFailuresAreRetried(t *testing.T) {
	ex := newFakeExchange()
	ex.pairErr = errNode
	h := newHarness(t, ex, testTrading(), nil, 3)

	final, err := h.loop.Run(h.ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Terminated, final.Phase)
	assert.Empty(t, ex.swaps())
	assert.Len(t, h.clock.sleeps(), 3)
}

func TestTradingLoop_BuyFailureTerminates(t *testing.T) {
	ex := newFakeExchange()
	ex.submitErr = errors.New("insufficient funds for gas * price + value")
	h := newHarness(t, ex, testTrading(), nil, 0)
	tr := watch(h.loop)

	final, err := h.loop.Run(h.ctx)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Equal(t, Terminated, final.Phase)
	assert.Equal(t, "buy failed", final.Reason)

	// one buy attempt, no sell
	assert.Len(t, ex.swaps(), 1)
	assert.Nil(t, final.LastBuy)
	assert.Equal(t, []string{"awaiting_liquidity>committed", "committed>terminated"}, tr.path())
}

func TestTradingLoop_SellFailureTerminatesHoldingPosition(t *testing.T) {
	ex := newFakeExchange()
	ex.sellErr = errors.New("nonce too low")
	h := newHarness(t, ex, testTrading(), nil, 0)

	final, err := h.loop.Run(h.ctx)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Equal(t, "sell failed", final.Reason)
	assert.Len(t, ex.swaps(), 2)
	assert.Equal(t, big.NewInt(990), final.Position)
}

func TestTradingLoop_ContinuousStartsNextCycle(t *testing.T) {
	ex := newFakeExchange()
	ex.native = big.NewInt(120)
	cfg := testTrading()
	cfg.Mode = config.ModeContinuous

	h := newHarness(t, ex, cfg, nil, 0)
	tr := watch(h.loop)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	h.loop.Observe(func(ev models.PhaseEvent, st CycleState) {
		if ev.From == "cooldown" && ev.To == "awaiting_liquidity" {
			cancel()
		}
	})

	final, err := h.loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{
		"awaiting_liquidity>committed",
		"committed>cooldown",
		"cooldown>awaiting_liquidity",
		"awaiting_liquidity>terminated",
	}, tr.path())
	assert.Equal(t, 2, final.Cycle)
	// the sell proceeds fund the next buy
	assert.Equal(t, big.NewInt(870), final.Budget)
	assert.Equal(t, 0, final.Position.Sign())
}

func TestTradingLoop_ContinuousStopsAtWalletFloor(t *testing.T) {
	ex := newFakeExchange()
	ex.native = big.NewInt(50)
	cfg := testTrading()
	cfg.Mode = config.ModeContinuous
	h := newHarness(t, ex, cfg, nil, 0)

	final, err := h.loop.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, Terminated, final.Phase)
	assert.Equal(t, "wallet balance at or below floor", final.Reason)
	assert.Equal(t, 1, final.Cycle)
}

func TestTradingLoop_ContinuousReadsTokenBalance(t *testing.T) {
	ex := newFakeExchange()
	ex.native = big.NewInt(10)
	cfg := testTrading()
	cfg.Mode = config.ModeContinuous
	cfg.QuoteIsNative = false
	h := newHarness(t, ex, cfg, nil, 0)

	final, err := h.loop.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, "wallet balance at or below floor", final.Reason)

	// token quote means token for token swaps with approvals for both legs
	swaps := ex.swaps()
	require.Len(t, swaps, 2)
	assert.Equal(t, chain.ExactTokensForTokens, swaps[0].Kind)
	assert.Equal(t, chain.ExactTokensForTokens, swaps[1].Kind)
	assert.Equal(t, []common.Address{wbnb, token}, ex.approvals)
}

func TestTradingLoop_GuardRejectsReentry(t *testing.T) {
	ex := newFakeExchange()
	h := newHarness(t, ex, testTrading(), nil, 0)

	var (
		guardErr error
		phase    Phase
		calls    int
	)
	ex.onSubmit = func(tx chain.SwapTx) {
		if tx.Path[0] != wbnb {
			return
		}
		calls++
		guardErr = h.loop.tryCommit()
		phase = h.loop.Snapshot().Phase
	}

	_, err := h.loop.Run(h.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, guardErr, ErrGuardViolation)
	assert.EqualError(t, guardErr, "already bought")
	assert.Equal(t, Committed, phase)
	assert.Len(t, ex.swaps(), 2)
}

func TestTradingLoop_GuardRejectionLeavesStateAlone(t *testing.T) {
	ex := newFakeExchange()
	h := newHarness(t, ex, testTrading(), nil, 3)
	tr := watch(h.loop)

	// a stale guard from an episode that never released it
	h.loop.committed.Store(true)
	before := h.loop.Snapshot()

	final, err := h.loop.Run(h.ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// only the cancellation moves the loop; the rejected signals never do
	assert.Equal(t, []string{"awaiting_liquidity>terminated"}, tr.path())
	assert.Equal(t, before.Cycle, final.Cycle)
	assert.Equal(t, before.Budget, final.Budget)
	assert.Nil(t, final.LastBuy)
	assert.Empty(t, ex.swaps())
	for _, d := range h.clock.sleeps() {
		assert.Equal(t, 500*time.Millisecond, d)
	}
}

func TestTradingLoop_PauseHoldsOffBuying(t *testing.T) {
	ex := newFakeExchange()
	p := &flagPauser{paused: []bool{true, true, false}}
	h := newHarness(t, ex, testTrading(), p, 0)

	_, err := h.loop.Run(h.ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		500 * time.Millisecond,
		3 * time.Second,
		time.Minute,
	}, h.clock.sleeps())
	assert.Len(t, ex.swaps(), 2)
}

func TestTradingLoop_BuyQuoteFailureReturnsToAwaiting(t *testing.T) {
	ex := newFakeExchange()
	ex.quoteErrs = []error{fmt.Errorf("%w: INSUFFICIENT_LIQUIDITY", chain.ErrReverted)}
	h := newHarness(t, ex, testTrading(), nil, 0)
	tr := watch(h.loop)

	final, err := h.loop.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, "single cycle complete", final.Reason)
	assert.Equal(t, []string{
		"awaiting_liquidity>committed",
		"committed>awaiting_liquidity",
		"awaiting_liquidity>committed",
		"committed>cooldown",
		"cooldown>terminated",
	}, tr.path())
	assert.Len(t, ex.swaps(), 2)
}

func TestTradingLoop_SellQuoteRetriesTransientErrors(t *testing.T) {
	ex := newFakeExchange()
	ex.quoteErrs = []error{nil, errNode, errNode}
	h := newHarness(t, ex, testTrading(), nil, 0)

	final, err := h.loop.Run(h.ctx)
	require.NoError(t, err)
	assert.NotNil(t, final.LastSell)
	assert.Equal(t, []time.Duration{
		3 * time.Second,
		time.Minute,
		500 * time.Millisecond,
		time.Second,
	}, h.clock.sleeps())
}

func TestTradingLoop_SellQuoteRevertTerminates(t *testing.T) {
	ex := newFakeExchange()
	ex.quoteErrs = []error{nil, fmt.Errorf("%w: K", chain.ErrReverted)}
	h := newHarness(t, ex, testTrading(), nil, 0)

	final, err := h.loop.Run(h.ctx)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	assert.Equal(t, "sell failed", final.Reason)
	assert.Len(t, ex.swaps(), 1)
}

func TestTradingLoop_SnapshotIsACopy(t *testing.T) {
	ex := newFakeExchange()
	h := newHarness(t, ex, testTrading(), nil, 0)

	s := h.loop.Snapshot()
	assert.Equal(t, AwaitingLiquidity, s.Phase)
	assert.Equal(t, 1, s.Cycle)
	s.Budget.SetInt64(1)
	assert.Equal(t, big.NewInt(100), h.loop.Snapshot().Budget)
}

func TestTradingLoop_ConcurrentSnapshots(t *testing.T) {
	ex := newFakeExchange()
	h := newHarness(t, ex, testTrading(), nil, 0)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = h.loop.Snapshot()
				}
			}
		}()
	}

	_, err := h.loop.Run(h.ctx)
	close(stop)
	wg.Wait()
	require.NoError(t, err)
}

func TestNewTradingLoop_Validation(t *testing.T) {
	ex := newFakeExchange()
	_, err := NewTradingLoop(LoopConfig{Trading: testTrading()})
	assert.Error(t, err)

	cfg := testTrading()
	cfg.Recipient = common.Address{}
	_, err = NewTradingLoop(LoopConfig{
		Trading:  cfg,
		Monitor:  NewLiquidityMonitor(ex),
		Quotes:   NewQuoteService(ex, nil),
		Executor: NewSwapExecutor(ExecutorConfig{Submitter: ex, Trading: cfg}),
		Accounts: ex,
	})
	assert.Error(t, err)
}
