package swapengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/config"
	"github.com/aman-zulfiqar/pair-sniper/internal/metrics"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LoopConfig wires a TradingLoop.
type LoopConfig struct {
	Trading   config.TradingConfig
	Monitor   *LiquidityMonitor
	Quotes    *QuoteService
	Executor  *SwapExecutor
	Accounts  AccountReader
	Pauser    Pauser // optional
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
	Observers []TransitionFunc

	// Sleep waits d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// TradingLoop drives one pair through
// AwaitingLiquidity -> Committed -> Cooldown -> (AwaitingLiquidity | Terminated).
// Run owns the state; Snapshot may be called from any goroutine.
type TradingLoop struct {
	cfg       config.TradingConfig
	monitor   *LiquidityMonitor
	quotes    *QuoteService
	executor  *SwapExecutor
	accounts  AccountReader
	pauser    Pauser
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	observers []TransitionFunc
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	// at most one buy per liquidity detection episode
	committed atomic.Bool
	running   atomic.Bool

	mu    sync.RWMutex
	state CycleState
}

func NewTradingLoop(cfg LoopConfig) (*TradingLoop, error) {
	if cfg.Monitor == nil || cfg.Quotes == nil || cfg.Executor == nil || cfg.Accounts == nil {
		return nil, fmt.Errorf("trading loop needs a monitor, quote service, executor and account reader")
	}
	if err := cfg.Trading.Validate(); err != nil {
		return nil, err
	}
	if cfg.Trading.Recipient == (common.Address{}) {
		return nil, fmt.Errorf("trading loop needs a recipient")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	l := &TradingLoop{
		cfg:       cfg.Trading,
		monitor:   cfg.Monitor,
		quotes:    cfg.Quotes,
		executor:  cfg.Executor,
		accounts:  cfg.Accounts,
		pauser:    cfg.Pauser,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		observers: cfg.Observers,
		sleep:     cfg.Sleep,
		now:       time.Now,
	}
	l.state = CycleState{
		Phase:     AwaitingLiquidity,
		Cycle:     1,
		Budget:    cloneInt(cfg.Trading.TradeAmount),
		Position:  new(big.Int),
		UpdatedAt: l.now(),
	}
	return l, nil
}

// Observe registers another transition observer. Call before Run.
func (l *TradingLoop) Observe(fn TransitionFunc) {
	l.observers = append(l.observers, fn)
}

// Snapshot returns a copy of the current state.
func (l *TradingLoop) Snapshot() CycleState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.clone()
}

// Run drives the loop until it terminates and returns the final state with
// the terminating error, nil for a clean finish.
func (l *TradingLoop) Run(ctx context.Context) (CycleState, error) {
	if !l.running.CompareAndSwap(false, true) {
		return l.Snapshot(), fmt.Errorf("trading loop already running")
	}
	defer l.running.Store(false)

	l.logger.WithFields(logrus.Fields{
		"quote":     l.cfg.QuoteToken.Hex(),
		"base":      l.cfg.BaseToken.Hex(),
		"amount":    l.cfg.TradeAmount.String(),
		"threshold": bigString(l.cfg.MinLiquidity),
		"mode":      l.cfg.Mode,
	}).Info("trading loop started")

	for {
		st := l.Snapshot()
		switch st.Phase {
		case AwaitingLiquidity:
			l.awaitStep(ctx)
		case Committed:
			l.buyStep(ctx, st)
		case Cooldown:
			l.sellStep(ctx, st)
		case Terminated:
			return st, st.Err
		default:
			l.terminate(fmt.Errorf("unknown phase %d", st.Phase), "invalid state")
		}
	}
}

func (l *TradingLoop) awaitStep(ctx context.Context) {
	pool, err := l.awaitLiquidity(ctx)
	if err != nil {
		l.terminate(err, "stopped while awaiting liquidity")
		return
	}
	pair, _ := pool.Pair()

	if err := l.tryCommit(); err != nil {
		// rejected signals leave the state alone; wait before polling again
		l.logger.WithField("cycle", l.Snapshot().Cycle).Warn("liquidity signal after a committed buy ignored")
		_ = l.sleep(ctx, l.cfg.PollInterval)
		return
	}

	l.transition(Committed, "liquidity above threshold", func(s *CycleState) {
		s.Pair = &pair
		s.LastReserve = cloneInt(pool.ReserveOfQuoteToken)
	})
}

// tryCommit takes the buy guard. A second attempt in the same episode is
// rejected and changes nothing.
func (l *TradingLoop) tryCommit() error {
	if !l.committed.CompareAndSwap(false, true) {
		l.logger.Warn("already bought")
		return ErrGuardViolation
	}
	return nil
}

func (l *TradingLoop) buyStep(ctx context.Context, st CycleState) {
	if l.cfg.BuyDelay > 0 {
		l.logger.WithField("delay", l.cfg.BuyDelay).Info("liquidity detected, buying after delay")
		if err := l.sleep(ctx, l.cfg.BuyDelay); err != nil {
			l.terminate(err, "stopped before buying")
			return
		}
	}

	path := l.cfg.BuyPath()
	q, err := l.quotes.QuoteForward(ctx, st.Budget, path)
	if err != nil {
		if ctx.Err() != nil {
			l.terminate(ctx.Err(), "stopped before buying")
			return
		}
		// nothing was sent, so the episode ends without a buy
		l.logger.WithError(err).Warn("buy quote failed")
		l.committed.Store(false)
		if err := l.sleep(ctx, l.cfg.PollInterval); err != nil {
			l.terminate(err, "stopped before buying")
			return
		}
		l.transition(AwaitingLiquidity, "buy quote failed", nil)
		return
	}

	minOut := Bound(q.AmountOut, l.cfg.SlippageDenominator, MinOut)
	res, err := l.executor.ExecuteBuy(ctx, Order{
		Cycle:     st.Cycle,
		AmountIn:  st.Budget,
		Bound:     minOut,
		QuotedOut: q.AmountOut,
		Path:      path,
		Recipient: l.cfg.Recipient,
		Pair:      *st.Pair,
	})
	if err != nil {
		l.terminate(err, "buy failed")
		return
	}

	l.transition(Cooldown, "buy confirmed", func(s *CycleState) {
		s.Position = cloneInt(res.AmountOut)
		s.LastBuy = res
	})
}

func (l *TradingLoop) sellStep(ctx context.Context, st CycleState) {
	l.logger.WithFields(logrus.Fields{
		"interval": l.cfg.TradeInterval,
		"position": st.Position.String(),
	}).Info("holding position")

	if err := l.sleep(ctx, l.cfg.TradeInterval); err != nil {
		l.logger.WithField("position", st.Position.String()).Warn("stopped with an unsold position")
		l.terminate(err, "stopped during cooldown")
		return
	}

	res, err := l.sell(ctx, st)
	if err != nil {
		l.terminate(err, "sell failed")
		return
	}
	l.metrics.RecordCycle()

	if l.cfg.Mode != config.ModeContinuous {
		l.transition(Terminated, "single cycle complete", func(s *CycleState) {
			s.Position = new(big.Int)
			s.LastSell = res
		})
		return
	}

	balance, err := l.walletBalance(ctx)
	if err != nil {
		l.transition(Terminated, "stopped reading wallet balance", func(s *CycleState) {
			s.Position = new(big.Int)
			s.LastSell = res
			s.Err = err
		})
		return
	}

	if l.cfg.WalletMin != nil && balance.Cmp(l.cfg.WalletMin) <= 0 {
		l.logger.WithFields(logrus.Fields{
			"balance": balance.String(),
			"floor":   l.cfg.WalletMin.String(),
		}).Info("wallet balance at or below floor")
		l.transition(Terminated, "wallet balance at or below floor", func(s *CycleState) {
			s.Position = new(big.Int)
			s.LastSell = res
		})
		return
	}

	l.committed.Store(false)
	l.transition(AwaitingLiquidity, "wallet balance above floor", func(s *CycleState) {
		s.Cycle++
		s.Budget = cloneInt(res.AmountOut)
		s.Position = new(big.Int)
		s.LastSell = res
	})
}

// sell values the whole position with a reverse quote, the quote amount the
// pool asks for exactly that much base, and sells it bounded by that value.
// Query failures are retried; anything else ends the leg.
func (l *TradingLoop) sell(ctx context.Context, st CycleState) (*TradeResult, error) {
	var q Quote
	err := l.retryQuery(ctx, "sell quote", func() error {
		var err error
		q, err = l.quotes.QuoteReverse(ctx, st.Position, l.cfg.BuyPath())
		return err
	})
	if err != nil {
		return nil, err
	}

	path := l.cfg.SellPath()
	return l.executor.ExecuteSell(ctx, Order{
		Cycle:     st.Cycle,
		AmountIn:  st.Position,
		Bound:     Bound(q.AmountIn, l.cfg.SlippageDenominator, MinOut),
		QuotedOut: q.AmountIn,
		Path:      path,
		Recipient: l.cfg.Recipient,
		Pair:      *st.Pair,
	})
}

func (l *TradingLoop) walletBalance(ctx context.Context) (*big.Int, error) {
	var bal *big.Int
	err := l.retryQuery(ctx, "wallet balance", func() error {
		var err error
		if l.cfg.QuoteIsNative {
			bal, err = l.accounts.NativeBalance(ctx, l.cfg.Recipient)
		} else {
			bal, err = l.accounts.BalanceOf(ctx, l.cfg.QuoteToken, l.cfg.Recipient)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrQueryFailed, err)
		}
		return nil
	})
	return bal, err
}

// retryQuery repeats fn with bounded exponential backoff while it fails with
// ErrQueryFailed. Other errors and cancellation end it.
func (l *TradingLoop) retryQuery(ctx context.Context, what string, fn func() error) error {
	delay := l.cfg.PollInterval
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrQueryFailed) {
			return err
		}

		l.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   delay,
		}).Warn(what + " failed")
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
		delay = nextDelay(delay, l.cfg.MaxPollInterval)
	}
}

// awaitLiquidity polls until the pool is ready and trading is not paused.
// The delay backs off while the pair is missing or reads fail and resets
// once a pair exists.
func (l *TradingLoop) awaitLiquidity(ctx context.Context) (PoolState, error) {
	delay := l.cfg.PollInterval
	for {
		if err := ctx.Err(); err != nil {
			return PoolState{}, err
		}
		pool, err := l.monitor.Observe(ctx, l.cfg.QuoteToken, l.cfg.BaseToken)

		var result string
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return PoolState{}, ctx.Err()
			}
			result = "error"
			l.logger.WithError(err).Warn("liquidity check failed")
		case !pool.Exists():
			result = "no_pair"
			l.logger.Debug("pair not created yet")
		case !pool.Ready(l.cfg.MinLiquidity):
			result = "below_threshold"
			l.logger.WithField("reserve", pool.ReserveOfQuoteToken.String()).Debug("liquidity below threshold")
		case l.paused(ctx):
			result = "paused"
		default:
			l.metrics.RecordPoll("ready")
			l.metrics.SetReserve(wholeUnits(pool.ReserveOfQuoteToken))
			l.logger.WithFields(logrus.Fields{
				"pair":    pool.PairAddress.Hex(),
				"reserve": pool.ReserveOfQuoteToken.String(),
			}).Info("liquidity added")
			return pool, nil
		}

		l.metrics.RecordPoll(result)
		if pool.Exists() {
			l.metrics.SetReserve(wholeUnits(pool.ReserveOfQuoteToken))
			l.update(func(s *CycleState) {
				p := *pool.PairAddress
				s.Pair = &p
				s.LastReserve = cloneInt(pool.ReserveOfQuoteToken)
			})
		}

		if err := l.sleep(ctx, delay); err != nil {
			return PoolState{}, err
		}
		if result == "error" || result == "no_pair" {
			delay = nextDelay(delay, l.cfg.MaxPollInterval)
		} else {
			delay = l.cfg.PollInterval
		}
	}
}

// paused fails open: an unreachable flag store does not block trading.
func (l *TradingLoop) paused(ctx context.Context) bool {
	if l.pauser == nil {
		return false
	}
	p, err := l.pauser.Paused(ctx)
	if err != nil {
		l.logger.WithError(err).Warn("pause flag unavailable")
		return false
	}
	if p {
		l.logger.Info("trading paused, holding off")
	}
	return p
}

func (l *TradingLoop) terminate(err error, reason string) {
	l.transition(Terminated, reason, func(s *CycleState) { s.Err = err })
}

func (l *TradingLoop) update(mutate func(*CycleState)) {
	l.mu.Lock()
	mutate(&l.state)
	l.state.UpdatedAt = l.now()
	l.mu.Unlock()
}

func (l *TradingLoop) transition(to Phase, reason string, mutate func(*CycleState)) {
	l.mu.Lock()
	from := l.state.Phase
	if mutate != nil {
		mutate(&l.state)
	}
	l.state.Phase = to
	l.state.Reason = reason
	l.state.UpdatedAt = l.now()
	snap := l.state.clone()
	l.mu.Unlock()

	ev := models.PhaseEvent{
		Timestamp: snap.UpdatedAt,
		Cycle:     snap.Cycle,
		From:      from.String(),
		To:        to.String(),
		Reason:    reason,
	}
	l.metrics.RecordTransition(ev.From, ev.To, int(to))

	entry := l.logger.WithFields(logrus.Fields{
		"cycle": snap.Cycle,
		"from":  ev.From,
		"to":    ev.To,
	})
	if snap.Err != nil && to == Terminated {
		entry.WithError(snap.Err).Error(reason)
	} else {
		entry.Info(reason)
	}

	for _, fn := range l.observers {
		fn(ev, snap)
	}
}

func nextDelay(cur, ceiling time.Duration) time.Duration {
	next := cur * 2
	if ceiling > 0 && next > ceiling {
		return ceiling
	}
	return next
}

func wholeUnits(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, -18).InexactFloat64()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
