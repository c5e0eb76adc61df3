package swapengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/chain"
	"github.com/aman-zulfiqar/pair-sniper/internal/config"
	"github.com/aman-zulfiqar/pair-sniper/internal/metrics"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/aman-zulfiqar/pair-sniper/internal/storage"
	"github.com/sirupsen/logrus"
)

const sinkTimeout = 5 * time.Second

// ExecutorConfig wires a SwapExecutor.
type ExecutorConfig struct {
	Submitter      Submitter
	Trading        config.TradingConfig
	ConfirmTimeout time.Duration
	ExplorerTxURL  string // prefix; the tx hash is appended
	Dex            string
	Sinks          []storage.TradeSink
	Metrics        *metrics.Metrics
	Logger         *logrus.Logger
}

// SwapExecutor turns orders into signed router swaps, waits for them and
// reads the realized amount from the pair's Swap event. It never resubmits.
type SwapExecutor struct {
	submitter      Submitter
	trading        config.TradingConfig
	confirmTimeout time.Duration
	explorer       string
	dex            string
	sinks          []storage.TradeSink
	metrics        *metrics.Metrics
	logger         *logrus.Logger
	now            func() time.Time
}

func NewSwapExecutor(cfg ExecutorConfig) *SwapExecutor {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &SwapExecutor{
		submitter:      cfg.Submitter,
		trading:        cfg.Trading,
		confirmTimeout: cfg.ConfirmTimeout,
		explorer:       cfg.ExplorerTxURL,
		dex:            cfg.Dex,
		sinks:          cfg.Sinks,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		now:            time.Now,
	}
}

// ExecuteBuy spends quote tokens for base tokens.
func (e *SwapExecutor) ExecuteBuy(ctx context.Context, o Order) (*TradeResult, error) {
	kind := chain.ExactTokensForTokens
	if e.trading.QuoteIsNative {
		kind = chain.ExactETHForTokens
	}
	return e.execute(ctx, models.SideBuy, kind, o)
}

// ExecuteSell spends base tokens for quote tokens. The router allowance for
// the base token is ensured first.
func (e *SwapExecutor) ExecuteSell(ctx context.Context, o Order) (*TradeResult, error) {
	kind := chain.ExactTokensForTokens
	if e.trading.QuoteIsNative {
		kind = chain.ExactTokensForETH
	}
	return e.execute(ctx, models.SideSell, kind, o)
}

func (e *SwapExecutor) execute(ctx context.Context, side models.Side, kind chain.SwapKind, o Order) (*TradeResult, error) {
	if len(o.Path) < 2 {
		return nil, fmt.Errorf("%w: %s path needs at least two tokens", ErrExecutionFailed, side)
	}
	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s amount must be positive", ErrExecutionFailed, side)
	}

	bound := o.Bound
	if bound == nil {
		bound = new(big.Int)
	}
	deadline := o.Deadline
	if deadline.IsZero() {
		deadline = e.now().Add(e.trading.DeadlineWindow)
	}
	tokenIn, tokenOut := o.Path[len(o.Path)-2], o.Path[len(o.Path)-1]

	log := e.logger.WithFields(logrus.Fields{
		"side":      side,
		"cycle":     o.Cycle,
		"amount_in": o.AmountIn.String(),
		"min_out":   bound.String(),
		"pair":      o.Pair.Hex(),
	})

	start := e.now()

	// 1. Router allowance for token inputs
	if kind != chain.ExactETHForTokens {
		err := e.submitter.EnsureAllowance(ctx, o.Path[0], o.AmountIn, e.trading.GasPrice, e.trading.GasLimit, e.confirmTimeout)
		if err != nil {
			e.metrics.RecordSwap(string(side), "failed", 0)
			return nil, fmt.Errorf("%w: approve %s: %w", ErrExecutionFailed, o.Path[0].Hex(), err)
		}
	}

	// 2. Submit
	hash, err := e.submitter.SubmitSwap(ctx, chain.SwapTx{
		Kind:         kind,
		AmountIn:     o.AmountIn,
		AmountOutMin: bound,
		Path:         o.Path,
		To:           o.Recipient,
		Deadline:     deadline,
		GasPrice:     e.trading.GasPrice,
		GasLimit:     e.trading.GasLimit,
	})
	if err != nil {
		e.metrics.RecordSwap(string(side), "failed", 0)
		return nil, fmt.Errorf("%w: submit %s: %w", ErrExecutionFailed, side, err)
	}
	log = log.WithField("tx", hash.Hex())
	log.Info("swap submitted")

	// 3. Confirm
	receipt, err := e.submitter.AwaitReceipt(ctx, hash, e.confirmTimeout)
	if err != nil {
		e.metrics.RecordSwap(string(side), "failed", 0)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("stopped waiting for confirmation; the transaction may still be mined")
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrExecutionFailed, side, hash.Hex(), err)
	}

	// 4. Realized amount from the pair's Swap event
	realized, err := chain.RealizedOut(receipt, o.Pair, tokenIn, tokenOut)
	if err != nil {
		e.metrics.RecordSwap(string(side), "failed", 0)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrExecutionFailed, side, hash.Hex(), err)
	}
	if realized.Sign() <= 0 {
		e.metrics.RecordSwap(string(side), "failed", 0)
		return nil, fmt.Errorf("%w: %s %s realized zero output", ErrExecutionFailed, side, hash.Hex())
	}

	took := e.now().Sub(start)
	e.metrics.RecordSwap(string(side), "confirmed", took)

	result := &TradeResult{
		Side:        side,
		TxHash:      hash,
		Pair:        o.Pair,
		AmountIn:    new(big.Int).Set(o.AmountIn),
		AmountOut:   realized,
		QuotedOut:   cloneInt(o.QuotedOut),
		MinOut:      new(big.Int).Set(bound),
		GasUsed:     receipt.GasUsed,
		ConfirmedAt: e.now(),
		Duration:    took,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}

	entry := log.WithFields(logrus.Fields{
		"amount_out": realized.String(),
		"gas_used":   receipt.GasUsed,
		"took":       took.Round(time.Millisecond),
	})
	if e.explorer != "" {
		entry = entry.WithField("explorer", e.explorer+hash.Hex())
	}
	entry.Info("swap confirmed")

	e.publish(ctx, o, result)
	return result, nil
}

// publish hands the trade to every sink. Failures are logged and counted,
// never returned.
func (e *SwapExecutor) publish(ctx context.Context, o Order, r *TradeResult) {
	if len(e.sinks) == 0 {
		return
	}

	ev := &models.TradeEvent{
		TxHash:      r.TxHash.Hex(),
		Timestamp:   r.ConfirmedAt,
		Cycle:       o.Cycle,
		Side:        r.Side,
		Pair:        r.Pair.Hex(),
		TokenIn:     o.Path[0].Hex(),
		TokenOut:    o.Path[len(o.Path)-1].Hex(),
		AmountIn:    r.AmountIn.String(),
		AmountOut:   r.AmountOut.String(),
		QuotedOut:   bigString(r.QuotedOut),
		MinOut:      r.MinOut.String(),
		GasUsed:     r.GasUsed,
		BlockNumber: r.BlockNumber,
		Dex:         e.dex,
	}

	// the trade already happened; a cancelled caller must not lose the record
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	for _, s := range e.sinks {
		if err := s.RecordTrade(sctx, ev); err != nil {
			e.metrics.RecordSinkError(s.Name())
			e.logger.WithError(err).WithField("sink", s.Name()).Warn("failed to record trade")
		}
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
