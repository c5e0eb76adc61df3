package swapengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/chain"
	"github.com/aman-zulfiqar/pair-sniper/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
)

// QuoteService prices swaps through the router. It does not retry: the
// chain client already retries transport errors, and a revert is an answer.
type QuoteService struct {
	pricer  Pricer
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewQuoteService(pricer Pricer, m *metrics.Metrics) *QuoteService {
	return &QuoteService{pricer: pricer, metrics: m, now: time.Now}
}

// QuoteForward prices an exact input: amounts out along path.
func (s *QuoteService) QuoteForward(ctx context.Context, amountIn *big.Int, path []common.Address) (Quote, error) {
	if err := checkQuoteArgs(amountIn, path); err != nil {
		return Quote{}, err
	}

	amounts, err := s.pricer.GetAmountsOut(ctx, amountIn, path)
	if err != nil {
		return Quote{}, s.classify(QuoteForward, err)
	}
	if len(amounts) != len(path) {
		s.metrics.RecordQuoteError(string(QuoteForward), "malformed")
		return Quote{}, fmt.Errorf("%w: getAmountsOut returned %d amounts for %d hops", ErrQueryFailed, len(amounts), len(path))
	}

	out := amounts[len(amounts)-1]
	if out == nil || out.Sign() <= 0 {
		s.metrics.RecordQuoteError(string(QuoteForward), "zero")
		return Quote{}, fmt.Errorf("%w: zero output for %s", ErrInsufficientLiquidity, amountIn)
	}

	return Quote{
		Direction: QuoteForward,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int).Set(out),
		Path:      path,
		QuotedAt:  s.now(),
	}, nil
}

// QuoteReverse prices an exact output: the input needed for amountOut.
func (s *QuoteService) QuoteReverse(ctx context.Context, amountOut *big.Int, path []common.Address) (Quote, error) {
	if err := checkQuoteArgs(amountOut, path); err != nil {
		return Quote{}, err
	}

	amounts, err := s.pricer.GetAmountsIn(ctx, amountOut, path)
	if err != nil {
		return Quote{}, s.classify(QuoteReverse, err)
	}
	if len(amounts) != len(path) {
		s.metrics.RecordQuoteError(string(QuoteReverse), "malformed")
		return Quote{}, fmt.Errorf("%w: getAmountsIn returned %d amounts for %d hops", ErrQueryFailed, len(amounts), len(path))
	}

	in := amounts[0]
	if in == nil || in.Sign() <= 0 {
		s.metrics.RecordQuoteError(string(QuoteReverse), "zero")
		return Quote{}, fmt.Errorf("%w: zero input for %s", ErrInsufficientLiquidity, amountOut)
	}

	return Quote{
		Direction: QuoteReverse,
		AmountIn:  new(big.Int).Set(in),
		AmountOut: new(big.Int).Set(amountOut),
		Path:      path,
		QuotedAt:  s.now(),
	}, nil
}

func (s *QuoteService) classify(dir QuoteDirection, err error) error {
	if errors.Is(err, chain.ErrReverted) {
		s.metrics.RecordQuoteError(string(dir), "revert")
		return fmt.Errorf("%w: %w", ErrInsufficientLiquidity, err)
	}
	s.metrics.RecordQuoteError(string(dir), "transport")
	return fmt.Errorf("%w: %w", ErrQueryFailed, err)
}

func checkQuoteArgs(amount *big.Int, path []common.Address) error {
	if len(path) < 2 {
		return fmt.Errorf("quote path needs at least two tokens, got %d", len(path))
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("quote amount must be positive")
	}
	return nil
}
