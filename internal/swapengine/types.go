package swapengine

import (
	"fmt"
	"math/big"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/ethereum/go-ethereum/common"
)

// PoolState is one observation of the (quote, base) pair.
type PoolState struct {
	PairAddress         *common.Address // nil until the factory reports a pair
	ReserveOfQuoteToken *big.Int        // quote token held by the pair; nil without a pair
	ObservedAt          time.Time
}

// Exists reports whether the factory has a pair for the tokens.
func (p PoolState) Exists() bool {
	return p.PairAddress != nil
}

// Pair returns the pair address or ErrPairNotFound.
func (p PoolState) Pair() (common.Address, error) {
	if p.PairAddress == nil {
		return common.Address{}, ErrPairNotFound
	}
	return *p.PairAddress, nil
}

// Ready reports whether the pool is tradable: a pair exists and its quote
// reserve is strictly above threshold.
func (p PoolState) Ready(threshold *big.Int) bool {
	if p.PairAddress == nil || p.ReserveOfQuoteToken == nil {
		return false
	}
	if threshold == nil {
		return p.ReserveOfQuoteToken.Sign() > 0
	}
	return p.ReserveOfQuoteToken.Cmp(threshold) > 0
}

// QuoteDirection tells which side of a quote was fixed by the caller.
type QuoteDirection string

const (
	QuoteForward QuoteDirection = "forward" // exact in, priced out
	QuoteReverse QuoteDirection = "reverse" // exact out, priced in
)

// Quote is a single pricing of a path. Never cached across suspension points.
type Quote struct {
	Direction QuoteDirection
	AmountIn  *big.Int
	AmountOut *big.Int
	Path      []common.Address
	QuotedAt  time.Time
}

// Order is what the loop hands the executor for one leg.
type Order struct {
	Cycle     int
	AmountIn  *big.Int
	Bound     *big.Int // minimum acceptable output
	QuotedOut *big.Int
	Path      []common.Address
	Recipient common.Address
	Pair      common.Address // pool whose Swap event carries the realized amount
	Deadline  time.Time      // zero means now + the configured window
}

// TradeResult exists only for a confirmed swap with a non-zero realized amount.
type TradeResult struct {
	Side        models.Side    `json:"side"`
	TxHash      common.Hash    `json:"tx_hash"`
	Pair        common.Address `json:"pair"`
	AmountIn    *big.Int       `json:"amount_in"`
	AmountOut   *big.Int       `json:"amount_out"` // realized, from the Swap event
	QuotedOut   *big.Int       `json:"quoted_out"`
	MinOut      *big.Int       `json:"min_out"`
	GasUsed     uint64         `json:"gas_used"`
	BlockNumber uint64         `json:"block_number"`
	ConfirmedAt time.Time      `json:"confirmed_at"`
	Duration    time.Duration  `json:"duration"`
}

// Phase is the trading loop's position in its cycle.
type Phase int

const (
	AwaitingLiquidity Phase = iota
	Committed
	Cooldown
	Terminated
)

func (p Phase) String() string {
	switch p {
	case AwaitingLiquidity:
		return "awaiting_liquidity"
	case Committed:
		return "committed"
	case Cooldown:
		return "cooldown"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for _, c := range []Phase{AwaitingLiquidity, Committed, Cooldown, Terminated} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// CycleState is the loop's whole mutable state. Only the loop goroutine
// writes it; readers get copies through Snapshot.
type CycleState struct {
	Phase       Phase           `json:"phase"`
	Cycle       int             `json:"cycle"`
	Budget      *big.Int        `json:"budget"`   // quote amount for the next buy
	Position    *big.Int        `json:"position"` // base amount bought and not yet sold
	Pair        *common.Address `json:"pair,omitempty"`
	LastReserve *big.Int        `json:"last_reserve,omitempty"`
	LastBuy     *TradeResult    `json:"last_buy,omitempty"`
	LastSell    *TradeResult    `json:"last_sell,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Err         error           `json:"-"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (s CycleState) clone() CycleState {
	out := s
	out.Budget = cloneInt(s.Budget)
	out.Position = cloneInt(s.Position)
	out.LastReserve = cloneInt(s.LastReserve)
	if s.Pair != nil {
		p := *s.Pair
		out.Pair = &p
	}
	if s.LastBuy != nil {
		b := *s.LastBuy
		out.LastBuy = &b
	}
	if s.LastSell != nil {
		v := *s.LastSell
		out.LastSell = &v
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
