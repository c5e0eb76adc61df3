package swapengine

import (
	"context"
	"math/big"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/chain"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PairReader answers the two questions the liquidity monitor asks.
type PairReader interface {
	GetPair(ctx context.Context, a, b common.Address) (common.Address, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Pricer wraps the router's read-only pricing calls.
type Pricer interface {
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
	GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error)
}

// Submitter sends signed swaps and waits for them.
type Submitter interface {
	SubmitSwap(ctx context.Context, tx chain.SwapTx) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
	EnsureAllowance(ctx context.Context, token common.Address, amount, gasPrice *big.Int, gasLimit uint64, timeout time.Duration) error
}

// AccountReader reads wallet balances.
type AccountReader interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// Exchange is everything the engine needs from a chain. *chain.Client and
// *amm.Sim both satisfy it.
type Exchange interface {
	PairReader
	Pricer
	Submitter
	AccountReader
	Close() error
}

// Pauser is consulted right before committing to a buy.
type Pauser interface {
	Paused(ctx context.Context) (bool, error)
}

// TransitionFunc observes loop transitions. It runs on the loop goroutine
// and must not block.
type TransitionFunc func(ev models.PhaseEvent, state CycleState)
