package amm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wrapped = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	meme    = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
	router  = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
	trader  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

func newSim() *Sim {
	return NewSim(SimConfig{Fee: v2Fee, Router: router, Trader: trader})
}

func TestSim_PairLifecycle(t *testing.T) {
	s := newSim()
	ctx := context.Background()

	pair, err := s.GetPair(ctx, wrapped, meme)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, pair)

	_, err = s.GetAmountsOut(ctx, big.NewInt(1), []common.Address{wrapped, meme})
	assert.ErrorIs(t, err, chain.ErrReverted)

	created := s.AddLiquidity(wrapped, meme, big.NewInt(500), big.NewInt(500000))
	assert.Equal(t, PairAddress(meme, wrapped), created)

	pair, err = s.GetPair(ctx, meme, wrapped)
	require.NoError(t, err)
	assert.Equal(t, created, pair)

	reserve, err := s.BalanceOf(ctx, wrapped, pair)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500), reserve)
}

func TestSim_BuyThenSell(t *testing.T) {
	s := newSim()
	ctx := context.Background()
	pair := s.AddLiquidity(wrapped, meme, big.NewInt(500), big.NewInt(500000))
	s.SetNativeBalance(trader, big.NewInt(1000))

	expected, err := GetAmountOut(big.NewInt(10), big.NewInt(500), big.NewInt(500000), v2Fee)
	require.NoError(t, err)

	hash, err := s.SubmitSwap(ctx, chain.SwapTx{
		Kind:         chain.ExactETHForTokens,
		AmountIn:     big.NewInt(10),
		AmountOutMin: expected,
		Path:         []common.Address{wrapped, meme},
		To:           trader,
		Deadline:     time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	receipt, err := s.AwaitReceipt(ctx, hash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	got, err := chain.RealizedOut(receipt, pair, wrapped, meme)
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	held, err := s.BalanceOf(ctx, meme, trader)
	require.NoError(t, err)
	assert.Equal(t, expected, held)

	native, err := s.NativeBalance(ctx, trader)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(990), native)

	// selling without approval fails on chain
	sell := chain.SwapTx{
		Kind:         chain.ExactTokensForETH,
		AmountIn:     held,
		AmountOutMin: big.NewInt(0),
		Path:         []common.Address{meme, wrapped},
		To:           trader,
		Deadline:     time.Now().Add(time.Minute),
	}
	hash, err = s.SubmitSwap(ctx, sell)
	require.NoError(t, err)
	_, err = s.AwaitReceipt(ctx, hash, time.Second)
	assert.ErrorIs(t, err, chain.ErrTxFailed)

	require.NoError(t, s.EnsureAllowance(ctx, meme, held, nil, 0, time.Second))
	hash, err = s.SubmitSwap(ctx, sell)
	require.NoError(t, err)
	receipt, err = s.AwaitReceipt(ctx, hash, time.Second)
	require.NoError(t, err)

	proceeds, err := chain.RealizedOut(receipt, pair, meme, wrapped)
	require.NoError(t, err)
	assert.True(t, proceeds.Sign() > 0)

	native, err = s.NativeBalance(ctx, trader)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Add(big.NewInt(990), proceeds), native)
}

func TestSim_MinOutAndDeadline(t *testing.T) {
	s := newSim()
	ctx := context.Background()
	s.AddLiquidity(wrapped, meme, big.NewInt(500), big.NewInt(500000))
	s.SetNativeBalance(trader, big.NewInt(1000))

	tx := chain.SwapTx{
		Kind:         chain.ExactETHForTokens,
		AmountIn:     big.NewInt(10),
		AmountOutMin: big.NewInt(1_000_000),
		Path:         []common.Address{wrapped, meme},
		To:           trader,
		Deadline:     time.Now().Add(time.Minute),
	}
	hash, err := s.SubmitSwap(ctx, tx)
	require.NoError(t, err)
	_, err = s.AwaitReceipt(ctx, hash, time.Second)
	assert.ErrorIs(t, err, chain.ErrTxFailed)

	tx.AmountOutMin = big.NewInt(0)
	tx.Deadline = time.Now().Add(-time.Second)
	hash, err = s.SubmitSwap(ctx, tx)
	require.NoError(t, err)
	_, err = s.AwaitReceipt(ctx, hash, time.Second)
	assert.ErrorIs(t, err, chain.ErrTxFailed)

	// nothing moved except gas (zero here)
	native, err := s.NativeBalance(ctx, trader)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), native)
}

func TestSim_InjectedFailures(t *testing.T) {
	s := newSim()
	ctx := context.Background()

	boom := errors.New("node unreachable")
	s.FailReads(boom)
	_, err := s.GetPair(ctx, wrapped, meme)
	assert.ErrorIs(t, err, boom)
	s.FailReads(nil)

	s.FailNextSubmit(boom)
	_, err = s.SubmitSwap(ctx, chain.SwapTx{Path: []common.Address{wrapped, meme}})
	assert.ErrorIs(t, err, boom)
}

func TestSim_GetAmountsIn(t *testing.T) {
	s := newSim()
	s.AddLiquidity(wrapped, meme, big.NewInt(10000), big.NewInt(10000))

	amounts, err := s.GetAmountsIn(context.Background(), big.NewInt(906), []common.Address{wrapped, meme})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), amounts[0])
	assert.Equal(t, big.NewInt(906), amounts[1])
}
