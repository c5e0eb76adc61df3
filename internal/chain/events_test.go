package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	lowToken  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	highToken = common.HexToAddress("0x9000000000000000000000000000000000000009")
	pairAddr  = common.HexToAddress("0x5000000000000000000000000000000000000005")
	router    = common.HexToAddress("0x7000000000000000000000000000000000000007")
	trader    = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func TestSwapEventTopic(t *testing.T) {
	want := crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	assert.Equal(t, want, SwapEventTopic)
}

func TestSortTokens(t *testing.T) {
	t0, t1 := SortTokens(highToken, lowToken)
	assert.Equal(t, lowToken, t0)
	assert.Equal(t, highToken, t1)

	t0, t1 = SortTokens(lowToken, highToken)
	assert.Equal(t, lowToken, t0)
	assert.Equal(t, highToken, t1)
}

func TestDecodeSwapEvents_FiltersByEmitterAndTopic(t *testing.T) {
	// buy of highToken with lowToken: token0 = low goes in, token1 = high comes out
	swapLog, err := EncodeSwapLog(pairAddr, router, trader, big.NewInt(100), big.NewInt(0), big.NewInt(0), big.NewInt(950))
	require.NoError(t, err)
	swapLog.Index = 7

	foreign, err := EncodeSwapLog(common.HexToAddress("0xdead"), router, trader, big.NewInt(1), big.NewInt(0), big.NewInt(0), big.NewInt(1))
	require.NoError(t, err)

	transfer := &types.Log{
		Address: pairAddr,
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")),
			common.BytesToHash(pairAddr.Bytes()),
			common.BytesToHash(trader.Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(950).Bytes(), 32),
	}

	// pair's log is not at a fixed position
	logs := []*types.Log{transfer, foreign, swapLog, nil}

	events, err := DecodeSwapEvents(logs, pairAddr)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, pairAddr, ev.Pair)
	assert.Equal(t, router, ev.Sender)
	assert.Equal(t, trader, ev.To)
	assert.Equal(t, uint(7), ev.LogIndex)
	assert.Equal(t, big.NewInt(950), ev.AmountOut(highToken, lowToken))
	assert.Equal(t, big.NewInt(100), ev.AmountIn(lowToken, highToken))
}

func TestRealizedOut(t *testing.T) {
	// sell of lowToken for highToken reversed: token1 (high) goes in, token0 (low) comes out
	swapLog, err := EncodeSwapLog(pairAddr, router, trader, big.NewInt(0), big.NewInt(500), big.NewInt(42), big.NewInt(0))
	require.NoError(t, err)

	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{swapLog}}

	out, err := RealizedOut(receipt, pairAddr, highToken, lowToken)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), out)

	_, err = RealizedOut(&types.Receipt{}, pairAddr, highToken, lowToken)
	assert.ErrorIs(t, err, ErrNoSwapEvent)

	_, err = RealizedOut(nil, pairAddr, highToken, lowToken)
	assert.ErrorIs(t, err, ErrNoSwapEvent)
}

func TestDecodeSwapEvents_BadData(t *testing.T) {
	lg := &types.Log{
		Address: pairAddr,
		Topics:  []common.Hash{SwapEventTopic, {}, {}},
		Data:    []byte{0x01, 0x02},
	}
	_, err := DecodeSwapEvents([]*types.Log{lg}, pairAddr)
	assert.Error(t, err)
}
