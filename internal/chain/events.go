package chain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoSwapEvent is returned when a receipt carries no Swap log from the pair.
var ErrNoSwapEvent = errors.New("no swap event from pair")

// SwapEventTopic is keccak256("Swap(address,uint256,uint256,uint256,uint256,address)").
var SwapEventTopic = pairABI.Events["Swap"].ID

// SwapEvent is a decoded UniswapV2Pair Swap log.
type SwapEvent struct {
	Pair       common.Address
	Sender     common.Address
	To         common.Address
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
	LogIndex   uint
}

// SortTokens orders two token addresses the way a V2 pair does: token0 is the
// numerically lower address.
func SortTokens(a, b common.Address) (token0, token1 common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

// AmountOut returns the amount of tokenOut the pair sent out in this swap.
func (e SwapEvent) AmountOut(tokenOut, other common.Address) *big.Int {
	token0, _ := SortTokens(tokenOut, other)
	if token0 == tokenOut {
		return new(big.Int).Set(e.Amount0Out)
	}
	return new(big.Int).Set(e.Amount1Out)
}

// AmountIn returns the amount of tokenIn the pair received in this swap.
func (e SwapEvent) AmountIn(tokenIn, other common.Address) *big.Int {
	token0, _ := SortTokens(tokenIn, other)
	if token0 == tokenIn {
		return new(big.Int).Set(e.Amount0In)
	}
	return new(big.Int).Set(e.Amount1In)
}

// DecodeSwapEvents returns every Swap log emitted by pair, in log order.
// Logs from other emitters or with other signatures are skipped, so the
// result does not depend on where the pair's log sits in the receipt.
func DecodeSwapEvents(logs []*types.Log, pair common.Address) ([]SwapEvent, error) {
	var out []SwapEvent
	for _, lg := range logs {
		if lg == nil || lg.Address != pair || len(lg.Topics) != 3 || lg.Topics[0] != SwapEventTopic {
			continue
		}

		vals, err := pairABI.Unpack("Swap", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack swap log %d: %w", lg.Index, err)
		}
		if len(vals) != 4 {
			return nil, fmt.Errorf("unpack swap log %d: want 4 values, got %d", lg.Index, len(vals))
		}

		ev := SwapEvent{
			Pair:     pair,
			Sender:   common.BytesToAddress(lg.Topics[1].Bytes()),
			To:       common.BytesToAddress(lg.Topics[2].Bytes()),
			LogIndex: lg.Index,
		}
		amounts := []**big.Int{&ev.Amount0In, &ev.Amount1In, &ev.Amount0Out, &ev.Amount1Out}
		for i, v := range vals {
			n, ok := v.(*big.Int)
			if !ok {
				return nil, fmt.Errorf("unpack swap log %d: field %d is %T", lg.Index, i, v)
			}
			*amounts[i] = n
		}
		out = append(out, ev)
	}
	return out, nil
}

// RealizedOut finds the last Swap log the pair emitted and returns how much
// tokenOut it paid out.
func RealizedOut(receipt *types.Receipt, pair, tokenIn, tokenOut common.Address) (*big.Int, error) {
	if receipt == nil {
		return nil, ErrNoSwapEvent
	}
	events, err := DecodeSwapEvents(receipt.Logs, pair)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNoSwapEvent
	}
	return events[len(events)-1].AmountOut(tokenOut, tokenIn), nil
}

// EncodeSwapLog builds a Swap log the way a pair contract emits it.
func EncodeSwapLog(pair, sender, to common.Address, amount0In, amount1In, amount0Out, amount1Out *big.Int) (*types.Log, error) {
	data, err := pairABI.Events["Swap"].Inputs.NonIndexed().Pack(amount0In, amount1In, amount0Out, amount1Out)
	if err != nil {
		return nil, fmt.Errorf("pack swap log: %w", err)
	}
	return &types.Log{
		Address: pair,
		Topics: []common.Hash{
			SwapEventTopic,
			common.BytesToHash(sender.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}, nil
}
