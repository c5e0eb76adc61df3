package amm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SwapGas is the gas each simulated swap reports as used.
const SwapGas = 120000

type pool struct {
	address  common.Address
	token0   common.Address
	token1   common.Address
	reserve0 *big.Int
	reserve1 *big.Int
}

func (p *pool) reserves(tokenIn common.Address) (in, out *big.Int) {
	if tokenIn == p.token0 {
		return p.reserve0, p.reserve1
	}
	return p.reserve1, p.reserve0
}

// SimConfig configures an in-memory exchange.
type SimConfig struct {
	Fee    Fee
	Router common.Address
	Trader common.Address // the account whose swaps are submitted
	Clock  func() time.Time
}

// Sim is an in-memory V2 exchange: a factory, a router, ERC-20 balances and
// native balances. Swaps settle immediately and produce receipts with Swap
// logs shaped like a real pair's.
type Sim struct {
	mu sync.Mutex

	fee    Fee
	router common.Address
	trader common.Address
	clock  func() time.Time

	pools     map[[2]common.Address]*pool
	byAddress map[common.Address]*pool
	tokens    map[common.Address]map[common.Address]*big.Int
	native    map[common.Address]*big.Int
	approved  map[common.Address]*big.Int
	receipts  map[common.Hash]*types.Receipt

	nonce     uint64
	block     uint64
	submitErr error
	readErr   error
}

// NewSim creates an empty exchange.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Fee.Denominator == 0 {
		cfg.Fee = Fee{Numerator: 3, Denominator: 1000}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Sim{
		fee:       cfg.Fee,
		router:    cfg.Router,
		trader:    cfg.Trader,
		clock:     cfg.Clock,
		pools:     map[[2]common.Address]*pool{},
		byAddress: map[common.Address]*pool{},
		tokens:    map[common.Address]map[common.Address]*big.Int{},
		native:    map[common.Address]*big.Int{},
		approved:  map[common.Address]*big.Int{},
		receipts:  map[common.Hash]*types.Receipt{},
		block:     1,
	}
}

// PairAddress returns the deterministic address the pair of a and b gets.
func PairAddress(a, b common.Address) common.Address {
	t0, t1 := chain.SortTokens(a, b)
	return common.BytesToAddress(crypto.Keccak256(t0.Bytes(), t1.Bytes())[12:])
}

// AddLiquidity creates the pair if needed and deposits amountA of a and
// amountB of b.
func (s *Sim) AddLiquidity(a, b common.Address, amountA, amountB *big.Int) common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.poolLocked(a, b, true)
	if a == p.token0 {
		p.reserve0.Add(p.reserve0, amountA)
		p.reserve1.Add(p.reserve1, amountB)
	} else {
		p.reserve0.Add(p.reserve0, amountB)
		p.reserve1.Add(p.reserve1, amountA)
	}
	return p.address
}

// Mint credits an ERC-20 balance.
func (s *Sim) Mint(token, owner common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenBalanceLocked(token, owner).Add(s.tokenBalanceLocked(token, owner), amount)
}

// SetNativeBalance overwrites an account's native balance.
func (s *Sim) SetNativeBalance(account common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.native[account] = new(big.Int).Set(amount)
}

// FailNextSubmit makes the next SubmitSwap return err without broadcasting.
func (s *Sim) FailNextSubmit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

// FailReads makes every read return err until called again with nil.
func (s *Sim) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// Close is a no-op; it lets Sim stand in for a dialed client.
func (s *Sim) Close() error { return nil }

func (s *Sim) GetPair(ctx context.Context, a, b common.Address) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return common.Address{}, s.readErr
	}
	if p := s.poolLocked(a, b, false); p != nil {
		return p.address, nil
	}
	return common.Address{}, nil
}

func (s *Sim) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if p, ok := s.byAddress[owner]; ok && (token == p.token0 || token == p.token1) {
		if token == p.token0 {
			return new(big.Int).Set(p.reserve0), nil
		}
		return new(big.Int).Set(p.reserve1), nil
	}
	return new(big.Int).Set(s.tokenBalanceLocked(token, owner)), nil
}

func (s *Sim) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return new(big.Int).Set(s.nativeLocked(account)), nil
}

func (s *Sim) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.amountsOutLocked(amountIn, path)
}

func (s *Sim) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: invalid path", chain.ErrReverted)
	}

	amounts := make([]*big.Int, len(path))
	amounts[len(path)-1] = new(big.Int).Set(amountOut)
	for i := len(path) - 1; i > 0; i-- {
		p := s.poolLocked(path[i-1], path[i], false)
		if p == nil {
			return nil, fmt.Errorf("%w: no pair", chain.ErrReverted)
		}
		rin, rout := p.reserves(path[i-1])
		in, err := GetAmountIn(amounts[i], rin, rout, s.fee)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", chain.ErrReverted, err)
		}
		amounts[i-1] = in
	}
	return amounts, nil
}

// EnsureAllowance records an unlimited router approval for token.
func (s *Sim) EnsureAllowance(ctx context.Context, token common.Address, amount, gasPrice *big.Int, gasLimit uint64, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.approved[token]; ok && cur.Cmp(amount) >= 0 {
		return nil
	}
	s.approved[token] = new(big.Int).Lsh(big.NewInt(1), 255)
	return nil
}

// SubmitSwap settles the swap at once. A swap that would revert on chain is
// still mined, with a failed receipt.
func (s *Sim) SubmitSwap(ctx context.Context, tx chain.SwapTx) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitErr != nil {
		err := s.submitErr
		s.submitErr = nil
		return common.Hash{}, err
	}
	if len(tx.Path) < 2 {
		return common.Hash{}, fmt.Errorf("swap path needs at least two tokens")
	}

	s.nonce++
	s.block++
	var seed [16]byte
	binary.BigEndian.PutUint64(seed[:8], s.nonce)
	binary.BigEndian.PutUint64(seed[8:], uint64(tx.Kind))
	hash := crypto.Keccak256Hash(s.trader.Bytes(), seed[:])

	receipt := &types.Receipt{
		Type:              types.LegacyTxType,
		TxHash:            hash,
		BlockNumber:       new(big.Int).SetUint64(s.block),
		GasUsed:           SwapGas,
		CumulativeGasUsed: SwapGas,
		Status:            types.ReceiptStatusFailed,
	}
	s.receipts[hash] = receipt

	if tx.GasPrice != nil {
		gasCost := new(big.Int).Mul(tx.GasPrice, big.NewInt(SwapGas))
		bal := s.nativeLocked(s.trader)
		bal.Sub(bal, gasCost)
		if bal.Sign() < 0 {
			bal.SetInt64(0)
		}
	}

	logs, err := s.swapLocked(tx)
	if err != nil {
		return hash, nil
	}
	for i, lg := range logs {
		lg.TxHash = hash
		lg.BlockNumber = s.block
		lg.Index = uint(i)
	}
	receipt.Logs = logs
	receipt.Status = types.ReceiptStatusSuccessful
	return hash, nil
}

// AwaitReceipt returns the settled receipt. Failed swaps return the receipt
// together with chain.ErrTxFailed, like the real client.
func (s *Sim) AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", hash.Hex(), chain.ErrConfirmTimeout)
	}
	if r.Status != types.ReceiptStatusSuccessful {
		return r, fmt.Errorf("%s: %w", hash.Hex(), chain.ErrTxFailed)
	}
	return r, nil
}

func (s *Sim) swapLocked(tx chain.SwapTx) ([]*types.Log, error) {
	if s.clock().After(tx.Deadline) {
		return nil, fmt.Errorf("expired")
	}

	tokenIn := tx.Path[0]
	tokenOut := tx.Path[len(tx.Path)-1]

	switch tx.Kind {
	case chain.ExactETHForTokens:
		if s.nativeLocked(s.trader).Cmp(tx.AmountIn) < 0 {
			return nil, fmt.Errorf("insufficient native balance")
		}
	default:
		if s.tokenBalanceLocked(tokenIn, s.trader).Cmp(tx.AmountIn) < 0 {
			return nil, fmt.Errorf("transfer amount exceeds balance")
		}
		if a, ok := s.approved[tokenIn]; !ok || a.Cmp(tx.AmountIn) < 0 {
			return nil, fmt.Errorf("transfer amount exceeds allowance")
		}
	}

	amounts, err := s.amountsOutLocked(tx.AmountIn, tx.Path)
	if err != nil {
		return nil, err
	}
	out := amounts[len(amounts)-1]
	if tx.AmountOutMin != nil && out.Cmp(tx.AmountOutMin) < 0 {
		return nil, fmt.Errorf("INSUFFICIENT_OUTPUT_AMOUNT")
	}

	// debit input
	if tx.Kind == chain.ExactETHForTokens {
		bal := s.nativeLocked(s.trader)
		bal.Sub(bal, tx.AmountIn)
	} else {
		bal := s.tokenBalanceLocked(tokenIn, s.trader)
		bal.Sub(bal, tx.AmountIn)
	}

	var logs []*types.Log
	for i := 0; i < len(tx.Path)-1; i++ {
		p := s.poolLocked(tx.Path[i], tx.Path[i+1], false)
		in, out := amounts[i], amounts[i+1]

		to := tx.To
		if i+2 < len(tx.Path) {
			to = s.poolLocked(tx.Path[i+1], tx.Path[i+2], false).address
		}

		zero := new(big.Int)
		var lg *types.Log
		if tx.Path[i] == p.token0 {
			p.reserve0.Add(p.reserve0, in)
			p.reserve1.Sub(p.reserve1, out)
			lg, err = chain.EncodeSwapLog(p.address, s.router, to, in, zero, zero, out)
		} else {
			p.reserve1.Add(p.reserve1, in)
			p.reserve0.Sub(p.reserve0, out)
			lg, err = chain.EncodeSwapLog(p.address, s.router, to, zero, in, out, zero)
		}
		if err != nil {
			return nil, err
		}
		logs = append(logs, lg)
	}

	// credit output
	if tx.Kind == chain.ExactTokensForETH {
		bal := s.nativeLocked(tx.To)
		bal.Add(bal, out)
	} else {
		bal := s.tokenBalanceLocked(tokenOut, tx.To)
		bal.Add(bal, out)
	}

	return logs, nil
}

func (s *Sim) amountsOutLocked(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: invalid path", chain.ErrReverted)
	}

	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		p := s.poolLocked(path[i], path[i+1], false)
		if p == nil {
			return nil, fmt.Errorf("%w: no pair", chain.ErrReverted)
		}
		rin, rout := p.reserves(path[i])
		out, err := GetAmountOut(amounts[i], rin, rout, s.fee)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", chain.ErrReverted, err)
		}
		if out.Sign() == 0 {
			return nil, fmt.Errorf("%w: %v", chain.ErrReverted, ErrInsufficientOutput)
		}
		amounts[i+1] = out
	}
	return amounts, nil
}

func (s *Sim) poolLocked(a, b common.Address, create bool) *pool {
	t0, t1 := chain.SortTokens(a, b)
	key := [2]common.Address{t0, t1}
	if p, ok := s.pools[key]; ok {
		return p
	}
	if !create {
		return nil
	}
	p := &pool{
		address:  PairAddress(t0, t1),
		token0:   t0,
		token1:   t1,
		reserve0: new(big.Int),
		reserve1: new(big.Int),
	}
	s.pools[key] = p
	s.byAddress[p.address] = p
	return p
}

func (s *Sim) tokenBalanceLocked(token, owner common.Address) *big.Int {
	holders, ok := s.tokens[token]
	if !ok {
		holders = map[common.Address]*big.Int{}
		s.tokens[token] = holders
	}
	bal, ok := holders[owner]
	if !ok {
		bal = new(big.Int)
		holders[owner] = bal
	}
	return bal
}

func (s *Sim) nativeLocked(account common.Address) *big.Int {
	bal, ok := s.native[account]
	if !ok {
		bal = new(big.Int)
		s.native[account] = bal
	}
	return bal
}
