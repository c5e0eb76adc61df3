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
	"github.com/aman-zulfiqar/pair-sniper/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var (
	wbnb      = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	token     = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
	pairAddr  = common.HexToAddress("0x0eD7e52944161450477ee417DE9Cd3a859b14fD0")
	routerAdr = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
	me        = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

var errNode = errors.New("connection refused")

// fakeExchange is a scripted chain. Zero values mean "nothing there".
type fakeExchange struct {
	mu sync.Mutex

	pair     common.Address
	pairErr  error
	reserves []*big.Int // successive pair reserve reads; the last one repeats
	reads    int

	buyQuote  *big.Int // getAmountsOut along quote -> base
	sellQuote *big.Int // getAmountsOut along base -> quote
	inQuote   *big.Int // getAmountsIn answer for the first hop
	quoteErrs []error  // consumed one per getAmounts call before answering

	buyRealized  *big.Int
	sellRealized *big.Int
	submitErr    error
	sellErr      error // submit error for sells only
	receiptErr   error
	emitter      *common.Address // overrides the Swap log emitter
	onSubmit     func(tx chain.SwapTx)

	native     *big.Int
	balanceErr error

	submitted  []chain.SwapTx
	approvals  []common.Address
	quoteCalls int
	reverseFor []*big.Int // amounts asked of getAmountsIn
	reversePth [][]common.Address
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		pair:         pairAddr,
		reserves:     []*big.Int{big.NewInt(100)},
		buyQuote:     big.NewInt(1000),
		sellQuote:    big.NewInt(1),
		inQuote:      big.NewInt(880),
		buyRealized:  big.NewInt(990),
		sellRealized: big.NewInt(870),
		native:       big.NewInt(0),
	}
}

func (f *fakeExchange) GetPair(ctx context.Context, a, b common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pairErr != nil {
		return common.Address{}, f.pairErr
	}
	return f.pair, nil
}

func (f *fakeExchange) BalanceOf(ctx context.Context, tok, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner == f.pair {
		i := f.reads
		if i >= len(f.reserves) {
			i = len(f.reserves) - 1
		}
		f.reads++
		return new(big.Int).Set(f.reserves[i]), nil
	}
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.native), nil
}

func (f *fakeExchange) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.native), nil
}

func (f *fakeExchange) nextQuoteErr() error {
	f.quoteCalls++
	if len(f.quoteErrs) == 0 {
		return nil
	}
	err := f.quoteErrs[0]
	f.quoteErrs = f.quoteErrs[1:]
	return err
}

func (f *fakeExchange) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextQuoteErr(); err != nil {
		return nil, err
	}
	out := f.sellQuote
	if path[0] == wbnb {
		out = f.buyQuote
	}
	return []*big.Int{new(big.Int).Set(amountIn), new(big.Int).Set(out)}, nil
}

func (f *fakeExchange) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverseFor = append(f.reverseFor, new(big.Int).Set(amountOut))
	f.reversePth = append(f.reversePth, path)
	if err := f.nextQuoteErr(); err != nil {
		return nil, err
	}
	return []*big.Int{new(big.Int).Set(f.inQuote), new(big.Int).Set(amountOut)}, nil
}

func (f *fakeExchange) EnsureAllowance(ctx context.Context, tok common.Address, amount, gasPrice *big.Int, gasLimit uint64, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, tok)
	return nil
}

func (f *fakeExchange) SubmitSwap(ctx context.Context, tx chain.SwapTx) (common.Hash, error) {
	f.mu.Lock()
	hook := f.onSubmit
	f.submitted = append(f.submitted, tx)
	err := f.submitErr
	if tx.Path[0] != wbnb && f.sellErr != nil {
		err = f.sellErr
	}
	n := len(f.submitted)
	f.mu.Unlock()

	if hook != nil {
		hook(tx)
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.BigToHash(big.NewInt(int64(n))), nil
}

func (f *fakeExchange) AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}

	tx := f.submitted[hash.Big().Int64()-1]
	realized := f.sellRealized
	if tx.Path[0] == wbnb {
		realized = f.buyRealized
	}

	in, out := tx.Path[0], tx.Path[len(tx.Path)-1]
	t0, _ := chain.SortTokens(in, out)
	zero := new(big.Int)
	a0in, a1in, a0out, a1out := zero, zero, zero, zero
	if in == t0 {
		a0in, a1out = tx.AmountIn, realized
	} else {
		a1in, a0out = tx.AmountIn, realized
	}

	emitter := f.pair
	if f.emitter != nil {
		emitter = *f.emitter
	}
	lg, err := chain.EncodeSwapLog(emitter, routerAdr, tx.To, a0in, a1in, a0out, a1out)
	if err != nil {
		return nil, err
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		GasUsed:     120000,
		BlockNumber: big.NewInt(100),
		Logs:        []*types.Log{lg},
	}, nil
}

func (f *fakeExchange) Close() error { return nil }

func (f *fakeExchange) swaps() []chain.SwapTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.SwapTx(nil), f.submitted...)
}

// recordingSink collects trades; fail makes every call error.
type recordingSink struct {
	mu     sync.Mutex
	name   string
	fail   bool
	trades []*models.TradeEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) RecordTrade(ctx context.Context, t *models.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("%s down", s.name)
	}
	s.trades = append(s.trades, t)
	return nil
}

type flagPauser struct {
	mu     sync.Mutex
	paused []bool // successive answers; the last one repeats
	calls  int
}

func (p *flagPauser) Paused(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.paused) {
		i = len(p.paused) - 1
	}
	p.calls++
	return p.paused[i], nil
}

func testTrading() config.TradingConfig {
	return config.TradingConfig{
		QuoteToken:          wbnb,
		BaseToken:           token,
		TradeAmount:         big.NewInt(100),
		SlippageDenominator: 20,
		GasPrice:            big.NewInt(5_000_000_000),
		GasLimit:            500000,
		MinLiquidity:        big.NewInt(50),
		TradeInterval:       time.Minute,
		WalletMin:           big.NewInt(50),
		Recipient:           me,
		Mode:                config.ModeSingle,
		QuoteIsNative:       true,
		BuyDelay:            3 * time.Second,
		PollInterval:        500 * time.Millisecond,
		MaxPollInterval:     10 * time.Second,
		DeadlineWindow:      5 * time.Minute,
	}
}

func quietLogger() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

// fakeClock is a Sleep that records requested delays and never blocks.
// After limit sleeps it cancels the loop's context.
type fakeClock struct {
	mu     sync.Mutex
	slept  []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	n := len(c.slept)
	c.mu.Unlock()

	if c.limit > 0 && n >= c.limit && c.cancel != nil {
		c.cancel()
	}
	return ctx.Err()
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

type harness struct {
	ex    *fakeExchange
	loop  *TradingLoop
	clock *fakeClock
	sink  *recordingSink
	ctx   context.Context
}

func newHarness(t *testing.T, ex *fakeExchange, cfg config.TradingConfig, pauser Pauser, sleepLimit int) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clock := &fakeClock{limit: sleepLimit, cancel: cancel}
	sink := &recordingSink{name: "memory"}
	logger := quietLogger()

	exec := NewSwapExecutor(ExecutorConfig{
		Submitter:      ex,
		Trading:        cfg,
		ConfirmTimeout: time.Second,
		Dex:            "test",
		Sinks:          []storage.TradeSink{sink},
		Logger:         logger,
	})

	loop, err := NewTradingLoop(LoopConfig{
		Trading:  cfg,
		Monitor:  NewLiquidityMonitor(ex),
		Quotes:   NewQuoteService(ex, nil),
		Executor: exec,
		Accounts: ex,
		Pauser:   pauser,
		Logger:   logger,
		Sleep:    clock.Sleep,
	})
	require.NoError(t, err)
	return &harness{ex: ex, loop: loop, clock: clock, sink: sink, ctx: ctx}
}
