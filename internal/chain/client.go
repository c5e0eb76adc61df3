package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrReverted means the contract rejected the call. Retrying will not help.
	ErrReverted = errors.New("execution reverted")
	// ErrTxFailed means the transaction was mined with a failure status.
	ErrTxFailed = errors.New("transaction failed on chain")
	// ErrConfirmTimeout means no receipt showed up before the deadline.
	ErrConfirmTimeout = errors.New("confirmation timeout")
	// ErrNoSigner means the client was built without a wallet.
	ErrNoSigner = errors.New("no signing wallet configured")
)

// Backend is what the client needs from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// SwapKind picks the router entry point.
type SwapKind int

const (
	// ExactETHForTokens pays native value (buy leg when the quote token is native).
	ExactETHForTokens SwapKind = iota
	// ExactTokensForETH sells tokens for native value, tolerating transfer fees.
	ExactTokensForETH
	// ExactTokensForTokens swaps ERC-20 to ERC-20, tolerating transfer fees.
	ExactTokensForTokens
)

func (k SwapKind) String() string {
	switch k {
	case ExactETHForTokens:
		return "swapExactETHForTokens"
	case ExactTokensForETH:
		return "swapExactTokensForETHSupportingFeeOnTransferTokens"
	case ExactTokensForTokens:
		return "swapExactTokensForTokensSupportingFeeOnTransferTokens"
	default:
		return fmt.Sprintf("SwapKind(%d)", int(k))
	}
}

// SwapTx is a fully parameterised router swap.
type SwapTx struct {
	Kind         SwapKind
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Path         []common.Address
	To           common.Address
	Deadline     time.Time
	GasPrice     *big.Int // legacy pricing
	GasLimit     uint64
}

// ClientConfig holds configuration for the chain client
type ClientConfig struct {
	URL     string
	Factory common.Address
	Router  common.Address
	ChainID int64 // 0 asks the node

	Timeout      time.Duration // per read call
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    float64 // read calls per second, 0 = unlimited
	RateBurst    int

	ConfirmPoll    time.Duration
	ConfirmMaxPoll time.Duration

	Wallet *Wallet
	Logger *logrus.Logger
}

// Client talks to a V2 factory, its router and ERC-20 tokens.
type Client struct {
	backend Backend
	factory common.Address
	router  common.Address

	routerContract *bind.BoundContract
	auth           *bind.TransactOpts
	wallet         *Wallet

	limiter        *rate.Limiter
	timeout        time.Duration
	maxRetries     int
	retryBackoff   time.Duration
	confirmPoll    time.Duration
	confirmMaxPoll time.Duration
	logger         *logrus.Logger
}

// Dial connects to cfg.URL (ws, wss, http or https) and builds a client.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	c, err := NewClient(ctx, eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	return c, nil
}

// NewClient builds a client over an existing backend.
func NewClient(ctx context.Context, backend Backend, cfg ClientConfig) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = 500 * time.Millisecond
	}
	if cfg.ConfirmMaxPoll < cfg.ConfirmPoll {
		cfg.ConfirmMaxPoll = 4 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		backend:        backend,
		factory:        cfg.Factory,
		router:         cfg.Router,
		routerContract: bind.NewBoundContract(cfg.Router, routerABI, backend, backend, backend),
		wallet:         cfg.Wallet,
		limiter:        rate.NewLimiter(limit, burst),
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		retryBackoff:   cfg.RetryBackoff,
		confirmPoll:    cfg.ConfirmPoll,
		confirmMaxPoll: cfg.ConfirmMaxPoll,
		logger:         cfg.Logger,
	}

	if cfg.Wallet != nil {
		chainID := big.NewInt(cfg.ChainID)
		if cfg.ChainID == 0 {
			id, err := backend.ChainID(ctx)
			if err != nil {
				return nil, fmt.Errorf("get chain id: %w", err)
			}
			chainID = id
		}
		auth, err := cfg.Wallet.Transactor(chainID)
		if err != nil {
			return nil, err
		}
		c.auth = auth
	}

	return c, nil
}

// Close releases the node connection.
func (c *Client) Close() error {
	c.backend.Close()
	return nil
}

// Address returns the signing wallet address, or the zero address for a
// read-only client.
func (c *Client) Address() common.Address {
	if c.wallet == nil {
		return common.Address{}
	}
	return c.wallet.Address()
}

// GetPair asks the factory for the pair of a and b. The zero address means no
// pair exists yet.
func (c *Client) GetPair(ctx context.Context, a, b common.Address) (common.Address, error) {
	vals, err := c.call(ctx, c.factory, factoryABI, "getPair", a, b)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getPair: unexpected result %T", vals[0])
	}
	return addr, nil
}

// BalanceOf returns token.balanceOf(owner).
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	vals, err := c.call(ctx, token, erc20ABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBigInt("balanceOf", vals[0])
}

// Allowance returns token.allowance(owner, spender).
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	vals, err := c.call(ctx, token, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt("allowance", vals[0])
}

// GetAmountsOut prices an exact input along path.
func (c *Client) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	vals, err := c.call(ctx, c.router, routerABI, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	return asBigInts("getAmountsOut", vals[0])
}

// GetAmountsIn prices an exact output along path.
func (c *Client) GetAmountsIn(ctx context.Context, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	vals, err := c.call(ctx, c.router, routerABI, "getAmountsIn", amountOut, path)
	if err != nil {
		return nil, err
	}
	return asBigInts("getAmountsIn", vals[0])
}

// NativeBalance returns the account's native coin balance at the latest block.
func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bal, err := c.backend.BalanceAt(callCtx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// SubmitSwap signs and broadcasts a router swap. It does not wait for it.
func (c *Client) SubmitSwap(ctx context.Context, tx SwapTx) (common.Hash, error) {
	if c.auth == nil {
		return common.Hash{}, ErrNoSigner
	}
	if len(tx.Path) < 2 {
		return common.Hash{}, fmt.Errorf("swap path needs at least two tokens")
	}

	deadline := big.NewInt(tx.Deadline.Unix())
	var value *big.Int
	var args []any

	switch tx.Kind {
	case ExactETHForTokens:
		value = tx.AmountIn
		args = []any{tx.AmountOutMin, tx.Path, tx.To, deadline}
	case ExactTokensForETH, ExactTokensForTokens:
		args = []any{tx.AmountIn, tx.AmountOutMin, tx.Path, tx.To, deadline}
	default:
		return common.Hash{}, fmt.Errorf("unknown swap kind %d", int(tx.Kind))
	}

	signed, err := c.routerContract.Transact(c.transactOpts(ctx, tx.GasPrice, tx.GasLimit, value), tx.Kind.String(), args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("send %s: %w", tx.Kind, err)
	}

	c.logger.WithFields(logrus.Fields{
		"tx":       signed.Hash().Hex(),
		"method":   tx.Kind.String(),
		"amountIn": tx.AmountIn.String(),
		"minOut":   tx.AmountOutMin.String(),
		"nonce":    signed.Nonce(),
	}).Info("swap broadcast")

	return signed.Hash(), nil
}

// EnsureAllowance approves the router to spend token when the current
// allowance is below amount, and waits for the approval to be mined.
func (c *Client) EnsureAllowance(ctx context.Context, token common.Address, amount, gasPrice *big.Int, gasLimit uint64, timeout time.Duration) error {
	if c.auth == nil {
		return ErrNoSigner
	}

	current, err := c.Allowance(ctx, token, c.wallet.Address(), c.router)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	erc20 := bind.NewBoundContract(token, erc20ABI, c.backend, c.backend, c.backend)
	signed, err := erc20.Transact(c.transactOpts(ctx, gasPrice, gasLimit, nil), "approve", c.router, math.MaxBig256)
	if err != nil {
		return fmt.Errorf("send approve: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"tx":    signed.Hash().Hex(),
		"token": token.Hex(),
	}).Info("router approval broadcast")

	if _, err := c.AwaitReceipt(ctx, signed.Hash(), timeout); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	return nil
}

// AwaitReceipt polls for the transaction receipt with exponential backoff.
// A cancelled context abandons the wait; the transaction itself stays live.
func (c *Client) AwaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)
	backoff := c.confirmPoll

	for time.Now().Before(deadline) {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%s: %w", hash.Hex(), ErrTxFailed)
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.WithError(err).WithField("tx", hash.Hex()).Debug("receipt lookup failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.confirmMaxPoll {
				backoff = c.confirmMaxPoll
			}
		}
	}

	return nil, fmt.Errorf("%s after %v: %w", hash.Hex(), timeout, ErrConfirmTimeout)
}

func (c *Client) transactOpts(ctx context.Context, gasPrice *big.Int, gasLimit uint64, value *big.Int) *bind.TransactOpts {
	opts := *c.auth
	opts.Context = ctx
	opts.Nonce = nil // pending nonce from the node
	opts.GasPrice = gasPrice
	opts.GasLimit = gasLimit
	opts.Value = value
	return &opts
}

// call packs, executes and unpacks a read-only contract call. Transport
// errors are retried with exponential backoff; reverts are returned at once.
func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
				"method":  method,
			}).Debug("retrying contract call")

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: %w", method, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", method, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.backend.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: input}, nil)
		cancel()
		if err != nil {
			if isRevert(err) {
				return nil, fmt.Errorf("%s: %w: %v", method, ErrReverted, err)
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s: %w", method, ctx.Err())
			}
			lastErr = err
			continue
		}
		if len(out) == 0 {
			// calls to an address without code return nothing
			return nil, fmt.Errorf("%s on %s: %w: empty return data", method, to.Hex(), ErrReverted)
		}

		vals, err := contract.Unpack(method, out)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		if len(vals) == 0 {
			return nil, fmt.Errorf("unpack %s: no values", method)
		}
		return vals, nil
	}

	return nil, fmt.Errorf("%s: max retries exceeded: %w", method, lastErr)
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

func asBigInt(method string, v any) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result %T", method, v)
	}
	return n, nil
}

func asBigInts(method string, v any) ([]*big.Int, error) {
	n, ok := v.([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result %T", method, v)
	}
	return n, nil
}
