package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Mode selects whether the trading loop stops after one cycle or keeps going.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeContinuous Mode = "continuous"
)

// TradingConfig is the immutable snapshot the trading loop runs against.
// Amounts are in the smallest unit of the token (wei for 18-decimal tokens).
type TradingConfig struct {
	QuoteToken          common.Address // token paid in (wrapped native, e.g. WBNB)
	BaseToken           common.Address // token being acquired
	TradeAmount         *big.Int
	SlippageDenominator uint64 // 0 disables the bound
	GasPrice            *big.Int
	GasLimit            uint64
	MinLiquidity        *big.Int
	TradeInterval       time.Duration
	WalletMin           *big.Int
	Recipient           common.Address // defaults to the signing wallet
	Mode                Mode
	QuoteIsNative       bool

	BuyDelay        time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	DeadlineWindow  time.Duration
}

// BuyPath is quote -> base; SellPath is the reverse.
func (t TradingConfig) BuyPath() []common.Address {
	return []common.Address{t.QuoteToken, t.BaseToken}
}

func (t TradingConfig) SellPath() []common.Address {
	return []common.Address{t.BaseToken, t.QuoteToken}
}

type Config struct {
	// Chain
	RPCURL         string
	ChainID        int64 // 0 asks the node
	FactoryAddress common.Address
	RouterAddress  common.Address
	RPCTimeout     time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	RPCRateLimit   float64 // read calls per second
	RPCRateBurst   int
	ConfirmTimeout time.Duration
	ExplorerTxURL  string

	// Wallet (one of the two)
	WalletPrivateKey string
	WalletMnemonic   string

	// Redis settings
	RedisAddr string

	// ClickHouse settings
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	// Postgres trade journal
	PostgresDSN string

	// Status API
	APIAddr          string
	APIKey           string
	DevMode          bool
	MetricsNamespace string

	LogLevel string

	Trading TradingConfig
}

// Load reads configuration from the environment. When CONFIG_FILE points to
// a YAML file its keys act as defaults that environment variables override.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		// Chain
		RPCURL:         src.str("WSS_NODE", src.str("RPC_URL", "")),
		ChainID:        int64(src.integer("CHAIN_ID", 0)),
		RPCTimeout:     src.duration("RPC_TIMEOUT", 30*time.Second),
		MaxRetries:     src.integer("MAX_RETRIES", 3),
		RetryBackoff:   src.duration("RETRY_BACKOFF", time.Second),
		RPCRateLimit:   src.float("RPC_RATE_LIMIT", 20),
		RPCRateBurst:   src.integer("RPC_RATE_BURST", 5),
		ConfirmTimeout: src.duration("CONFIRM_TIMEOUT", 2*time.Minute),
		ExplorerTxURL:  src.str("EXPLORER_TX_URL", "https://www.bscscan.com/tx/"),

		// Wallet
		WalletPrivateKey: src.str("WALLET_PRIVATE_KEY", ""),
		WalletMnemonic:   src.str("YOUR_MNEMONIC", ""),

		// Redis
		RedisAddr: src.str("REDIS_ADDR", ""),

		// ClickHouse
		ClickHouseAddr:     src.str("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: src.str("CLICKHOUSE_DATABASE", "sniper"),
		ClickHouseUsername: src.str("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: src.str("CLICKHOUSE_PASSWORD", ""),

		// Postgres
		PostgresDSN: src.str("POSTGRES_DSN", ""),

		// API
		APIAddr:          src.str("API_ADDR", ""),
		APIKey:           src.str("API_KEY", ""),
		DevMode:          src.boolean("DEV_MODE", false),
		MetricsNamespace: src.str("METRICS_NAMESPACE", "pair_sniper"),

		LogLevel: src.str("LOG_LEVEL", "info"),
	}

	var errs []string
	addr := func(key string, dst *common.Address) {
		v := src.str(key, "")
		if v == "" {
			return
		}
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("%s: not a hex address", key))
			return
		}
		*dst = common.HexToAddress(v)
	}
	amount := func(key, def string, shift int32) *big.Int {
		v, err := parseUnits(src.str(key, def), shift)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return new(big.Int)
		}
		return v
	}
	count := func(key string, def int) uint64 {
		v := src.integer(key, def)
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s: must not be negative", key))
			return 0
		}
		return uint64(v)
	}

	t := &cfg.Trading
	addr("FACTORY", &cfg.FactoryAddress)
	addr("ROUTER", &cfg.RouterAddress)
	addr("BNB_CONTRACT", &t.QuoteToken)
	addr("TO_PURCHASE", &t.BaseToken)
	addr("YOUR_ADDRESS", &t.Recipient)

	t.TradeAmount = amount("AMOUNT_OF_BNB", "0", 18)
	t.MinLiquidity = amount("MIN_LIQUIDITY_ADDED", "0", 18)
	t.WalletMin = amount("WALLET_MIN", "0", 18)
	t.GasPrice = amount("GWEI", "5", 9)
	t.GasLimit = count("GAS_LIMIT", 500000)
	t.SlippageDenominator = count("SLIPPAGE", 0)
	t.TradeInterval = time.Duration(src.integer("TRADE_INTERVAL", 60)) * time.Second
	t.Mode = Mode(strings.ToLower(src.str("LOOP_MODE", string(ModeSingle))))
	t.QuoteIsNative = src.boolean("QUOTE_IS_NATIVE", true)
	t.BuyDelay = src.duration("BUY_DELAY", 3*time.Second)
	t.PollInterval = src.duration("POLL_INTERVAL", 500*time.Millisecond)
	t.MaxPollInterval = src.duration("MAX_POLL_INTERVAL", 10*time.Second)
	t.DeadlineWindow = src.duration("DEADLINE_WINDOW", 5*time.Minute)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate checks the fields the sniper cannot run without.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("WSS_NODE or RPC_URL is required")
	}
	if c.FactoryAddress == (common.Address{}) {
		return fmt.Errorf("FACTORY is required")
	}
	if c.RouterAddress == (common.Address{}) {
		return fmt.Errorf("ROUTER is required")
	}
	if c.WalletPrivateKey == "" && c.WalletMnemonic == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY or YOUR_MNEMONIC is required")
	}
	return c.Trading.Validate()
}

func (t TradingConfig) Validate() error {
	switch {
	case t.QuoteToken == (common.Address{}):
		return fmt.Errorf("BNB_CONTRACT is required")
	case t.BaseToken == (common.Address{}):
		return fmt.Errorf("TO_PURCHASE is required")
	case t.QuoteToken == t.BaseToken:
		return fmt.Errorf("BNB_CONTRACT and TO_PURCHASE must differ")
	case t.TradeAmount == nil || t.TradeAmount.Sign() <= 0:
		return fmt.Errorf("AMOUNT_OF_BNB must be > 0")
	case t.GasLimit == 0:
		return fmt.Errorf("GAS_LIMIT must be > 0")
	case t.Mode != ModeSingle && t.Mode != ModeContinuous:
		return fmt.Errorf("LOOP_MODE must be %q or %q", ModeSingle, ModeContinuous)
	case t.PollInterval <= 0 || t.MaxPollInterval < t.PollInterval:
		return fmt.Errorf("POLL_INTERVAL must be > 0 and <= MAX_POLL_INTERVAL")
	case t.DeadlineWindow <= 0:
		return fmt.Errorf("DEADLINE_WINDOW must be > 0")
	}
	return nil
}

// parseUnits converts a human decimal amount into an integer scaled by 10^shift.
// Digits beyond the scale are truncated.
func parseUnits(s string, shift int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("not a decimal: %q", s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("must not be negative")
	}
	return d.Shift(shift).BigInt(), nil
}

// FormatUnits renders an integer amount scaled by 10^decimals as a decimal string.
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
