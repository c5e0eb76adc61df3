package constants

import "time"

// Redis keys
const (
	RedisKeyRecentTrades = "sniper:trades:recent"
	RedisKeyStatePrefix  = "sniper:state:"
)

// Redis Pub/Sub channels
const (
	PubSubChannelTrades = "sniper:trades:live"
	PubSubChannelPhase  = "sniper:phase"
)

// Operator pause record consulted before committing to a buy, and its
// audit trail.
const (
	RedisKeyPause        = "sniper:pause"
	RedisKeyPauseHistory = "sniper:pause:history"
)

// Limits
const (
	MaxRecentTrades = 200
	MaxPauseHistory = 100
)

// Pool fee as numerator/denominator of the input. Uniswap V2 takes 0.3%;
// PancakeSwap V2 takes 25/10000.
const (
	DefaultFeeNumerator   = 3
	DefaultFeeDenominator = 1000
)

// Deadline added to every swap.
const DefaultDeadlineWindow = 5 * time.Minute

// Dex labels recorded on trade events.
const (
	DexUniswapV2 = "UniswapV2"
	DexSimulated = "Simulated"
)
