package consumer

import "signalflow/models"

// Honeypot scores at or above this value block execution.
const honeypotScoreThreshold = 0.8

// Preflight block reasons written to the executed journal.
const (
	ReasonLiquidityFlags = "liquidity_flags_block"
	ReasonBlacklisted    = "blacklisted_token"
	ReasonHoneypot       = "honeypot_risk"
	ReasonZeroVolume     = "zero_volume_last_candle"
	ReasonOK             = "ok"
)

// Preflight is the synchronous safety gate run before any execution
// side effect. It returns false plus the block reason when the
// resolved context disqualifies the intent, and true with "ok"
// otherwise. Checks run in fixed order and the first failure wins.
func Preflight(ctx *models.IntentContext) (bool, string) {
	if ctx.Market.LiquidityFlags.Raised() {
		return false, ReasonLiquidityFlags
	}
	if ctx.Blacklisted() {
		return false, ReasonBlacklisted
	}
	if hp := ctx.Risk.Honeypot; hp != nil {
		if hp.Score >= honeypotScoreThreshold || hp.IsHoneypot {
			return false, ReasonHoneypot
		}
	}
	if last := ctx.LastCandle(); last == nil || last.Volume <= 0 {
		return false, ReasonZeroVolume
	}
	return true, ReasonOK
}
