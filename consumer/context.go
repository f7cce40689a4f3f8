package consumer

import (
	"time"

	"signalflow/internal/bus"
	"signalflow/models"
)

// Bus topics the context provider reads market and risk state from.
// The firehose listener routes packets onto these by payload type.
const (
	TopicOHLCV     = "ohlcv"
	TopicLiquidity = "liquidity"
	TopicRisk      = "risk"
)

// ContextProvider resolves the market/risk snapshot preflight and
// execution run against for one mint.
type ContextProvider interface {
	BuildContext(mint string, windowMinutes int) (*models.IntentContext, error)
}

// BusContextProvider builds intent contexts from recent bus history.
// It never errors; a mint with no published state yields an empty
// context, which preflight then blocks on zero volume.
type BusContextProvider struct {
	bus   *bus.Bus
	depth int
	now   func() time.Time
}

func NewBusContextProvider(b *bus.Bus, depth int) *BusContextProvider {
	if depth <= 0 {
		depth = 2000
	}
	return &BusContextProvider{bus: b, depth: depth, now: time.Now}
}

func (p *BusContextProvider) BuildContext(mint string, windowMinutes int) (*models.IntentContext, error) {
	cutoff := p.now().Add(-time.Duration(windowMinutes) * time.Minute)
	ctx := &models.IntentContext{Mint: mint, WindowMinutes: windowMinutes}

	for _, ev := range p.bus.Recent(TopicOHLCV, p.depth) {
		if asString(ev.Payload["mint"]) != mint || ev.Timestamp.Before(cutoff) {
			continue
		}
		ctx.Market.OHLCV = append(ctx.Market.OHLCV, models.Candle{
			Timestamp: int64(asFloat(ev.Payload["ts"])),
			Open:      asFloat(ev.Payload["open"]),
			High:      asFloat(ev.Payload["high"]),
			Low:       asFloat(ev.Payload["low"]),
			Close:     asFloat(ev.Payload["close"]),
			Volume:    candleVolume(ev.Payload),
		})
	}

	// most recent liquidity observation for the mint wins
	for _, ev := range p.bus.Recent(TopicLiquidity, p.depth) {
		if asString(ev.Payload["mint"]) != mint || ev.Timestamp.Before(cutoff) {
			continue
		}
		ctx.Market.LiquidityFlags = &models.LiquidityFlags{
			LPRemoved: asBool(ev.Payload["lp_removed"]),
			Locked:    asBool(ev.Payload["locked"]),
			Burned:    asBool(ev.Payload["burned"]),
		}
	}

	for _, ev := range p.bus.Recent(TopicRisk, p.depth) {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		if tokens, ok := ev.Payload["blacklisted_tokens"].([]interface{}); ok {
			for _, t := range tokens {
				ctx.Risk.BlacklistedTokens = append(ctx.Risk.BlacklistedTokens, asString(t))
			}
		}
		if asString(ev.Payload["mint"]) != mint {
			continue
		}
		if score, ok := ev.Payload["honeypot_score"]; ok {
			ctx.Risk.Honeypot = &models.HoneypotSignal{
				Score:      asFloat(score),
				IsHoneypot: asBool(ev.Payload["is_honeypot"]),
			}
		}
	}

	return ctx, nil
}

// candleVolume accepts both the long and short volume field names used
// by upstream candle producers.
func candleVolume(payload map[string]interface{}) float64 {
	if v, ok := payload["volume"]; ok {
		return asFloat(v)
	}
	return asFloat(payload["v"])
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
}
