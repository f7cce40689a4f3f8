package models

// LiquidityFlags mirrors the market.liquidity_flags mapping produced by the
// liquidity watchers. Any raised flag blocks execution in preflight.
type LiquidityFlags struct {
	LPRemoved bool `json:"lp_removed,omitempty"`
	Locked    bool `json:"locked,omitempty"`
	Burned    bool `json:"burned,omitempty"`
}

// Raised reports whether any blocking flag is set.
func (f *LiquidityFlags) Raised() bool {
	return f != nil && (f.LPRemoved || f.Locked || f.Burned)
}

// Candle is one OHLCV observation. Preflight only inspects the volume of
// the most recent candle.
type Candle struct {
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// HoneypotSignal carries the scanner verdict for a mint.
type HoneypotSignal struct {
	Score      float64 `json:"score"`
	IsHoneypot bool    `json:"is_honeypot,omitempty"`
}

// MarketContext is the market slice of a resolved intent context.
type MarketContext struct {
	LiquidityFlags *LiquidityFlags `json:"liquidity_flags,omitempty"`
	OHLCV          []Candle        `json:"ohlcv,omitempty"`
}

// RiskContext is the risk slice of a resolved intent context.
type RiskContext struct {
	BlacklistedTokens []string        `json:"blacklisted_tokens,omitempty"`
	Honeypot          *HoneypotSignal `json:"honeypot,omitempty"`
}

// IntentContext is the snapshot a context provider resolves for a mint
// before preflight and execution run against it.
type IntentContext struct {
	Mint          string                 `json:"mint"`
	WindowMinutes int                    `json:"window_minutes"`
	Market        MarketContext          `json:"market"`
	Risk          RiskContext            `json:"risk"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// Blacklisted reports whether the context mint is on the blacklist.
func (c *IntentContext) Blacklisted() bool {
	for _, t := range c.Risk.BlacklistedTokens {
		if t == c.Mint {
			return true
		}
	}
	return false
}

// LastCandle returns the most recent OHLCV observation, or nil when the
// window holds none.
func (c *IntentContext) LastCandle() *Candle {
	n := len(c.Market.OHLCV)
	if n == 0 {
		return nil
	}
	return &c.Market.OHLCV[n-1]
}

// Keys lists the resolved top-level context sections. Dry-run outcome rows
// record these so rehearsals show what data execution would have seen.
func (c *IntentContext) Keys() []string {
	keys := []string{"mint", "window_minutes"}
	if c.Market.LiquidityFlags != nil || len(c.Market.OHLCV) > 0 {
		keys = append(keys, "market")
	}
	if len(c.Risk.BlacklistedTokens) > 0 || c.Risk.Honeypot != nil {
		keys = append(keys, "risk")
	}
	for k := range c.Extra {
		keys = append(keys, "extra."+k)
	}
	return keys
}
