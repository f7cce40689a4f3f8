package models

import "testing"

func TestLiquidityFlagsRaised(t *testing.T) {
	var nilFlags *LiquidityFlags
	if nilFlags.Raised() {
		t.Fatal("nil flags must not be raised")
	}
	if (&LiquidityFlags{}).Raised() {
		t.Fatal("empty flags must not be raised")
	}
	for _, f := range []LiquidityFlags{{LPRemoved: true}, {Locked: true}, {Burned: true}} {
		ff := f
		if !ff.Raised() {
			t.Fatalf("expected raised for %+v", f)
		}
	}
}

func TestBlacklistedMatchesMintOnly(t *testing.T) {
	ctx := IntentContext{Mint: "ABC", Risk: RiskContext{BlacklistedTokens: []string{"XYZ"}}}
	if ctx.Blacklisted() {
		t.Fatal("unrelated blacklist entry must not block")
	}
	ctx.Risk.BlacklistedTokens = append(ctx.Risk.BlacklistedTokens, "ABC")
	if !ctx.Blacklisted() {
		t.Fatal("expected blacklist match")
	}
}

func TestLastCandle(t *testing.T) {
	ctx := IntentContext{}
	if ctx.LastCandle() != nil {
		t.Fatal("empty window has no last candle")
	}
	ctx.Market.OHLCV = []Candle{{Volume: 1}, {Volume: 7}}
	last := ctx.LastCandle()
	if last == nil || last.Volume != 7 {
		t.Fatalf("unexpected last candle: %+v", last)
	}
}

func TestContextKeysReflectResolvedSections(t *testing.T) {
	ctx := IntentContext{Mint: "ABC", WindowMinutes: 60}
	keys := ctx.Keys()
	if len(keys) != 2 {
		t.Fatalf("bare context should expose 2 keys, got %v", keys)
	}

	ctx.Market.OHLCV = []Candle{{Volume: 1}}
	ctx.Risk.Honeypot = &HoneypotSignal{Score: 0.1}
	ctx.Extra = map[string]interface{}{"social": true}
	keys = ctx.Keys()
	want := map[string]bool{"mint": true, "window_minutes": true, "market": true, "risk": true, "extra.social": true}
	if len(keys) != len(want) {
		t.Fatalf("unexpected keys: %v", keys)
	}
	for _, k := range keys {
		if !want[k] {
			t.Fatalf("unexpected key %q in %v", k, keys)
		}
	}
}
