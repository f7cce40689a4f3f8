package consumer

import (
	"testing"

	"signalflow/models"
)

func healthyContext(mint string) *models.IntentContext {
	return &models.IntentContext{
		Mint: mint,
		Market: models.MarketContext{
			OHLCV: []models.Candle{{Timestamp: 1, Close: 1.5, Volume: 42}},
		},
	}
}

func TestPreflightPassesHealthyContext(t *testing.T) {
	ok, reason := Preflight(healthyContext("ABC"))
	if !ok || reason != ReasonOK {
		t.Fatalf("expected pass, got ok=%v reason=%q", ok, reason)
	}
}

func TestPreflightBlocksLiquidityFlags(t *testing.T) {
	cases := map[string]models.LiquidityFlags{
		"lp_removed": {LPRemoved: true},
		"locked":     {Locked: true},
		"burned":     {Burned: true},
	}
	for name, flags := range cases {
		ctx := healthyContext("ABC")
		f := flags
		ctx.Market.LiquidityFlags = &f
		ok, reason := Preflight(ctx)
		if ok || reason != ReasonLiquidityFlags {
			t.Fatalf("%s: expected %s, got ok=%v reason=%q", name, ReasonLiquidityFlags, ok, reason)
		}
	}
}

func TestPreflightBlocksBlacklistedMint(t *testing.T) {
	ctx := healthyContext("ABC")
	ctx.Risk.BlacklistedTokens = []string{"XYZ", "ABC"}
	ok, reason := Preflight(ctx)
	if ok || reason != ReasonBlacklisted {
		t.Fatalf("expected %s, got ok=%v reason=%q", ReasonBlacklisted, ok, reason)
	}
}

func TestPreflightBlocksHoneypot(t *testing.T) {
	ctx := healthyContext("ABC")
	ctx.Risk.Honeypot = &models.HoneypotSignal{Score: 0.8}
	if ok, reason := Preflight(ctx); ok || reason != ReasonHoneypot {
		t.Fatalf("score at threshold: expected %s, got ok=%v reason=%q", ReasonHoneypot, ok, reason)
	}

	ctx = healthyContext("ABC")
	ctx.Risk.Honeypot = &models.HoneypotSignal{Score: 0.1, IsHoneypot: true}
	if ok, reason := Preflight(ctx); ok || reason != ReasonHoneypot {
		t.Fatalf("flagged with low score: expected %s, got ok=%v reason=%q", ReasonHoneypot, ok, reason)
	}

	ctx = healthyContext("ABC")
	ctx.Risk.Honeypot = &models.HoneypotSignal{Score: 0.79}
	if ok, _ := Preflight(ctx); !ok {
		t.Fatal("score below threshold should pass")
	}
}

func TestPreflightBlocksZeroVolume(t *testing.T) {
	ctx := healthyContext("ABC")
	ctx.Market.OHLCV = []models.Candle{{Volume: 10}, {Volume: 0}}
	if ok, reason := Preflight(ctx); ok || reason != ReasonZeroVolume {
		t.Fatalf("expected %s, got ok=%v reason=%q", ReasonZeroVolume, ok, reason)
	}

	ctx.Market.OHLCV = nil
	if ok, reason := Preflight(ctx); ok || reason != ReasonZeroVolume {
		t.Fatalf("empty window: expected %s, got ok=%v reason=%q", ReasonZeroVolume, ok, reason)
	}
}

func TestPreflightOrderFirstFailureWins(t *testing.T) {
	ctx := healthyContext("ABC")
	ctx.Market.LiquidityFlags = &models.LiquidityFlags{Locked: true}
	ctx.Risk.BlacklistedTokens = []string{"ABC"}
	ctx.Market.OHLCV = nil
	if _, reason := Preflight(ctx); reason != ReasonLiquidityFlags {
		t.Fatalf("expected liquidity flags to win, got %q", reason)
	}
}
