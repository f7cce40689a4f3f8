package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Intent kinds as they appear in the intent journal.
const (
	IntentKindToken = "TOKEN"
	IntentKindNFT   = "NFT"
)

// Intent modes. AUTO and AGGRESSIVE_BUY resolve to the buy side.
const (
	ModeBuy           = "BUY"
	ModeSell          = "SELL"
	ModeAggressiveBuy = "AGGRESSIVE_BUY"
	ModeAuto          = "AUTO"
)

const intentIDKey = "_id"

// Intent is one record of the durable intent journal. Producers append
// arbitrary context alongside the well-known fields, so the record is kept
// as a raw mapping rather than a fixed struct; accessors normalise the
// fields the consumer cares about.
type Intent map[string]interface{}

// ParseIntent decodes a single journal line.
func ParseIntent(line []byte) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(line, &in); err != nil {
		return nil, err
	}
	return in, nil
}

// ID returns the intent's identity hash, or "" when not yet assigned.
func (in Intent) ID() string {
	id, _ := in[intentIDKey].(string)
	return id
}

// EnsureID assigns the content hash as the intent id when absent and
// returns the id in effect. Replays of the same logical intent collapse
// to the same id, which is what downstream idempotency checks key on.
func (in Intent) EnsureID() string {
	if id := in.ID(); id != "" {
		return id
	}
	id := in.ContentHash()
	in[intentIDKey] = id
	return id
}

// ContentHash computes the deterministic sha256 of the canonicalised
// record, excluding any already-assigned id. encoding/json writes map keys
// in sorted order at every nesting level, so marshalling the raw mapping
// is itself the canonical form.
func (in Intent) ContentHash() string {
	body := make(map[string]interface{}, len(in))
	for k, v := range in {
		if k == intentIDKey {
			continue
		}
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		// Journal lines were JSON to begin with, so re-marshalling the
		// decoded value cannot fail; guard anyway.
		raw = []byte{}
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Kind returns TOKEN or NFT, defaulting to TOKEN.
func (in Intent) Kind() string {
	kind, _ := in["type"].(string)
	if strings.EqualFold(kind, IntentKindNFT) {
		return IntentKindNFT
	}
	return IntentKindToken
}

// Mode returns the normalised trade mode, defaulting to BUY.
func (in Intent) Mode() string {
	mode, _ := in["mode"].(string)
	mode = strings.ToUpper(mode)
	switch mode {
	case ModeBuy, ModeSell, ModeAggressiveBuy, ModeAuto:
		return mode
	}
	return ModeBuy
}

// Side maps the mode onto a buy/sell execution side.
func (in Intent) Side() string {
	if in.Mode() == ModeSell {
		return "sell"
	}
	return "buy"
}

// Mint returns the token mint or NFT target address.
func (in Intent) Mint() string {
	mint, _ := in["mint"].(string)
	return mint
}
