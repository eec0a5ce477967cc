// Package decoder classifies raw feed messages into semantic events.
package decoder

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/registry"
)

// programDataMarker prefixes emitted-event log lines.
const programDataMarker = "Program data: "

// Decoder turns payloads into SemanticEvents using the pool registry for
// direction inference.
type Decoder struct {
	registry     *registry.Registry
	primaryMint  string // protocol token mint
	networkMint  string // wrapped network token mint
	now          func() time.Time
}

// New creates a decoder.
func New(reg *registry.Registry, primaryMint, networkMint string) *Decoder {
	return &Decoder{
		registry:    reg,
		primaryMint: primaryMint,
		networkMint: networkMint,
		now:         time.Now,
	}
}

// Decode runs the classification cascade. The result is never nil; frames
// that match nothing come back as EventUnknown, which fan-out drops.
func (d *Decoder) Decode(p Payload) *domain.SemanticEvent {
	ev := &domain.SemanticEvent{
		Kind:      domain.EventUnknown,
		Sig:       p.Signature(),
		PoolID:    p.Str(aliasPool),
		Wallet:    p.Str(aliasWallet),
		Timestamp: d.timestamp(p),
	}
	d.fillAmounts(ev, p)

	// 1. Explicit label.
	if kind, name, ok := classifyLabel(p.Str(aliasLabel)); ok {
		ev.Kind = kind
		ev.EventName = name
		ev.Confidence = domain.ConfidenceHigh
		d.finish(ev, p)
		return ev
	}

	// 2. Instruction discriminator.
	if data := decodeBlob(p.Str(aliasData)); len(data) >= 8 {
		if entry, ok := LookupInstruction(data); ok {
			ev.Kind = entry.Kind
			ev.EventName = entry.Name
			ev.Confidence = domain.ConfidenceHigh
			d.finish(ev, p)
			return ev
		}
	}

	// 3. Event-log discriminator.
	for _, line := range p.Strs(aliasLogs) {
		idx := strings.Index(line, programDataMarker)
		if idx < 0 {
			continue
		}
		blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[idx+len(programDataMarker):]))
		if err != nil || len(blob) < 8 {
			continue
		}
		if entry, ok := LookupEvent(blob); ok {
			ev.Kind = entry.Kind
			ev.EventName = entry.Name
			ev.Confidence = domain.ConfidenceHigh
			d.finish(ev, p)
			return ev
		}
	}

	// 4. Heuristics.
	if _, ok := p.U64(aliasShareMint); ok {
		ev.Kind = domain.EventLpAdd
		ev.Confidence = domain.ConfidenceMedium
		d.finish(ev, p)
		return ev
	}
	if _, ok := p.U64(aliasShareBurn); ok {
		ev.Kind = domain.EventLpRemove
		ev.Confidence = domain.ConfidenceMedium
		d.finish(ev, p)
		return ev
	}
	if ev.AmountIn > 0 && ev.AmountOut > 0 && ev.MintIn != "" && ev.MintOut != "" && ev.MintIn != ev.MintOut {
		ev.Kind = domain.EventSwap
		ev.Confidence = domain.ConfidenceMedium
		d.finish(ev, p)
		return ev
	}
	baseAmt, hasBase := p.U64(aliasBaseAmt)
	quoteAmt, hasQuote := p.U64(aliasQuoteAmt)
	if hasBase && hasQuote {
		if outflow, ok := p.Bool(aliasOutflow); ok && outflow {
			ev.Kind = domain.EventLpRemove
		} else {
			ev.Kind = domain.EventLpAdd
		}
		ev.AmountIn = baseAmt
		ev.AmountOut = quoteAmt
		ev.Confidence = domain.ConfidenceMedium
		d.finish(ev, p)
		return ev
	}

	// 5. Bare trade-side tag.
	if side := normalizeSide(p.Str(aliasSide)); side != domain.DirectionNone {
		ev.Kind = domain.EventSwap
		ev.Direction = side
		ev.Confidence = domain.ConfidenceLow
		d.finish(ev, p)
		return ev
	}

	return ev
}

// DecodeLogs classifies a parsed transaction from its log lines alone.
func (d *Decoder) DecodeLogs(sig string, logs []string, accounts []string, blockTime int64) *domain.SemanticEvent {
	p := Payload{"signature": sig}
	rawLogs := make([]interface{}, len(logs))
	for i, l := range logs {
		rawLogs[i] = l
	}
	p["logs"] = rawLogs
	if blockTime > 0 {
		p["blockTime"] = float64(blockTime)
	}

	ev := d.Decode(p)
	if ev.PoolID == "" {
		// Recover the pool from the account list when the registry knows it.
		snap := d.registry.Snapshot()
		for _, acc := range accounts {
			if _, ok := snap.ByID[acc]; ok {
				ev.PoolID = acc
				break
			}
		}
	}
	return ev
}

// finish applies direction inference and normalizes swap/LP fields.
func (d *Decoder) finish(ev *domain.SemanticEvent, p Payload) {
	if usd, ok := p.F64(aliasUSD); ok && usd > 0 {
		ev.USDValue = usd
	}
	if ev.Kind == domain.EventLpAdd || ev.Kind == domain.EventLpRemove {
		// LP messages carry base/quote legs instead of in/out legs.
		if ev.AmountIn == 0 {
			ev.AmountIn, _ = p.U64(aliasBaseAmt)
		}
		if ev.AmountOut == 0 {
			ev.AmountOut, _ = p.U64(aliasQuoteAmt)
		}
		return
	}
	if ev.Kind != domain.EventSwap {
		return
	}
	if side := normalizeSide(p.Str(aliasSide)); side != domain.DirectionNone {
		ev.Direction = side
		return
	}
	ev.Direction = d.inferDirection(ev)
}

// inferDirection compares the swap legs against the pool's base/quote and
// the protocol token. Precedence: quote→base = buy, base→quote =
// sell, out=protocol token = buy, in=protocol token = sell.
func (d *Decoder) inferDirection(ev *domain.SemanticEvent) domain.Direction {
	var pool *domain.Pool
	if ev.PoolID != "" && d.registry != nil {
		pool = d.registry.Get(ev.PoolID)
	}

	if pool != nil && ev.MintIn != "" && ev.MintOut != "" {
		if ev.MintIn == pool.QuoteMint && ev.MintOut == pool.BaseMint {
			return domain.DirectionBuy
		}
		if ev.MintIn == pool.BaseMint && ev.MintOut == pool.QuoteMint {
			return domain.DirectionSell
		}
	}
	if ev.MintOut != "" && ev.MintOut == d.primaryMint {
		return domain.DirectionBuy
	}
	if ev.MintIn != "" && ev.MintIn == d.primaryMint {
		return domain.DirectionSell
	}
	return domain.DirectionNone
}

func (d *Decoder) fillAmounts(ev *domain.SemanticEvent, p Payload) {
	ev.AmountIn, _ = p.U64(aliasAmountIn)
	ev.AmountOut, _ = p.U64(aliasAmountOut)
	ev.MintIn = p.Str(aliasMintIn)
	ev.MintOut = p.Str(aliasMintOut)
	if dec, ok := p.F64(aliasDecIn); ok {
		ev.DecimalsIn = int(dec)
	} else {
		ev.DecimalsIn = -1 // unknown, valuation falls back to metadata
	}
	if dec, ok := p.F64(aliasDecOut); ok {
		ev.DecimalsOut = int(dec)
	} else {
		ev.DecimalsOut = -1
	}
}

func (d *Decoder) timestamp(p Payload) int64 {
	ts, ok := p.F64(aliasTimestamp)
	if !ok || ts <= 0 {
		return d.now().UnixMilli()
	}
	// Seconds vs milliseconds: block times are seconds since epoch.
	if ts < 1e12 {
		return int64(ts) * 1000
	}
	return int64(ts)
}

// classifyLabel matches an explicit type/action label against the known
// instruction and event names. Matching is on whole underscore-separated
// tokens, so "unlock_liquidity" never matches "lock_liquidity".
func classifyLabel(label string) (domain.EventKind, string, bool) {
	tokens := tokenize(label)
	if len(tokens) == 0 {
		return domain.EventUnknown, "", false
	}
	for _, name := range orderedInstructionNames {
		if containsTokens(tokens, tokenize(name)) {
			return instructionNames[name], name, true
		}
	}
	for _, name := range orderedEventNames {
		if containsTokens(tokens, tokenize(name)) {
			return eventNames[name], name, true
		}
	}
	// Common feed shorthand not covered by on-chain names.
	switch {
	case containsTokens(tokens, []string{"trade"}):
		return domain.EventSwap, "", true
	case containsTokens(tokens, []string{"buy"}), containsTokens(tokens, []string{"sell"}):
		return domain.EventSwap, "", true
	}
	return domain.EventUnknown, "", false
}

// tokenize lower-cases and splits a label on non-alphanumeric boundaries
// and camelCase humps.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			flush()
			cur.WriteRune(r)
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// containsTokens reports whether needle occurs as a contiguous subsequence
// of haystack.
func containsTokens(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// normalizeSide parses an explicit trade side.
func normalizeSide(s string) domain.Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b":
		return domain.DirectionBuy
	case "sell", "s":
		return domain.DirectionSell
	default:
		return domain.DirectionNone
	}
}

// decodeBlob decodes instruction data given as base64 or hex.
func decodeBlob(s string) []byte {
	if s == "" {
		return nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil {
		return b
	}
	return nil
}
