package decoder

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Payload wraps one raw upstream message. Upstream field names vary between
// camelCase, snake_case and abbreviations, so every accessor goes through
// an alias list instead of a fixed struct.
type Payload map[string]interface{}

// ParsePayload decodes a raw JSON frame into a Payload.
func ParsePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Field alias tables. Order matters: the first populated alias wins.
var (
	aliasSig       = []string{"signature", "sig", "txSignature", "tx_signature", "txHash", "tx_hash", "txId", "tx_id"}
	aliasLabel     = []string{"type", "event_name", "eventName", "action", "instruction_name", "instructionName"}
	aliasPool      = []string{"pool", "poolId", "pool_id", "pair", "pairAddress", "pair_address", "lbPair", "lb_pair"}
	aliasWallet    = []string{"wallet", "owner", "user", "trader", "walletAddress", "wallet_address", "maker", "feePayer", "fee_payer"}
	aliasSide      = []string{"side", "tradeType", "trade_type", "direction"}
	aliasAmountIn  = []string{"amountIn", "amount_in", "inAmount", "in_amount"}
	aliasAmountOut = []string{"amountOut", "amount_out", "outAmount", "out_amount"}
	aliasMintIn    = []string{"mintIn", "mint_in", "inputMint", "input_mint", "tokenIn", "token_in"}
	aliasMintOut   = []string{"mintOut", "mint_out", "outputMint", "output_mint", "tokenOut", "token_out"}
	aliasDecIn     = []string{"decimalsIn", "decimals_in", "inDecimals", "in_decimals"}
	aliasDecOut    = []string{"decimalsOut", "decimals_out", "outDecimals", "out_decimals"}
	aliasUSD       = []string{"usdValue", "usd_value", "valueUsd", "value_usd", "usd", "value"}
	aliasData      = []string{"instructionData", "instruction_data", "data"}
	aliasLogs      = []string{"logs", "logMessages", "log_messages"}
	aliasTimestamp = []string{"timestamp", "blockTime", "block_time", "ts", "time"}
	aliasBaseAmt   = []string{"baseAmount", "base_amount", "amountBase", "amount_base", "amountX", "amount_x"}
	aliasQuoteAmt  = []string{"quoteAmount", "quote_amount", "amountQuote", "amount_quote", "amountY", "amount_y"}
	aliasShareMint = []string{"sharesMinted", "shares_minted"}
	aliasShareBurn = []string{"sharesBurned", "shares_burned"}
	aliasOutflow   = []string{"isWithdrawal", "is_withdrawal", "isRemove", "is_remove", "outflow"}
	aliasAccounts  = []string{"accounts", "accountKeys", "account_keys"}
)

// first returns the first alias present in the payload, descending one
// level into a nested "trade", "event" or "payload" object when the top
// level misses.
func (p Payload) first(aliases []string) (interface{}, bool) {
	for _, a := range aliases {
		if v, ok := p[a]; ok && v != nil {
			return v, true
		}
	}
	for _, nested := range []string{"trade", "event", "payload"} {
		inner, ok := p[nested].(map[string]interface{})
		if !ok {
			continue
		}
		for _, a := range aliases {
			if v, ok := inner[a]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

// Str returns the first string-valued alias.
func (p Payload) Str(aliases []string) string {
	v, ok := p.first(aliases)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// F64 returns the first numeric alias; numeric strings are accepted.
func (p Payload) F64(aliases []string) (float64, bool) {
	v, ok := p.first(aliases)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// U64 returns the first integral alias.
func (p Payload) U64(aliases []string) (uint64, bool) {
	f, ok := p.F64(aliases)
	if !ok || f < 0 {
		return 0, false
	}
	return uint64(f), true
}

// Strs returns the first string-slice alias.
func (p Payload) Strs(aliases []string) []string {
	v, ok := p.first(aliases)
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Bool returns the first boolean alias; "true"/"false" strings count.
func (p Payload) Bool(aliases []string) (bool, bool) {
	v, ok := p.first(aliases)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		return strings.EqualFold(b, "true"), true
	}
	return false, false
}

// Signature returns the dedup key, reaching into nested trade objects.
func (p Payload) Signature() string { return p.Str(aliasSig) }

// IsHeartbeat reports whether the frame is a keepalive to be dropped.
func (p Payload) IsHeartbeat() bool {
	label := strings.ToLower(p.Str(aliasLabel))
	return label == "ping" || label == "pong" || label == "heartbeat"
}
