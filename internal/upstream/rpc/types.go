package rpc

import "strconv"

// Well-known program ids.
const (
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	SystemProgramID          = "11111111111111111111111111111111"
)

// TokenAmount mirrors the RPC token amount shape; Amount is a raw string.
type TokenAmount struct {
	Amount         string   `json:"amount"`
	Decimals       int      `json:"decimals"`
	UIAmountFloat  *float64 `json:"uiAmount"`
	UIAmountString string   `json:"uiAmountString"`
}

// UIAmount returns the balance in UI units.
func (a TokenAmount) UIAmount() float64 {
	if a.UIAmountFloat != nil {
		return *a.UIAmountFloat
	}
	if a.UIAmountString != "" {
		if f, err := strconv.ParseFloat(a.UIAmountString, 64); err == nil {
			return f
		}
	}
	raw, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return 0
	}
	div := 1.0
	for i := 0; i < a.Decimals; i++ {
		div *= 10
	}
	return raw / div
}

type parsedTokenInfo struct {
	Mint        string      `json:"mint"`
	Owner       string      `json:"owner"`
	TokenAmount TokenAmount `json:"tokenAmount"`
}

// ParsedTokenAccount is one SPL token account with a decoded balance.
type ParsedTokenAccount struct {
	Pubkey   string
	Mint     string
	Owner    string
	Amount   float64 // UI units
	Raw      string  // raw amount string
	Decimals int
}

// Asset is one DAS API asset entry (used for metadata and balances).
type Asset struct {
	ID      string `json:"id"` // mint
	Content struct {
		Metadata struct {
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
		} `json:"metadata"`
	} `json:"content"`
	TokenInfo struct {
		Symbol    string  `json:"symbol"`
		Decimals  int     `json:"decimals"`
		Balance   uint64  `json:"balance"`
		PriceInfo *struct {
			PricePerToken float64 `json:"price_per_token"`
			TotalPrice    float64 `json:"total_price"`
		} `json:"price_info"`
	} `json:"token_info"`
}

// Symbol returns the asset symbol from whichever section populated it.
func (a Asset) Symbol() string {
	if a.TokenInfo.Symbol != "" {
		return a.TokenInfo.Symbol
	}
	return a.Content.Metadata.Symbol
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      int64       `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// TokenBalance is one pre/post token balance of a parsed transaction.
type TokenBalance struct {
	AccountIndex int         `json:"accountIndex"`
	Mint         string      `json:"mint"`
	Owner        string      `json:"owner"`
	Amount       TokenAmount `json:"uiTokenAmount"`
}

// ParsedTransaction is the slice of getTransaction the tracker uses.
type ParsedTransaction struct {
	Signature string `json:"-"`
	Slot      int64  `json:"slot"`
	BlockTime int64  `json:"blockTime"`
	Meta      *struct {
		Err               interface{}    `json:"err"`
		Fee               uint64         `json:"fee"`
		LogMessages       []string       `json:"logMessages"`
		PreBalances       []uint64       `json:"preBalances"`
		PostBalances      []uint64       `json:"postBalances"`
		PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
		PostTokenBalances []TokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
				Signer bool   `json:"signer"`
			} `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// AccountKeys flattens the parsed account key list.
func (t *ParsedTransaction) AccountKeys() []string {
	keys := make([]string, 0, len(t.Transaction.Message.AccountKeys))
	for _, k := range t.Transaction.Message.AccountKeys {
		keys = append(keys, k.Pubkey)
	}
	return keys
}

// FeePayer returns the first signer, the transaction's initiating wallet.
func (t *ParsedTransaction) FeePayer() string {
	for _, k := range t.Transaction.Message.AccountKeys {
		if k.Signer {
			return k.Pubkey
		}
	}
	return ""
}

// AccountInfo is raw account data.
type AccountInfo struct {
	Data  string // base64 payload
	Owner string
}

// LargestAccount is one entry of getTokenLargestAccounts.
type LargestAccount struct {
	Address string `json:"address"`
	TokenAmount
}
