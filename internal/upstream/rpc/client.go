// Package rpc is the JSON-RPC client for the chain aggregator
// (balances, signatures, parsed transactions, token metadata).
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Provider id used for rate limiting and health tracking.
const Provider = "rpc"

type jsonClient interface {
	PostJSON(ctx context.Context, provider, url string, body interface{}, headers map[string]string, out interface{}) error
}

// Client issues JSON-RPC 2.0 calls against the aggregator endpoint.
type Client struct {
	endpoint  string
	apiKey    string // optional, appended as query parameter
	http      jsonClient
	requestID atomic.Uint64
}

// NewClient creates an RPC client. apiKey may be empty.
func NewClient(endpoint, apiKey string, http jsonClient) *Client {
	return &Client{endpoint: endpoint, apiKey: apiKey, http: http}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func (c *Client) url() string {
	if c.apiKey == "" {
		return c.endpoint
	}
	return c.endpoint + "?api-key=" + c.apiKey
}

// call performs one JSON-RPC call and unmarshals result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	var resp rpcResponse
	if err := c.http.PostJSON(ctx, Provider, c.url(), req, nil, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// GetBalance returns the lamport balance for an address.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	var out struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{address}, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// GetTokenSupply returns the total supply of a mint in UI units.
func (c *Client) GetTokenSupply(ctx context.Context, mint string) (*TokenAmount, error) {
	var out struct {
		Value TokenAmount `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []interface{}{mint}, &out); err != nil {
		return nil, err
	}
	return &out.Value, nil
}

// GetTokenAccountBalance returns a token account's balance.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error) {
	var out struct {
		Value TokenAmount `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccountBalance", []interface{}{account}, &out); err != nil {
		return nil, err
	}
	return &out.Value, nil
}

// GetSignaturesForAddress returns up to limit recent signatures for address.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	params := []interface{}{
		address,
		map[string]interface{}{"limit": limit},
	}
	var out []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetParsedTokenAccountsByOwner returns all SPL token accounts of an owner.
func (c *Client) GetParsedTokenAccountsByOwner(ctx context.Context, owner string) ([]ParsedTokenAccount, error) {
	params := []interface{}{
		owner,
		map[string]string{"programId": TokenProgramID},
		map[string]string{"encoding": "jsonParsed"},
	}
	var out struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data struct {
					Parsed struct {
						Info parsedTokenInfo `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &out); err != nil {
		return nil, err
	}

	accounts := make([]ParsedTokenAccount, 0, len(out.Value))
	for _, v := range out.Value {
		info := v.Account.Data.Parsed.Info
		accounts = append(accounts, ParsedTokenAccount{
			Pubkey:   v.Pubkey,
			Mint:     info.Mint,
			Owner:    info.Owner,
			Amount:   info.TokenAmount.UIAmount(),
			Raw:      info.TokenAmount.Amount,
			Decimals: info.TokenAmount.Decimals,
		})
	}
	return accounts, nil
}

// GetAssetsByOwner returns fungible assets of an owner via the DAS API.
func (c *Client) GetAssetsByOwner(ctx context.Context, owner string, limit int) ([]Asset, error) {
	params := []interface{}{
		map[string]interface{}{
			"ownerAddress": owner,
			"page":         1,
			"limit":        limit,
			"displayOptions": map[string]bool{
				"showFungible": true,
			},
		},
	}
	var out struct {
		Items []Asset `json:"items"`
	}
	if err := c.call(ctx, "getAssetsByOwner", params, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetAssetBatch fetches metadata for up to 1000 mints in one call.
func (c *Client) GetAssetBatch(ctx context.Context, mints []string) ([]Asset, error) {
	params := []interface{}{
		map[string]interface{}{"ids": mints},
	}
	var out []Asset
	if err := c.call(ctx, "getAssetBatch", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransaction fetches a parsed transaction by signature.
// Returns nil when the transaction is unknown.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"maxSupportedTransactionVersion": 0,
		},
	}
	var out ParsedTransaction
	if err := c.call(ctx, "getTransaction", params, &out); err != nil {
		return nil, err
	}
	if out.Slot == 0 && out.BlockTime == 0 {
		return nil, nil
	}
	out.Signature = signature
	return &out, nil
}

// GetAccountInfo fetches raw account data (base64).
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := []interface{}{
		address,
		map[string]string{"encoding": "base64"},
	}
	var out struct {
		Value *struct {
			Data  []string `json:"data"` // [payload, encoding]
			Owner string   `json:"owner"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getAccountInfo", params, &out); err != nil {
		return nil, err
	}
	if out.Value == nil {
		return nil, nil
	}
	info := &AccountInfo{Owner: out.Value.Owner}
	if len(out.Value.Data) > 0 {
		info.Data = out.Value.Data[0]
	}
	return info, nil
}

// GetTokenLargestAccounts returns the largest token accounts of a mint.
func (c *Client) GetTokenLargestAccounts(ctx context.Context, mint string) ([]LargestAccount, error) {
	var out struct {
		Value []LargestAccount `json:"value"`
	}
	if err := c.call(ctx, "getTokenLargestAccounts", []interface{}{mint}, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}
