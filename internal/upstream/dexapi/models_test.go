package dexapi

import (
	"encoding/json"
	"testing"
)

func TestDecodePoolList_Envelopes(t *testing.T) {
	root := json.RawMessage(`[{"id":"P1","baseMint":"A","quoteMint":"B"}]`)
	wrappedPools := json.RawMessage(`{"pools":[{"id":"P2","base_mint":"A","quote_mint":"B"}]}`)
	wrappedPairs := json.RawMessage(`{"pairs":[{"address":"P3","baseMint":"A","quoteMint":"B"}]}`)

	for _, c := range []struct {
		raw  json.RawMessage
		want string
	}{
		{root, "P1"},
		{wrappedPools, "P2"},
		{wrappedPairs, "P3"},
	} {
		pools, err := decodePoolList(c.raw)
		if err != nil {
			t.Fatalf("decode %s: %v", c.raw, err)
		}
		if len(pools) != 1 || pools[0].PoolID() != c.want {
			t.Fatalf("envelope %s: got %+v", c.raw, pools)
		}
		if pools[0].Base() != "A" || pools[0].Quote() != "B" {
			t.Fatalf("mint aliases lost for %s", c.want)
		}
	}
}

func TestDecodeTradeList_Envelopes(t *testing.T) {
	root := json.RawMessage(`[{"signature":"s1"}]`)
	wrapped := json.RawMessage(`{"trades":[{"signature":"s2"}]}`)

	trades, err := decodeTradeList(root)
	if err != nil || len(trades) != 1 || trades[0].Signature != "s1" {
		t.Fatalf("root: %v %+v", err, trades)
	}
	trades, err = decodeTradeList(wrapped)
	if err != nil || len(trades) != 1 || trades[0].Signature != "s2" {
		t.Fatalf("wrapped: %v %+v", err, trades)
	}
}
