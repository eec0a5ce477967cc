package domain

// MetaSource identifies which provider produced a token's metadata.
type MetaSource string

const (
	MetaSourceProtocolAPI MetaSource = "protocol_api"
	MetaSourceAggregator  MetaSource = "aggregator"
	MetaSourceDexscreener MetaSource = "dexscreener"
	MetaSourceOnchain     MetaSource = "onchain_metadata"
	MetaSourceDefault     MetaSource = "default"
)

// TokenMeta holds resolved symbol/decimals for a mint.
type TokenMeta struct {
	Mint     string
	Symbol   string
	Name     string // optional
	Decimals int    // 0..18
	Source   MetaSource
}

// ShortMint renders a mint as "xxxx…yyyy" for display before metadata resolves.
func ShortMint(mint string) string {
	if len(mint) <= 9 {
		return mint
	}
	return mint[:4] + "…" + mint[len(mint)-4:]
}
