package portfolio

import (
	"context"
	"fmt"
	"log"
	"time"

	"dlmm-tracker/internal/cache"
	"dlmm-tracker/internal/domain"
	"dlmm-tracker/internal/upstream/rpc"
)

// stakeCacheTTL covers both the position lookup and the derived
// original-stake figure.
const stakeCacheTTL = 10 * time.Minute

// StakeVault describes one stake vault the tracker watches: a vault token
// account holding the underlying, and a receipt mint whose supply is the
// total claims against it.
type StakeVault struct {
	Vault          string // token account holding the underlying
	UnderlyingMint string
	ReceiptMint    string
}

// stakeChain is the slice of the RPC client the scanner needs.
type stakeChain interface {
	GetTokenAccountBalance(ctx context.Context, account string) (*rpc.TokenAmount, error)
	GetTokenSupply(ctx context.Context, mint string) (*rpc.TokenAmount, error)
	GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]rpc.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*rpc.ParsedTransaction, error)
}

// stakePrices is the slice of the price resolver the scanner needs.
type stakePrices interface {
	Price(mint string) (float64, bool)
}

// StakeScanner resolves staked positions for a wallet.
type StakeScanner struct {
	chain  stakeChain
	prices stakePrices
	vaults []StakeVault
	logger *log.Logger

	positions *cache.Cache[[]domain.StakedPosition]
	original  *cache.Cache[float64]
}

// NewStakeScanner creates a scanner for the configured vaults.
func NewStakeScanner(chain stakeChain, prices stakePrices, vaults []StakeVault, logger *log.Logger) *StakeScanner {
	if logger == nil {
		logger = log.Default()
	}
	return &StakeScanner{
		chain:     chain,
		prices:    prices,
		vaults:    vaults,
		logger:    logger,
		positions: cache.New[[]domain.StakedPosition](0, stakeCacheTTL),
		original:  cache.New[float64](0, stakeCacheTTL),
	}
}

// Prune sweeps expired cache entries.
func (s *StakeScanner) Prune() {
	s.positions.Prune()
	s.original.Prune()
}

// Positions returns the wallet's staked positions across all vaults.
// Results are cached for the stake TTL.
func (s *StakeScanner) Positions(ctx context.Context, wallet string) []domain.StakedPosition {
	if cached, ok := s.positions.Get(wallet); ok {
		return cached
	}

	var out []domain.StakedPosition
	for _, vault := range s.vaults {
		pos, err := s.scanVault(ctx, wallet, vault)
		if err != nil {
			s.logger.Printf("stake scan %s for %s failed: %v", vault.Vault, wallet, err)
			continue
		}
		if pos != nil {
			out = append(out, *pos)
		}
	}
	s.positions.Set(wallet, out)
	return out
}

// scanVault computes the wallet's share of one vault via its receipt
// token balance.
func (s *StakeScanner) scanVault(ctx context.Context, wallet string, vault StakeVault) (*domain.StakedPosition, error) {
	ata := rpc.DeriveAssociatedTokenAccount(wallet, vault.ReceiptMint)
	if ata == "" {
		return nil, fmt.Errorf("derive receipt account")
	}

	receiptBal, err := s.chain.GetTokenAccountBalance(ctx, ata)
	if err != nil || receiptBal == nil || receiptBal.UIAmount() <= 0 {
		return nil, nil // no position in this vault
	}

	supply, err := s.chain.GetTokenSupply(ctx, vault.ReceiptMint)
	if err != nil {
		return nil, fmt.Errorf("receipt supply: %w", err)
	}
	vaultBal, err := s.chain.GetTokenAccountBalance(ctx, vault.Vault)
	if err != nil {
		return nil, fmt.Errorf("vault balance: %w", err)
	}
	if supply == nil || vaultBal == nil || supply.UIAmount() <= 0 {
		return nil, nil
	}

	share := receiptBal.UIAmount() / supply.UIAmount()
	amount := share * vaultBal.UIAmount()

	price, _ := s.prices.Price(vault.UnderlyingMint)
	value := amount * price

	pos := &domain.StakedPosition{
		Vault:          vault.Vault,
		UnderlyingMint: vault.UnderlyingMint,
		ReceiptMint:    vault.ReceiptMint,
		Amount:         amount,
		ValueUSD:       value,
	}
	pos.OriginalStakeUSD = s.originalStake(ctx, wallet, vault, value)
	return pos, nil
}

// originalStake reconstructs the entry value by scanning recent history
// for a paired outflow of the underlying and inflow of the receipt token.
// When the history lookup fails, the current share value stands in.
func (s *StakeScanner) originalStake(ctx context.Context, wallet string, vault StakeVault, fallback float64) float64 {
	key := wallet + "|" + vault.Vault
	if cached, ok := s.original.Get(key); ok {
		return cached
	}

	stake, err := s.scanHistory(ctx, wallet, vault)
	if err != nil || stake <= 0 {
		stake = fallback
	}
	s.original.Set(key, stake)
	return stake
}

func (s *StakeScanner) scanHistory(ctx context.Context, wallet string, vault StakeVault) (float64, error) {
	sigs, err := s.chain.GetSignaturesForAddress(ctx, wallet, 25)
	if err != nil {
		return 0, err
	}

	price, hasPrice := s.prices.Price(vault.UnderlyingMint)
	if !hasPrice {
		return 0, fmt.Errorf("no price for underlying %s", vault.UnderlyingMint)
	}

	var total float64
	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		tx, err := s.chain.GetTransaction(ctx, sig.Signature)
		if err != nil || tx == nil || tx.Meta == nil {
			continue
		}

		underlyingOut := tokenDelta(tx, wallet, vault.UnderlyingMint)
		receiptIn := tokenDelta(tx, wallet, vault.ReceiptMint)
		if underlyingOut < 0 && receiptIn > 0 {
			total += -underlyingOut * price
		}
	}
	return total, nil
}

// tokenDelta returns the wallet's balance change for a mint in one
// transaction, in UI units.
func tokenDelta(tx *rpc.ParsedTransaction, wallet, mint string) float64 {
	var pre, post float64
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Owner == wallet && b.Mint == mint {
			pre += b.Amount.UIAmount()
		}
	}
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Owner == wallet && b.Mint == mint {
			post += b.Amount.UIAmount()
		}
	}
	return post - pre
}
