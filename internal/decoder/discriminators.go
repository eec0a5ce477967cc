package decoder

import (
	"crypto/sha256"
	"sort"

	"dlmm-tracker/internal/domain"
)

// Discriminator is the 8-byte prefix that identifies an instruction or an
// emitted event without parsing the full layout.
type Discriminator [8]byte

// instructionDiscriminator derives the prefix for an instruction name.
func instructionDiscriminator(name string) Discriminator {
	return discriminator("global:" + name)
}

// eventDiscriminator derives the prefix for an emitted event name.
func eventDiscriminator(name string) Discriminator {
	return discriminator("event:" + name)
}

func discriminator(preimage string) Discriminator {
	var d Discriminator
	sum := sha256.Sum256([]byte(preimage))
	copy(d[:], sum[:8])
	return d
}

// instructionNames maps every known instruction to its semantic kind.
var instructionNames = map[string]domain.EventKind{
	"swap":                    domain.EventSwap,
	"add_liquidity2":          domain.EventLpAdd,
	"add_liquidity_batch":     domain.EventLpAdd,
	"initialize_position":     domain.EventLpAdd,
	"withdraw":                domain.EventLpRemove,
	"close_position":          domain.EventLpRemove,
	"lock_liquidity":          domain.EventLockLiquidity,
	"unlock_liquidity":        domain.EventUnlockLiquidity,
	"initialize_pool":         domain.EventPoolInit,
	"close_pool":              domain.EventClosePool,
	"claim_protocol_fees":     domain.EventProtocolFees,
	"transfer_protocol_fees":  domain.EventProtocolFees,
	"claim_holder_rewards":    domain.EventClaimRewards,
	"claim_nft_rewards":       domain.EventClaimRewards,
	"sync_holder_stake":       domain.EventSyncStake,

	// Admin family.
	"update_admin":       domain.EventAdmin,
	"update_authorities": domain.EventAdmin,
	"update_fee_config":  domain.EventAdmin,
	"set_pause":          domain.EventAdmin,
	"set_pause_bits":     domain.EventAdmin,
	"unpause_override":   domain.EventAdmin,

	// Setup family.
	"create_bin_array":         domain.EventSetup,
	"init_oracle":              domain.EventSetup,
	"init_position_bin":        domain.EventSetup,
	"init_farming_global_state": domain.EventSetup,
	"init_stake_global_state":   domain.EventSetup,
	"init_user_farming_state":   domain.EventSetup,
	"init_user_stake_state":     domain.EventSetup,
	"view_farming_position":     domain.EventSetup,
}

// eventNames maps every known emitted event to its semantic kind.
var eventNames = map[string]domain.EventKind{
	"SwapExecuted":             domain.EventSwap,
	"LiquidityDeposited":       domain.EventLpAdd,
	"LiquidityWithdrawnUser":   domain.EventLpRemove,
	"LiquidityWithdrawnAdmin":  domain.EventLpRemove,
	"PoolInitialized":          domain.EventPoolInit,
	"FeesDistributed":          domain.EventFeesDistributed,
	"LiquidityLocked":          domain.EventLockLiquidity,
	"ClaimHolderRewardsEvent":  domain.EventClaimRewards,
	"SyncHolderStakeEvent":     domain.EventSyncStake,
	"AdminUpdated":             domain.EventAdmin,
	"AuthoritiesUpdated":       domain.EventAdmin,
	"FeeConfigUpdated":         domain.EventAdmin,
	"PauseUpdated":             domain.EventAdmin,
	"BinArrayCreated":          domain.EventSetup,
	"LiquidityBinCreated":      domain.EventSetup,
	"PairRegistered":           domain.EventSetup,
}

// tableEntry is the resolved classification for one discriminator.
type tableEntry struct {
	Name string
	Kind domain.EventKind
}

var (
	instructionTable = make(map[Discriminator]tableEntry, len(instructionNames))
	eventTable       = make(map[Discriminator]tableEntry, len(eventNames))

	// Longest name first so overlapping labels (set_pause_bits vs
	// set_pause) resolve deterministically.
	orderedInstructionNames []string
	orderedEventNames       []string
)

func init() {
	for name, kind := range instructionNames {
		instructionTable[instructionDiscriminator(name)] = tableEntry{Name: name, Kind: kind}
		orderedInstructionNames = append(orderedInstructionNames, name)
	}
	for name, kind := range eventNames {
		eventTable[eventDiscriminator(name)] = tableEntry{Name: name, Kind: kind}
		orderedEventNames = append(orderedEventNames, name)
	}
	sort.Slice(orderedInstructionNames, func(i, j int) bool {
		a, b := orderedInstructionNames[i], orderedInstructionNames[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	sort.Slice(orderedEventNames, func(i, j int) bool {
		a, b := orderedEventNames[i], orderedEventNames[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
}

// LookupInstruction classifies an 8-byte instruction prefix.
func LookupInstruction(prefix []byte) (tableEntry, bool) {
	if len(prefix) < 8 {
		return tableEntry{}, false
	}
	var d Discriminator
	copy(d[:], prefix[:8])
	e, ok := instructionTable[d]
	return e, ok
}

// LookupEvent classifies an 8-byte event-log prefix.
func LookupEvent(prefix []byte) (tableEntry, bool) {
	if len(prefix) < 8 {
		return tableEntry{}, false
	}
	var d Discriminator
	copy(d[:], prefix[:8])
	e, ok := eventTable[d]
	return e, ok
}
