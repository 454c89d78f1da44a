package core

// NetworkMagic identifies the wire protocol network, stamped into every
// Header. Distinct deployments (live/beta/test) use distinct magics so a
// node never processes a foreign network's traffic.
type NetworkMagic = uint16

const (
	LiveNetworkMagic NetworkMagic = headerMagic
	BetaNetworkMagic NetworkMagic = 0x4243 // "BC"
	TestNetworkMagic NetworkMagic = 0x5443 // "TC"
)

// GenesisParams fixes the single chain-opening account for a deployment:
// its public key, the genesis open block's signature and work, and the
// total supply minted into it.
type GenesisParams struct {
	Account        Account
	Representative Account
	Signature      [64]byte
	Work           uint64
	TotalSupply    Amount
}

// LiveGenesis is the reference deployment's genesis account. The zero
// signature/work here are placeholders: a real deployment stamps its own
// genesis block once at network creation and hardcodes the result exactly,
// the same way chain-specific constants live in the config sections.
var LiveGenesis = GenesisParams{
	TotalSupply: MaxAmount,
}

// GenesisOpenBlock builds the canonical genesis OpenBlock for g, its own
// account acting as the source (there is no prior send to receive from).
func GenesisOpenBlock(g GenesisParams) *OpenBlock {
	return &OpenBlock{
		Source:         BlockHash(g.Account),
		Representative: g.Representative,
		AccountField:   g.Account,
		Signature:      g.Signature,
		Work:           g.Work,
	}
}

// SeedGenesis opens the genesis account in store with the full supply and
// confirms it at height 1, giving a fresh ledger a valid frontier to build
// on. Intended for test fixtures and first-run node bootstrap.
func SeedGenesis(s Store, g GenesisParams) {
	open := GenesisOpenBlock(g)
	hash := open.Hash()

	tx := s.BeginWrite()
	defer tx.Commit()

	s.PutBlock(tx, hash, &StoredBlock{
		Block: open,
		Sideband: Sideband{
			Account: g.Account,
			Balance: g.TotalSupply,
			Height:  1,
		},
	})
	s.PutFrontier(tx, hash, g.Account)
	s.PutAccountInfo(tx, g.Account, AccountInfo{
		Head:           hash,
		Representative: g.Representative,
		OpenBlock:      hash,
		Balance:        g.TotalSupply,
		BlockCount:     1,
	})
	s.PutConfirmationHeight(tx, g.Account, ConfirmationHeightInfo{Height: 1, Frontier: hash})
	s.AddRepWeight(g.Representative, g.TotalSupply)
}
