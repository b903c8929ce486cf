package miner

import (
	"github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/utxo"
	"github.com/zion-chain/zion-node/pkg/types"
)

// UTXOAdapter bridges utxo.Set to tx.UTXOProvider.
type UTXOAdapter struct {
	set utxo.Set
}

// NewUTXOAdapter creates a UTXOProvider from a utxo.Set.
func NewUTXOAdapter(set utxo.Set) *UTXOAdapter {
	return &UTXOAdapter{set: set}
}

// GetUTXO returns the value and owning address for a given outpoint.
func (a *UTXOAdapter) GetUTXO(outpoint types.Outpoint) (uint64, types.Address, error) {
	u, err := a.set.Get(outpoint)
	if err != nil {
		return 0, types.Address{}, err
	}
	return u.Value, u.Address, nil
}

// HasUTXO returns whether the outpoint exists in the UTXO set.
func (a *UTXOAdapter) HasUTXO(outpoint types.Outpoint) bool {
	has, err := a.set.Has(outpoint)
	if err != nil {
		log.Miner.Error().Err(err).Stringer("outpoint", outpoint).Msg("utxo adapter: Has lookup failed")
		return false
	}
	return has
}
