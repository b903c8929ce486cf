// Package utxo manages the UTXO set.
package utxo

import "github.com/zion-chain/zion-node/pkg/types"

// UTXO represents an unspent transaction output: an amount payable to an
// address, keyed by the outpoint that created it.
type UTXO struct {
	Outpoint types.Outpoint `json:"outpoint"`
	Value    uint64         `json:"value"`
	Address  types.Address  `json:"address"`
	Height   uint64         `json:"height"`
	Coinbase bool           `json:"coinbase"`
}

// Set is the interface for UTXO storage.
type Set interface {
	Get(outpoint types.Outpoint) (*UTXO, error)
	Put(utxo *UTXO) error
	Delete(outpoint types.Outpoint) error
	Has(outpoint types.Outpoint) (bool, error)
}
