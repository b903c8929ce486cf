package minerclient

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"
)

var (
	max256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	max224 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 224), big.NewInt(1))
)

// difficultyToTargetHex mirrors internal/stratum.ShareTargetHex so a
// mining.set_difficulty update can be applied to the session's target
// without waiting for the next notify (spec.md §4.8), using the same
// per-algorithm comparison width internal/shares.Algorithm.Width expects.
func difficultyToTargetHex(algorithm string, difficulty float64) string {
	if difficulty <= 0 {
		difficulty = 1
	}
	switch strings.ToLower(algorithm) {
	case "randomx":
		max := ^uint64(0)
		target := uint64(float64(max) / difficulty)
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, target)
		return hex.EncodeToString(buf)
	case "yescrypt":
		d := new(big.Float).SetFloat64(difficulty)
		t := new(big.Float).Quo(new(big.Float).SetInt(max224), d)
		ti, _ := t.Int(nil)
		buf := make([]byte, 28)
		ti.FillBytes(buf)
		return hex.EncodeToString(buf)
	case "cosmicharmony", "cosmic_harmony":
		max := ^uint32(0)
		target := uint32(float64(max) / difficulty)
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, target)
		return hex.EncodeToString(buf)
	default: // blake3, autolykos and anything else using the full 256-bit width
		d := new(big.Float).SetFloat64(difficulty)
		t := new(big.Float).Quo(new(big.Float).SetInt(max256), d)
		ti, _ := t.Int(nil)
		buf := make([]byte, 32)
		ti.FillBytes(buf)
		return hex.EncodeToString(buf)
	}
}
