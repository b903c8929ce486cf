package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
)

// Per-algorithm maximum values a target is derived from, matching the
// comparison width internal/shares.Algorithm uses for that algorithm
// (spec.md §4.5's per-algorithm target geometry).
var (
	max256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	max224 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 224), big.NewInt(1))
)

// ShareTargetHex derives the per-session share target for difficulty d in
// the wire format the named algorithm's validator expects. Difficulty 1
// maps to the algorithm's maximum representable target; higher difficulty
// shrinks the target proportionally, same relationship internal/consensus
// uses for the network target.
func ShareTargetHex(algorithmName string, difficulty uint64, cosmicHarmonyLittleEndian bool) string {
	if difficulty == 0 {
		difficulty = 1
	}
	switch algorithmName {
	case "randomx":
		max := ^uint64(0)
		target := max / difficulty
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, target)
		return hex.EncodeToString(buf)
	case "yescrypt":
		d := new(big.Int).SetUint64(difficulty)
		t := new(big.Int).Div(max224, d)
		buf := make([]byte, 28)
		t.FillBytes(buf)
		return hex.EncodeToString(buf)
	case "cosmicharmony":
		max := ^uint32(0)
		target := max / uint32(difficulty)
		buf := make([]byte, 4)
		if cosmicHarmonyLittleEndian {
			binary.LittleEndian.PutUint32(buf, target)
		} else {
			binary.BigEndian.PutUint32(buf, target)
		}
		return hex.EncodeToString(buf)
	default: // "blake3" and anything else using the full 256-bit comparison
		d := new(big.Int).SetUint64(difficulty)
		t := new(big.Int).Div(max256, d)
		buf := make([]byte, 32)
		t.FillBytes(buf)
		return hex.EncodeToString(buf)
	}
}
