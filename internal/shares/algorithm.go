// Package shares validates miner-submitted proof-of-work shares against a
// job target and, optionally, the network block target.
//
// The miner's own claimed hash is never trusted: every share is recomputed
// from the job blob and nonce before any comparison happens. Each algorithm
// carries its own target-comparison geometry rather than branching on an
// algorithm string inside the hot path (spec.md §9's redesign note).
package shares

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/zion-chain/zion-node/config"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/crypto/sha3"

	"github.com/zeebo/blake3"
)

// HeaderLen is the byte length of the canonical share pre-image before the
// nonce: version(4) || height(8) || prev_hash(32) || merkle_root(32) ||
// timestamp(8) || difficulty(8).
const HeaderLen = 4 + 8 + 32 + 32 + 8 + 8

// TargetWidth is the per-algorithm target-comparison geometry. The job and
// block targets are always plain hex integers (not byte-swapped); only the
// computed hash's interpretation varies by width.
type TargetWidth interface {
	// Meets reports whether hash satisfies targetHex under this width.
	Meets(hash []byte, targetHex string) bool
	// Difficulty computes MAX/hash_numeric under this width, clamped to u64.
	Difficulty(hash []byte) uint64
}

// U64LittleEndian compares the low 64 bits of the hash, little-endian,
// against a 64-bit target. Used by the RandomX family.
type U64LittleEndian struct{}

func (U64LittleEndian) Meets(hash []byte, targetHex string) bool {
	v, ok := le64(hash)
	if !ok {
		return false
	}
	t, err := strconv.ParseUint(strings.TrimPrefix(targetHex, "0x"), 16, 64)
	if err != nil {
		return false
	}
	return v <= t
}

func (U64LittleEndian) Difficulty(hash []byte) uint64 {
	v, ok := le64(hash)
	if !ok || v == 0 {
		return 0
	}
	return ^uint64(0) / v
}

func le64(hash []byte) (uint64, bool) {
	if len(hash) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(hash[:8]), true
}

// U224BigEndian compares the first 28 bytes of the hash, big-endian,
// against a 224-bit target. Used by Yescrypt.
type U224BigEndian struct{}

func (U224BigEndian) Meets(hash []byte, targetHex string) bool {
	return meetsBE(hash, targetHex, 28)
}

func (U224BigEndian) Difficulty(hash []byte) uint64 {
	return difficultyBE(hash, 28)
}

// U256BigEndian compares the full 256-bit hash, big-endian, against a
// 256-bit target. Used by Blake3 and Autolykos-like algorithms.
type U256BigEndian struct{}

func (U256BigEndian) Meets(hash []byte, targetHex string) bool {
	return meetsBE(hash, targetHex, 32)
}

func (U256BigEndian) Difficulty(hash []byte) uint64 {
	return difficultyBE(hash, 32)
}

func meetsBE(hash []byte, targetHex string, size int) bool {
	if len(hash) < size {
		return false
	}
	target := padHexBE(targetHex, size)
	for i := 0; i < size; i++ {
		if hash[i] < target[i] {
			return true
		}
		if hash[i] > target[i] {
			return false
		}
	}
	return true
}

func padHexBE(targetHex string, size int) []byte {
	out := make([]byte, size)
	raw, err := hex.DecodeString(strings.TrimPrefix(targetHex, "0x"))
	if err != nil {
		return out
	}
	if len(raw) > size {
		raw = raw[len(raw)-size:]
	}
	copy(out[size-len(raw):], raw)
	return out
}

// difficultyBE mirrors the reference validator's simplified difficulty
// formula: only the leading 16 bytes of the hash ever feed the division,
// regardless of the comparison width, so difficulty values stay identical
// across the 224-bit and 256-bit widths for hashes that agree on those
// leading bytes.
func difficultyBE(hash []byte, size int) uint64 {
	if len(hash) < size {
		return 0
	}
	n := size
	if n > 16 {
		n = 16
	}
	hashInt := new(big.Int).SetBytes(hash[:n])
	if hashInt.Sign() == 0 {
		return 0
	}
	maxU64 := new(big.Int).SetUint64(^uint64(0))
	diff := new(big.Int).Div(maxU64, hashInt)
	if !diff.IsUint64() {
		return ^uint64(0)
	}
	return diff.Uint64()
}

// U32Target compares a single 32-bit "state0" word against a target, with
// the word's byte order fixed at pool startup (spec.md §4.5). Used by
// CosmicHarmony variants.
type U32Target struct {
	LittleEndian bool
}

func (w U32Target) word(hash []byte) (uint32, bool) {
	if len(hash) < 4 {
		return 0, false
	}
	if w.LittleEndian {
		return binary.LittleEndian.Uint32(hash[:4]), true
	}
	return binary.BigEndian.Uint32(hash[:4]), true
}

func (w U32Target) Meets(hash []byte, targetHex string) bool {
	state0, ok := w.word(hash)
	if !ok {
		return false
	}
	return state0 <= parseU32TargetWord(targetHex)
}

func (w U32Target) Difficulty(hash []byte) uint64 {
	state0, ok := w.word(hash)
	if !ok || state0 == 0 {
		return 0
	}
	return uint64(^uint32(0)) / uint64(state0)
}

// parseU32TargetWord takes the target's leading 8 hex characters (the
// most-significant 32 bits) when the target hex is wider than a plain
// 32-bit value, matching the reference validator.
func parseU32TargetWord(targetHex string) uint32 {
	s := strings.TrimPrefix(targetHex, "0x")
	if len(s) > 8 {
		s = s[:8]
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

// Algorithm bundles a hash function and its target-comparison width.
type Algorithm struct {
	Name  string
	Width TargetWidth

	// Hash recomputes the proof hash from the first HeaderLen bytes of the
	// job blob, the nonce, and the block height (needed by algorithms whose
	// canonical pre-image folds height in directly).
	Hash func(header []byte, nonce uint64, height uint64) []byte
}

func defaultPreimage(header []byte, nonce uint64) []byte {
	buf := make([]byte, len(header)+8)
	copy(buf, header)
	binary.LittleEndian.PutUint64(buf[len(header):], nonce)
	return buf
}

// hashBlake3Autolykos stands in for both Blake3 and Autolykos-like proof
// hashing: a direct BLAKE3-256 over the default pre-image. Grounded on the
// teacher's own pkg/crypto hash primitive (no pack example implements
// Autolykos natively; the spec groups both under the same 256-bit
// big-endian target geometry, so one hash stands in for both).
func hashBlake3Autolykos(header []byte, nonce uint64, _ uint64) []byte {
	h := blake3.Sum256(defaultPreimage(header, nonce))
	return h[:]
}

// hashRandomXFamily stands in for RandomX: no pure-Go RandomX implementation
// exists in the example pack (it is a memory-hard VM, not a portable
// library), so SHA3-256 — the same family of hash the pack's other
// PoW-style consensus engines (ethash/cryptore-style) reach for — serves as
// the recomputable stand-in.
func hashRandomXFamily(header []byte, nonce uint64, _ uint64) []byte {
	h := sha3.Sum256(defaultPreimage(header, nonce))
	return h[:]
}

// hashYescryptFamily stands in for Yescrypt using real scrypt, its ancestor
// KDF (DESIGN.md: golang.org/x/crypto/scrypt, already part of the teacher's
// golang.org/x/crypto dependency). Parameters are tuned for share-validation
// latency, not for Yescrypt's actual ASIC-resistance profile.
func hashYescryptFamily(header []byte, nonce uint64, _ uint64) []byte {
	preimage := defaultPreimage(header, nonce)
	salt := blake3.Sum256(preimage)
	out, err := scrypt.Key(preimage, salt[:16], 1024, 8, 1, 32)
	if err != nil {
		// scrypt.Key only errors on invalid parameters, which are fixed
		// constants above; this path is unreachable in practice.
		return make([]byte, 32)
	}
	return out
}

// hashCosmicHarmony stands in for CosmicHarmony's documented canonical
// pre-image: the nonce is folded with the block height via XOR into a
// single 32-bit value before hashing (original_source/cosmic-harmony's
// nonce/height combination), rather than appended as a plain 8-byte nonce.
func hashCosmicHarmony(header []byte, nonce uint64, height uint64) []byte {
	nonce32 := uint32(nonce) ^ uint32(height)
	buf := make([]byte, len(header)+4)
	copy(buf, header)
	binary.LittleEndian.PutUint32(buf[len(header):], nonce32)
	h := blake3.Sum256(buf)
	return h[:]
}

// SetCosmicHarmonyEndian configures the byte order used to interpret
// CosmicHarmony's 32-bit state0 target word. Must be called before any
// share validation happens; spec.md §4.5 leaves this a pool-startup choice.
func SetCosmicHarmonyEndian(littleEndian bool) {
	algorithmsByTag[config.AlgoCosmicHarmony].Width = U32Target{LittleEndian: littleEndian}
}

var algorithmsByTag = map[byte]*Algorithm{
	config.AlgoBlake3Autolykos: {
		Name:  "blake3",
		Width: U256BigEndian{},
		Hash:  hashBlake3Autolykos,
	},
	config.AlgoRandomXFamily: {
		Name:  "randomx",
		Width: U64LittleEndian{},
		Hash:  hashRandomXFamily,
	},
	config.AlgoYescryptFamily: {
		Name:  "yescrypt",
		Width: U224BigEndian{},
		Hash:  hashYescryptFamily,
	},
	config.AlgoCosmicHarmony: {
		Name:  "cosmicharmony",
		Width: U32Target{LittleEndian: false},
		Hash:  hashCosmicHarmony,
	},
}

// nameAliases maps the algorithm names miners and pool jobs actually send
// onto the canonical algorithm tags above.
var nameAliases = map[string]byte{
	"blake3":       config.AlgoBlake3Autolykos,
	"autolykos":    config.AlgoBlake3Autolykos,
	"autolykos_v2": config.AlgoBlake3Autolykos,
	"autolykosv2":  config.AlgoBlake3Autolykos,

	"randomx": config.AlgoRandomXFamily,
	"rx/0":    config.AlgoRandomXFamily,

	"yescrypt": config.AlgoYescryptFamily,

	"cosmic_harmony": config.AlgoCosmicHarmony,
	"cosmicharmony":  config.AlgoCosmicHarmony,
	"cosmic-harmony": config.AlgoCosmicHarmony,
	"cosmic":         config.AlgoCosmicHarmony,
}

// LookupAlgorithm resolves an algorithm name (case-insensitive) to its
// Algorithm, or false if the name is unrecognized (an "Unknown algorithm"
// share, per spec.md §4.5).
func LookupAlgorithm(name string) (Algorithm, bool) {
	tag, ok := nameAliases[strings.ToLower(name)]
	if !ok {
		return Algorithm{}, false
	}
	return *algorithmsByTag[tag], true
}
