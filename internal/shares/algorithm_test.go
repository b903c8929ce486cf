package shares

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestU64LittleEndian_Meets(t *testing.T) {
	w := U64LittleEndian{}

	low := make([]byte, 8)
	binary.LittleEndian.PutUint64(low, 100)

	if !w.Meets(low, "00000000000000ff") {
		t.Error("100 should meet target 255")
	}
	if w.Meets(low, "0000000000000005") {
		t.Error("100 should not meet target 5")
	}
}

func TestU64LittleEndian_Difficulty(t *testing.T) {
	w := U64LittleEndian{}
	hash := make([]byte, 8)
	binary.LittleEndian.PutUint64(hash, 1)
	if d := w.Difficulty(hash); d != ^uint64(0) {
		t.Errorf("difficulty for hash=1 = %d, want MAX", d)
	}

	zero := make([]byte, 8)
	if d := w.Difficulty(zero); d != 0 {
		t.Errorf("difficulty for hash=0 = %d, want 0", d)
	}
}

func TestU224BigEndian_Meets(t *testing.T) {
	w := U224BigEndian{}

	smallHash := make([]byte, 32)
	smallHash[0] = 0x01
	bigTarget := strings.Repeat("ff", 28)
	if !w.Meets(smallHash, bigTarget) {
		t.Error("small hash should meet a near-max target")
	}

	bigHash := make([]byte, 32)
	bigHash[0] = 0xff
	smallTarget := "01"
	if w.Meets(bigHash, smallTarget) {
		t.Error("large hash should not meet a near-zero target")
	}
}

func TestU256BigEndian_MaxTarget(t *testing.T) {
	w := U256BigEndian{}
	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = 0xff
	}
	maxTarget := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	if !w.Meets(hash, maxTarget) {
		t.Error("max hash should meet max target")
	}
}

func TestU32Target_Endianness(t *testing.T) {
	hashLE := []byte{0x01, 0x00, 0x00, 0x00} // value 1 if read little-endian
	le := U32Target{LittleEndian: true}
	be := U32Target{LittleEndian: false}

	if !le.Meets(hashLE, "00000005") {
		t.Error("LE word 1 should meet target 5")
	}
	// The same bytes read big-endian are 0x01000000, far above a small target.
	if be.Meets(hashLE, "00000005") {
		t.Error("BE word 0x01000000 should not meet target 5")
	}
}

func TestU32Target_WideTargetTruncated(t *testing.T) {
	w := U32Target{LittleEndian: false}
	hash := []byte{0x00, 0x00, 0x00, 0x01}
	// A target longer than 8 hex chars should use only the leading 32 bits.
	if !w.Meets(hash, "000000ff00000000000000000000000000000000000000") {
		t.Error("state0=1 should meet a wide target whose leading word is 0xff")
	}
}

func TestLookupAlgorithm(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"blake3", "blake3"},
		{"AUTOLYKOS_V2", "blake3"},
		{"randomx", "randomx"},
		{"rx/0", "randomx"},
		{"yescrypt", "yescrypt"},
		{"cosmic_harmony", "cosmicharmony"},
		{"Cosmic", "cosmicharmony"},
	}
	for _, c := range cases {
		algo, ok := LookupAlgorithm(c.name)
		if !ok {
			t.Errorf("LookupAlgorithm(%q) not found", c.name)
			continue
		}
		if algo.Name != c.want {
			t.Errorf("LookupAlgorithm(%q).Name = %q, want %q", c.name, algo.Name, c.want)
		}
	}

	if _, ok := LookupAlgorithm("kawpow"); ok {
		t.Error("kawpow should be unrecognized by the share validator (external-pool only)")
	}
	if _, ok := LookupAlgorithm("nonsense"); ok {
		t.Error("unknown algorithm name should not resolve")
	}
}

func TestSetCosmicHarmonyEndian(t *testing.T) {
	SetCosmicHarmonyEndian(true)
	algo, _ := LookupAlgorithm("cosmic_harmony")
	w, ok := algo.Width.(U32Target)
	if !ok || !w.LittleEndian {
		t.Error("SetCosmicHarmonyEndian(true) should switch CosmicHarmony to little-endian")
	}

	SetCosmicHarmonyEndian(false)
	algo, _ = LookupAlgorithm("cosmic_harmony")
	w, ok = algo.Width.(U32Target)
	if !ok || w.LittleEndian {
		t.Error("SetCosmicHarmonyEndian(false) should switch CosmicHarmony to big-endian")
	}
}
