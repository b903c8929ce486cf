package minerclient

import "testing"

func TestDifficultyToTargetHexWidths(t *testing.T) {
	cases := []struct {
		algo       string
		wantHexLen int
	}{
		{"randomx", 16},
		{"yescrypt", 56},
		{"cosmicharmony", 8},
		{"blake3", 64},
		{"", 64},
	}
	for _, c := range cases {
		got := difficultyToTargetHex(c.algo, 4)
		if len(got) != c.wantHexLen {
			t.Errorf("difficultyToTargetHex(%q, 4) hex length = %d, want %d (value %q)", c.algo, len(got), c.wantHexLen, got)
		}
	}
}

func TestDifficultyToTargetHexHigherDifficultyShrinksTarget(t *testing.T) {
	low := difficultyToTargetHex("blake3", 1)
	high := difficultyToTargetHex("blake3", 1000)
	if len(low) != len(high) {
		t.Fatalf("target widths should match: %d vs %d", len(low), len(high))
	}
	if high >= low {
		t.Errorf("higher difficulty should produce a smaller target: low=%s high=%s", low, high)
	}
}

func TestDifficultyToTargetHexNonPositiveClampsToOne(t *testing.T) {
	zero := difficultyToTargetHex("blake3", 0)
	one := difficultyToTargetHex("blake3", 1)
	if zero != one {
		t.Errorf("difficulty <= 0 should behave as difficulty 1")
	}
}
