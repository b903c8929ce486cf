package revenue

import "testing"

func TestDetectProtocol(t *testing.T) {
	cases := map[string]Protocol{
		"XMR": CryptoNoteStratum,
		"zeph": CryptoNoteStratum,
		"KAS": StandardStratum,
		"ALPH": StandardStratum,
		"ETC": EthStratum,
		"RVN": EthStratum,
		"UNKNOWNCOIN": EthStratum,
	}
	for coin, want := range cases {
		if got := DetectProtocol(coin); got != want {
			t.Errorf("DetectProtocol(%q) = %v, want %v", coin, got, want)
		}
	}
}

func TestParseProtocolOverride(t *testing.T) {
	if got := ParseProtocol("cryptonote", "ETC"); got != CryptoNoteStratum {
		t.Errorf("explicit override ignored: got %v", got)
	}
	if got := ParseProtocol("", "XMR"); got != CryptoNoteStratum {
		t.Errorf("empty override should fall back to DetectProtocol: got %v", got)
	}
	if got := ParseProtocol("bogus", "KAS"); got != StandardStratum {
		t.Errorf("unknown override should fall back to DetectProtocol: got %v", got)
	}
}

func TestProtocolString(t *testing.T) {
	if EthStratum.String() != "ethstratum" {
		t.Errorf("EthStratum.String() = %q", EthStratum.String())
	}
	if CryptoNoteStratum.String() != "cryptonote" {
		t.Errorf("CryptoNoteStratum.String() = %q", CryptoNoteStratum.String())
	}
	if Protocol(99).String() != "unknown" {
		t.Errorf("unrecognized protocol should stringify to unknown")
	}
}

func TestDetectAlgorithm(t *testing.T) {
	if DetectAlgorithm("XMR") != "randomx" {
		t.Errorf("XMR should detect randomx")
	}
	if DetectAlgorithm("made-up-coin") != "unknown" {
		t.Errorf("unrecognized coin should detect unknown")
	}
}
