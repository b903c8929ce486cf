// Package revenue implements the revenue proxy (spec.md §4.7): one client
// per external coin, each speaking whichever of the three stratum dialects
// that coin's upstream pool expects, publishing inbound jobs to the stream
// scheduler (C6) and forwarding routed shares back upstream.
package revenue

import "strings"

// Protocol identifies which of the three wire dialects an upstream pool
// speaks (spec.md §4.7).
type Protocol int

const (
	// EthStratum is EthereumStratum/1.0.0, used by ETC/ERG/RVN-class pools.
	EthStratum Protocol = iota
	// StandardStratum is classic stratum v1, used by KAS/ALPH-class pools.
	StandardStratum
	// CryptoNoteStratum is the login/job/submit JSON-RPC dialect used by
	// RandomX/XMR-class pools.
	CryptoNoteStratum
)

func (p Protocol) String() string {
	switch p {
	case EthStratum:
		return "ethstratum"
	case StandardStratum:
		return "stratum"
	case CryptoNoteStratum:
		return "cryptonote"
	default:
		return "unknown"
	}
}

// DetectProtocol picks a dialect from the coin symbol alone, matching the
// upstream pools ZION's original operator actually used.
func DetectProtocol(coin string) Protocol {
	switch strings.ToUpper(coin) {
	case "XMR", "ZEPH", "RTM":
		return CryptoNoteStratum
	case "KAS", "ALPH", "FLUX", "NEXA", "IRON":
		return StandardStratum
	default: // ETC, RVN, ERG and anything unrecognized
		return EthStratum
	}
}

// ParseProtocol resolves an operator-supplied protocol override ("cryptonote",
// "cn", "monero", "ethstratum", "eth", "stratum", "standard", "kaspa") to a
// Protocol, falling back to DetectProtocol(coin) when override is empty or
// itself ambiguous ("stratum" means different things for different coins).
func ParseProtocol(override, coin string) Protocol {
	switch strings.ToLower(override) {
	case "cryptonote", "cn", "monero":
		return CryptoNoteStratum
	case "ethstratum", "eth":
		return EthStratum
	case "stratum", "standard", "kaspa":
		return DetectProtocol(coin)
	default:
		return DetectProtocol(coin)
	}
}

// DetectAlgorithm auto-detects a coin's mining algorithm name from its
// symbol, used when no per-coin algorithm override is configured.
func DetectAlgorithm(coin string) string {
	switch strings.ToUpper(coin) {
	case "ETC", "ETH":
		return "ethash"
	case "RVN", "CLORE", "NEOXA":
		return "kawpow"
	case "XMR", "ZEPH":
		return "randomx"
	case "KAS":
		return "kheavyhash"
	case "ERG":
		return "autolykos"
	case "ALPH", "IRON":
		return "blake3"
	case "FLUX":
		return "equihash"
	case "RTM":
		return "ghostrider"
	default:
		return "unknown"
	}
}
