package graph

import "strings"

// Role discriminates seed addresses from addresses discovered while expanding.
type Role string

const (
	RoleSeed         Role = "seed"
	RoleCounterparty Role = "counterparty"
)

// RiskStatus tracks where a node is in the enrichment lifecycle.
type RiskStatus string

const (
	StatusPending RiskStatus = "pending" // created, not yet enriched
	StatusScored  RiskStatus = "scored"
	StatusUnknown RiskStatus = "unknown" // enrichment failed
	StatusSkipped RiskStatus = "skipped" // beyond the enrichment cap
)

// RiskLevel is the band a risk score falls into.
type RiskLevel string

const (
	LevelLow     RiskLevel = "low"
	LevelMedium  RiskLevel = "medium"
	LevelHigh    RiskLevel = "high"
	LevelUnknown RiskLevel = "unknown"
)

// Score bounds and band thresholds.
const (
	MinScore         = 0.0
	MaxScore         = 100.0
	LowUpperBound    = 30.0
	MediumUpperBound = 70.0
)

// LevelFor maps a score to its band. A nil score is unknown.
func LevelFor(score *float64) RiskLevel {
	if score == nil {
		return LevelUnknown
	}
	switch s := *score; {
	case s > MediumUpperBound:
		return LevelHigh
	case s > LowUpperBound:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ClampScore forces s into [MinScore, MaxScore].
func ClampScore(s float64) float64 {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// Risk is the enrichment metadata attached to a node.
type Risk struct {
	Score      *float64   `json:"score"`
	Level      RiskLevel  `json:"level"`
	Label      string     `json:"label"`
	Category   string     `json:"category"`
	Sanctioned bool       `json:"sanctioned"`
	Indicators []string   `json:"indicators,omitempty"`
	Status     RiskStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// pendingRisk is the placeholder every node starts with.
func pendingRisk() Risk {
	return Risk{Level: LevelUnknown, Label: "Unknown Entity", Category: "unknown", Status: StatusPending}
}

// UnknownRisk is the placeholder for a node whose enrichment failed.
func UnknownRisk(cause error) Risk {
	r := pendingRisk()
	r.Status = StatusUnknown
	if cause != nil {
		r.Error = cause.Error()
	}
	return r
}

// Node is one address in the transaction network.
type Node struct {
	Address string  `json:"address"`
	Chain   string  `json:"chain"`
	Role    Role    `json:"role"`
	Hop     int     `json:"hop"`
	TxCount int     `json:"tx_count"`
	Volume  float64 `json:"volume"`
	Risk    Risk    `json:"risk"`
}

// LikelyContract guesses whether the address is a contract rather than an EOA.
// Without on-chain code lookups this is a volume/activity heuristic.
func (n *Node) LikelyContract() bool {
	return n.TxCount > 5 || n.Volume > 100
}

// IsSeed reports whether the node was one of the incident's seed addresses.
func (n *Node) IsSeed() bool { return n.Role == RoleSeed }

// NormalizeAddress canonicalizes an address for use as a node key.
// Hex (0x-prefixed) addresses are case-insensitive and are lower-cased;
// other encodings (base58, bech32 with mixed case) are only trimmed.
func NormalizeAddress(addr string) string {
	a := strings.TrimSpace(addr)
	if len(a) >= 2 && (a[:2] == "0x" || a[:2] == "0X") {
		return strings.ToLower(a)
	}
	return a
}
