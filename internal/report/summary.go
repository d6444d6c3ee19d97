package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/incident"
)

// Entity is one row of the highest-risk table.
type Entity struct {
	Address    string          `json:"address"`
	Label      string          `json:"label"`
	Category   string          `json:"category"`
	Score      float64         `json:"score"`
	Level      graph.RiskLevel `json:"level"`
	Sanctioned bool            `json:"sanctioned"`
	Seed       bool            `json:"seed"`
}

// Stats are the structured numbers of the technical summary.
type Stats struct {
	Nodes        int      `json:"nodes"`
	Seeds        int      `json:"seeds"`
	Edges        int      `json:"edges"`
	Transfers    int      `json:"transfers"`
	Flagged      int      `json:"flagged_transfers"`
	TotalVolume  float64  `json:"total_volume"`
	MaxHop       int      `json:"max_hop"`
	Sanctioned   int      `json:"sanctioned"`
	UnknownRisk  int      `json:"unknown_risk"`
	HighRisk     int      `json:"high_risk"`
	MediumRisk   int      `json:"medium_risk"`
	LowRisk      int      `json:"low_risk"`
	TopEntities  []Entity `json:"top_entities"`
	Chains       []string `json:"chains"`
	EnrichedWith string   `json:"enriched_with"`
}

// Summary is the technical summary shown under the graph.
type Summary struct {
	Description string `json:"description"`
	Blockchain  string `json:"blockchain"`
	Text        string `json:"text"`
	Stats       Stats  `json:"stats"`
}

// BuildSummary computes the summary for an enriched graph.
func BuildSummary(g *graph.Graph, inc *incident.Incident, topN int, mode string) Summary {
	st := Stats{
		Nodes:        g.NodeCount(),
		Seeds:        len(g.Seeds()),
		Transfers:    g.TransferCount(),
		TotalVolume:  g.TotalVolume(),
		EnrichedWith: mode,
		TopEntities:  []Entity{},
	}
	edges := g.Edges()
	st.Edges = len(edges)
	for _, t := range g.Transfers() {
		if t.Flagged {
			st.Flagged++
		}
	}

	chains := map[string]bool{}
	var scored []Entity
	for _, n := range g.Nodes() {
		if n.Hop > st.MaxHop {
			st.MaxHop = n.Hop
		}
		if n.Chain != "" && !chains[n.Chain] {
			chains[n.Chain] = true
			st.Chains = append(st.Chains, n.Chain)
		}
		if n.Risk.Sanctioned {
			st.Sanctioned++
		}
		switch n.Risk.Level {
		case graph.LevelHigh:
			st.HighRisk++
		case graph.LevelMedium:
			st.MediumRisk++
		case graph.LevelLow:
			st.LowRisk++
		default:
			st.UnknownRisk++
		}
		if n.Risk.Score != nil {
			scored = append(scored, Entity{
				Address:    n.Address,
				Label:      n.Risk.Label,
				Category:   n.Risk.Category,
				Score:      *n.Risk.Score,
				Level:      n.Risk.Level,
				Sanctioned: n.Risk.Sanctioned,
				Seed:       n.IsSeed(),
			})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topN > 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	if scored != nil {
		st.TopEntities = scored
	}

	s := Summary{
		Description: inc.Description,
		Blockchain:  inc.Blockchain,
		Stats:       st,
	}
	s.Text = summaryText(inc, st)
	return s
}

func summaryText(inc *incident.Incident, st Stats) string {
	var b strings.Builder
	desc := inc.Description
	if desc == "" {
		desc = "No description available."
	}
	fmt.Fprintf(&b, "Incident %s (%s)\n", inc.ID, inc.Title())
	fmt.Fprintf(&b, "Description: %s\n", desc)
	fmt.Fprintf(&b, "Blockchain: %s\n", inc.Blockchain)
	fmt.Fprintf(&b, "Network: %d nodes (%d seeds), %d edges, %d transfers, depth %d\n",
		st.Nodes, st.Seeds, st.Edges, st.Transfers, st.MaxHop)
	fmt.Fprintf(&b, "Total volume: %.4f\n", st.TotalVolume)
	fmt.Fprintf(&b, "Risk: %d high, %d medium, %d low, %d unknown; %d sanctioned\n",
		st.HighRisk, st.MediumRisk, st.LowRisk, st.UnknownRisk, st.Sanctioned)
	if st.Flagged > 0 {
		fmt.Fprintf(&b, "Flagged incident transactions: %d\n", st.Flagged)
	}
	if len(st.TopEntities) > 0 {
		b.WriteString("Highest-risk entities:\n")
		for i, e := range st.TopEntities {
			mark := ""
			if e.Sanctioned {
				mark = " [SANCTIONED]"
			}
			fmt.Fprintf(&b, "  %d. %s %s (%s) score %.1f%s\n", i+1, e.Address, e.Label, e.Category, e.Score, mark)
		}
	}
	fmt.Fprintf(&b, "Enrichment: %s\n", st.EnrichedWith)
	return b.String()
}
