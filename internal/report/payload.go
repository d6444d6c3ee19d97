package report

import (
	"math"

	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
)

// Band colors.
const (
	ColorLow     = "#2ecc71"
	ColorMedium  = "#f39c12"
	ColorHigh    = "#e74c3c"
	ColorUnknown = "#7f8c8d"
)

// ColorFor returns the display color of a risk band.
func ColorFor(level graph.RiskLevel) string {
	switch level {
	case graph.LevelLow:
		return ColorLow
	case graph.LevelMedium:
		return ColorMedium
	case graph.LevelHigh:
		return ColorHigh
	default:
		return ColorUnknown
	}
}

// LegendEntry is one row of the risk legend.
type LegendEntry struct {
	Level graph.RiskLevel `json:"level"`
	Color string          `json:"color"`
	Label string          `json:"label"`
}

// Legend lists every band in display order.
func Legend() []LegendEntry {
	return []LegendEntry{
		{graph.LevelHigh, ColorHigh, "High risk (score > 70)"},
		{graph.LevelMedium, ColorMedium, "Medium risk (31-70)"},
		{graph.LevelLow, ColorLow, "Low risk (0-30)"},
		{graph.LevelUnknown, ColorUnknown, "Unknown / not screened"},
	}
}

// NodeView is a node as the layout script consumes it.
type NodeView struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	Chain      string          `json:"chain"`
	Role       graph.Role      `json:"role"`
	Hop        int             `json:"hop"`
	Level      graph.RiskLevel `json:"level"`
	Score      *float64        `json:"score"`
	Color      string          `json:"color"`
	Category   string          `json:"category"`
	Sanctioned bool            `json:"sanctioned"`
	Status     string          `json:"status"`
	Contract   bool            `json:"contract"`
	Volume     float64         `json:"volume"`
	TxCount    int             `json:"tx_count"`
	Size       float64         `json:"size"`
}

// LinkView is an aggregated edge as the layout script consumes it.
type LinkView struct {
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	Chain     string          `json:"chain"`
	Volume    float64         `json:"volume"`
	TxCount   int             `json:"tx_count"`
	Token     string          `json:"token"`
	Direction graph.Direction `json:"direction"`
	Width     float64         `json:"width"`
	Flagged   bool            `json:"flagged,omitempty"`
}

// Payload is the graph snapshot embedded in the report.
type Payload struct {
	Nodes []NodeView `json:"nodes"`
	Links []LinkView `json:"links"`
}

// BuildPayload snapshots g for rendering.
func BuildPayload(g *graph.Graph) Payload {
	p := Payload{Nodes: []NodeView{}, Links: []LinkView{}}
	for _, n := range g.Nodes() {
		size := 4 + math.Log10(1+n.Volume)*2
		if n.IsSeed() {
			size += 4
		}
		p.Nodes = append(p.Nodes, NodeView{
			ID:         n.Address,
			Label:      n.Risk.Label,
			Chain:      n.Chain,
			Role:       n.Role,
			Hop:        n.Hop,
			Level:      n.Risk.Level,
			Score:      n.Risk.Score,
			Color:      ColorFor(n.Risk.Level),
			Category:   n.Risk.Category,
			Sanctioned: n.Risk.Sanctioned,
			Status:     string(n.Risk.Status),
			Contract:   n.LikelyContract(),
			Volume:     n.Volume,
			TxCount:    n.TxCount,
			Size:       math.Round(size*100) / 100,
		})
	}
	for _, e := range g.Edges() {
		p.Links = append(p.Links, LinkView{
			Source:    e.Source,
			Target:    e.Target,
			Chain:     e.Chain,
			Volume:    e.Volume,
			TxCount:   e.TxCount,
			Token:     e.Token,
			Direction: e.Direction,
			Width:     math.Round((1+math.Log10(1+e.Volume))*100) / 100,
			Flagged:   e.Flagged,
		})
	}
	return p
}
