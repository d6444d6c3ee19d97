package graph

// Direction describes an aggregated edge relative to the seed addresses.
type Direction string

const (
	DirectionOutbound Direction = "outbound" // from a seed
	DirectionInbound  Direction = "inbound"  // into a seed
	DirectionLateral  Direction = "lateral"  // between two non-seed addresses
)

// Edge aggregates every transfer sharing (Source, Target, Chain).
type Edge struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Chain     string    `json:"chain"`
	Volume    float64   `json:"volume"`
	TxCount   int       `json:"tx_count"`
	Token     string    `json:"token"`
	TxHashes  []string  `json:"tx_hashes"`
	FirstSeen int64     `json:"first_seen"`
	LastSeen  int64     `json:"last_seen"`
	Direction Direction `json:"direction"`
	Flagged   bool      `json:"flagged,omitempty"`
}

type edgeKey struct {
	source, target, chain string
}

// Edges aggregates transfers per (source, target, chain), preserving the
// order in which each triple was first seen. Token is the most common
// symbol in the group (first seen wins ties).
func (g *Graph) Edges() []Edge {
	index := make(map[edgeKey]int)
	var edges []Edge
	tokenCounts := make([]map[string]int, 0)
	tokenOrder := make([][]string, 0)

	for _, t := range g.transfers {
		k := edgeKey{t.From, t.To, t.Chain}
		i, ok := index[k]
		if !ok {
			i = len(edges)
			index[k] = i
			edges = append(edges, Edge{
				Source:    t.From,
				Target:    t.To,
				Chain:     t.Chain,
				FirstSeen: t.Timestamp,
				LastSeen:  t.Timestamp,
				Direction: g.direction(t.From, t.To),
			})
			tokenCounts = append(tokenCounts, make(map[string]int))
			tokenOrder = append(tokenOrder, nil)
		}
		e := &edges[i]
		e.Volume += t.Amount
		e.TxCount++
		e.TxHashes = append(e.TxHashes, t.Hash)
		if t.Timestamp < e.FirstSeen {
			e.FirstSeen = t.Timestamp
		}
		if t.Timestamp > e.LastSeen {
			e.LastSeen = t.Timestamp
		}
		if t.Flagged {
			e.Flagged = true
		}
		if tokenCounts[i][t.Token] == 0 {
			tokenOrder[i] = append(tokenOrder[i], t.Token)
		}
		tokenCounts[i][t.Token]++
	}

	for i := range edges {
		best, bestN := "", 0
		for _, tok := range tokenOrder[i] {
			if n := tokenCounts[i][tok]; n > bestN {
				best, bestN = tok, n
			}
		}
		edges[i].Token = best
	}
	return edges
}

func (g *Graph) direction(from, to string) Direction {
	if n := g.nodes[from]; n != nil && n.IsSeed() {
		return DirectionOutbound
	}
	if n := g.nodes[to]; n != nil && n.IsSeed() {
		return DirectionInbound
	}
	return DirectionLateral
}

// TotalVolume sums the amount of every transfer.
func (g *Graph) TotalVolume() float64 {
	var total float64
	for _, t := range g.transfers {
		total += t.Amount
	}
	return total
}
