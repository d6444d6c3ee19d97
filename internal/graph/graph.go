package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Transfer is one raw value movement between two addresses.
type Transfer struct {
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Amount      float64 `json:"amount"`
	Token       string  `json:"token"`
	Timestamp   int64   `json:"timestamp"`
	BlockNumber int64   `json:"block_number"`
	Chain       string  `json:"chain"`
	IsToken     bool    `json:"is_token"`
	Contract    string  `json:"contract,omitempty"`
	Flagged     bool    `json:"flagged,omitempty"`
}

func (t Transfer) key() string {
	return strings.Join([]string{
		t.Chain, t.Hash, t.From, t.To, t.Token, t.Contract,
		strconv.FormatFloat(t.Amount, 'g', -1, 64),
	}, "|")
}

// Graph holds address nodes and the transfers between them.
// Nodes are keyed by normalized address and remember insertion order.
// Every transfer's endpoints are guaranteed to exist as nodes.
type Graph struct {
	nodes     map[string]*Node
	order     []string
	transfers []Transfer
	seen      map[string]struct{}
}

// New allocates an empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		seen:  make(map[string]struct{}),
	}
}

// EnsureNode returns the node for address, creating it with pending risk
// metadata if missing. An existing node is promoted to seed when role is
// RoleSeed and keeps the smallest hop it was reached at.
func (g *Graph) EnsureNode(address, chain string, role Role, hop int) *Node {
	addr := NormalizeAddress(address)
	if n, ok := g.nodes[addr]; ok {
		if role == RoleSeed {
			n.Role = RoleSeed
		}
		if hop < n.Hop {
			n.Hop = hop
		}
		return n
	}
	n := &Node{
		Address: addr,
		Chain:   chain,
		Role:    role,
		Hop:     hop,
		Risk:    pendingRisk(),
	}
	g.nodes[addr] = n
	g.order = append(g.order, addr)
	return n
}

// AddTransfer records t, creating missing endpoint nodes at hop.
// Transfers missing from/to/hash, self-transfers, and duplicates (the same
// transfer seen from both endpoints' histories) are ignored; the return
// value reports whether t was added.
func (g *Graph) AddTransfer(t Transfer, hop int) bool {
	t.From = NormalizeAddress(t.From)
	t.To = NormalizeAddress(t.To)
	t.Hash = strings.TrimSpace(t.Hash)
	if t.From == "" || t.To == "" || t.Hash == "" {
		return false
	}
	if t.From == t.To {
		return false
	}
	k := t.key()
	if _, dup := g.seen[k]; dup {
		return false
	}
	g.seen[k] = struct{}{}

	from := g.EnsureNode(t.From, t.Chain, RoleCounterparty, hop)
	to := g.EnsureNode(t.To, t.Chain, RoleCounterparty, hop)
	from.TxCount++
	to.TxCount++
	from.Volume += t.Amount
	to.Volume += t.Amount

	g.transfers = append(g.transfers, t)
	return true
}

// FlagTransactions marks transfers whose hash is in ids (case-insensitive)
// and returns how many were marked.
func (g *Graph) FlagTransactions(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	flagged := 0
	for i := range g.transfers {
		if _, ok := want[strings.ToLower(g.transfers[i].Hash)]; ok {
			g.transfers[i].Flagged = true
			flagged++
		}
	}
	return flagged
}

// Node returns the node for address (nil if not found).
func (g *Graph) Node(address string) *Node {
	return g.nodes[NormalizeAddress(address)]
}

// Has reports whether address is a node.
func (g *Graph) Has(address string) bool {
	_, ok := g.nodes[NormalizeAddress(address)]
	return ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, addr := range g.order {
		out = append(out, g.nodes[addr])
	}
	return out
}

// Seeds returns the seed nodes in insertion order.
func (g *Graph) Seeds() []*Node {
	var out []*Node
	for _, addr := range g.order {
		if n := g.nodes[addr]; n.IsSeed() {
			out = append(out, n)
		}
	}
	return out
}

// Transfers returns the raw transfers in the order they were added.
func (g *Graph) Transfers() []Transfer {
	out := make([]Transfer, len(g.transfers))
	copy(out, g.transfers)
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// TransferCount returns the number of raw transfers.
func (g *Graph) TransferCount() int { return len(g.transfers) }

// Validate checks that every transfer endpoint exists as a node.
func (g *Graph) Validate() error {
	for i, t := range g.transfers {
		if !g.Has(t.From) {
			return fmt.Errorf("transfer %d (%s): dangling source %s", i, t.Hash, t.From)
		}
		if !g.Has(t.To) {
			return fmt.Errorf("transfer %d (%s): dangling target %s", i, t.Hash, t.To)
		}
	}
	return nil
}
