package incident

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when no incident has the requested id.
	ErrNotFound = errors.New("incident not found")
	// ErrInvalidRecord marks a record that cannot be used and was skipped.
	ErrInvalidRecord = errors.New("invalid incident record")
	// ErrEmpty is returned by First when the file lists no incidents.
	ErrEmpty = errors.New("no incidents in file")
)

// Seed is one incident address with an optional per-address chain override.
type Seed struct {
	Address    string `yaml:"address" json:"address"`
	Blockchain string `yaml:"blockchain,omitempty" json:"blockchain,omitempty"`
}

// UnmarshalYAML accepts either a bare address string or an
// {address, blockchain} mapping.
func (s *Seed) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Address = strings.TrimSpace(node.Value)
		return nil
	case yaml.MappingNode:
		type plain Seed
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*s = Seed{
			Address:    strings.TrimSpace(p.Address),
			Blockchain: strings.TrimSpace(p.Blockchain),
		}
		return nil
	default:
		return fmt.Errorf("line %d: address must be a string or an object", node.Line)
	}
}

// UnmarshalJSON accepts the same two shapes as UnmarshalYAML.
func (s *Seed) UnmarshalJSON(data []byte) error {
	var addr string
	if err := json.Unmarshal(data, &addr); err == nil {
		s.Address = strings.TrimSpace(addr)
		return nil
	}
	type plain Seed
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("address must be a string or an object: %w", err)
	}
	*s = Seed{
		Address:    strings.TrimSpace(p.Address),
		Blockchain: strings.TrimSpace(p.Blockchain),
	}
	return nil
}

// Incident is one investigation record. It is immutable once loaded.
type Incident struct {
	ID                 string   `yaml:"id" json:"id"`
	Name               string   `yaml:"name" json:"name"`
	Blockchain         string   `yaml:"blockchain" json:"blockchain"`
	Addresses          []Seed   `yaml:"addresses" json:"addresses"`
	TransactionIDs     []string `yaml:"transaction_ids" json:"transaction_ids"`
	Description        string   `yaml:"description" json:"description"`
	NetworkDepth       int      `yaml:"network_depth,omitempty" json:"network_depth,omitempty"`
	ScreenForSanctions []string `yaml:"screen_for_sanctions,omitempty" json:"screen_for_sanctions,omitempty"`
}

// ChainFor returns the chain a seed lives on, falling back to the incident's.
func (inc *Incident) ChainFor(s Seed) string {
	if s.Blockchain != "" {
		return strings.ToLower(s.Blockchain)
	}
	return strings.ToLower(inc.Blockchain)
}

// SeedAddresses returns the bare seed addresses in file order.
func (inc *Incident) SeedAddresses() []string {
	out := make([]string, 0, len(inc.Addresses))
	for _, s := range inc.Addresses {
		out = append(out, s.Address)
	}
	return out
}

// Title is the display name, falling back to the id.
func (inc *Incident) Title() string {
	if inc.Name != "" {
		return inc.Name
	}
	return inc.ID
}

func (inc *Incident) validate() error {
	var errs []error
	if strings.TrimSpace(inc.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(inc.Blockchain) == "" {
		errs = append(errs, errors.New("blockchain is required"))
	}
	if len(inc.Addresses) == 0 {
		errs = append(errs, errors.New("at least one address is required"))
	}
	for i, s := range inc.Addresses {
		if s.Address == "" {
			errs = append(errs, fmt.Errorf("addresses[%d] is empty", i))
		}
	}
	if inc.NetworkDepth < 0 {
		errs = append(errs, fmt.Errorf("network_depth must be >= 0, got %d", inc.NetworkDepth))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, errors.Join(errs...))
	}
	return nil
}

// Records are decoded one at a time so a single bad record is skipped
// instead of failing the whole file.
type yamlDocument struct {
	Incidents []yaml.Node `yaml:"incidents"`
}

type jsonDocument struct {
	Incidents []json.RawMessage `json:"incidents"`
}
