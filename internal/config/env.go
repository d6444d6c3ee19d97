package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Credential environment variables.
const (
	EnvAgentKey    = "ANTHROPIC_API_KEY" // required: orchestrating agent
	EnvRiskKey     = "TRM_API_KEY"       // optional: live enrichment
	EnvExplorerKey = "MORALIS_API_KEY"   // optional: live transaction history
)

// ErrMissingCredential is returned when a required credential is not set.
var ErrMissingCredential = errors.New("missing required credential")

// Credentials holds API keys read from the environment.
type Credentials struct {
	AgentKey    string
	RiskKey     string
	ExplorerKey string
}

// LiveEnrichment reports whether enrichment should call the real API.
func (c Credentials) LiveEnrichment() bool { return c.RiskKey != "" }

// LiveExplorer reports whether transaction history should come from the real API.
func (c Credentials) LiveExplorer() bool { return c.ExplorerKey != "" }

// LoadEnvFiles loads .env files into the process environment.
// Variables already set in the environment win. Missing files are ignored,
// and the returned slice lists the files that were actually loaded.
func LoadEnvFiles(paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var loaded []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, fmt.Errorf("load env file %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// CredentialsFromEnv reads credentials using lookup (os.LookupEnv when nil).
// It fails with ErrMissingCredential when the agent key is absent; the
// optional keys only switch between live and mock modes.
func CredentialsFromEnv(lookup func(string) (string, bool)) (Credentials, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	creds := Credentials{
		AgentKey:    get(EnvAgentKey),
		RiskKey:     get(EnvRiskKey),
		ExplorerKey: get(EnvExplorerKey),
	}
	if creds.AgentKey == "" {
		return creds, fmt.Errorf("%w: %s", ErrMissingCredential, EnvAgentKey)
	}
	return creds, nil
}
