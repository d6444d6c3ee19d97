package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the config for:
//   - Required fields
//   - Depth bounds (default depth must not exceed the hard cap)
//   - Positive limits and worker counts
//   - Parsable API base URLs
func Validate(cfg *PipelineConfig) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if strings.TrimSpace(cfg.IncidentsPath) == "" {
		errs = append(errs, "incidents_path is required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		errs = append(errs, "output_dir is required")
	}

	n := cfg.Network
	if n.MaxDepth < 1 {
		errs = append(errs, fmt.Sprintf("network.max_depth must be >= 1, got %d", n.MaxDepth))
	}
	if n.DefaultDepth < 1 || n.DefaultDepth > n.MaxDepth {
		errs = append(errs, fmt.Sprintf("network.default_depth must be in [1, %d], got %d", n.MaxDepth, n.DefaultDepth))
	}
	if n.PerAddressLimit < 1 {
		errs = append(errs, fmt.Sprintf("network.per_address_limit must be >= 1, got %d", n.PerAddressLimit))
	}
	if n.MaxNodes < 1 {
		errs = append(errs, fmt.Sprintf("network.max_nodes must be >= 1, got %d", n.MaxNodes))
	}
	if n.FetchWorkers < 1 {
		errs = append(errs, fmt.Sprintf("network.fetch_workers must be >= 1, got %d", n.FetchWorkers))
	}

	if err := validateURL(cfg.Explorer.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("explorer.base_url: %s", err))
	}
	if cfg.Explorer.RequestsPerSecond < 0 {
		errs = append(errs, "explorer.requests_per_second must not be negative")
	}
	if cfg.Explorer.TimeoutMs < 0 {
		errs = append(errs, "explorer.timeout_ms must not be negative")
	}

	if err := validateURL(cfg.Enrichment.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("enrichment.base_url: %s", err))
	}
	if cfg.Enrichment.Workers < 1 {
		errs = append(errs, fmt.Sprintf("enrichment.workers must be >= 1, got %d", cfg.Enrichment.Workers))
	}
	if cfg.Enrichment.MaxNodes < 0 {
		errs = append(errs, "enrichment.max_nodes must not be negative")
	}
	if cfg.Enrichment.TimeoutMs < 0 {
		errs = append(errs, "enrichment.timeout_ms must not be negative")
	}

	if cfg.Report.TopEntities < 1 {
		errs = append(errs, fmt.Sprintf("report.top_entities must be >= 1, got %d", cfg.Report.TopEntities))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
