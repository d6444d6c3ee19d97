package config

// PipelineConfig is the top-level YAML structure.
type PipelineConfig struct {
	Version       string         `yaml:"version"`
	IncidentsPath string         `yaml:"incidents_path"`
	OutputDir     string         `yaml:"output_dir"`
	Network       NetworkConf    `yaml:"network"`
	Explorer      ExplorerConf   `yaml:"explorer"`
	Enrichment    EnrichmentConf `yaml:"enrichment"`
	Report        ReportConf     `yaml:"report"`
}

// NetworkConf bounds the breadth-first transaction expansion.
type NetworkConf struct {
	DefaultDepth    int `yaml:"default_depth"`
	MaxDepth        int `yaml:"max_depth"`
	PerAddressLimit int `yaml:"per_address_limit"`
	MaxNodes        int `yaml:"max_nodes"`
	FetchWorkers    int `yaml:"fetch_workers"`
}

// ExplorerConf configures the transaction history source.
type ExplorerConf struct {
	BaseURL           string  `yaml:"base_url"`
	CacheDir          string  `yaml:"cache_dir"` // empty = no disk cache
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	TimeoutMs         int     `yaml:"timeout_ms"`
	MaxAttempts       int     `yaml:"max_attempts"`
	MockSeed          int64   `yaml:"mock_seed"`
}

// EnrichmentConf configures the risk/entity client and its fan-out.
type EnrichmentConf struct {
	BaseURL       string `yaml:"base_url"`
	Workers       int    `yaml:"workers"`
	MaxNodes      int    `yaml:"max_nodes"` // 0 = every node
	TimeoutMs     int    `yaml:"timeout_ms"`
	MaxAttempts   int    `yaml:"max_attempts"`
	MockSeed      int64  `yaml:"mock_seed"`
	RedisAddr     string `yaml:"redis_addr"` // empty = no cache
	CacheTTLHours int    `yaml:"cache_ttl_hours"`
}

// ReportConf tunes the rendered summary.
type ReportConf struct {
	Title       string `yaml:"title"`
	TopEntities int    `yaml:"top_entities"`
}
