package config

// SearXNGConfig holds SearXNG service configuration for web search.
// The search and research modes depend on a reachable SearXNG instance;
// when it is unreachable those modes degrade to plain chat answers.
type SearXNGConfig struct {
	// BaseURL is the SearXNG instance URL (e.g., http://searxng:8080)
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	// MaxResults caps results consumed per query (default: 8)
	MaxResults int `mapstructure:"max_results" json:"max_results"`
}

// FetcherConfig holds page fetcher configuration for the research pipeline.
type FetcherConfig struct {
	// Parallelism is max concurrent requests per domain (default: 2)
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	// DelayMs is delay between requests in milliseconds (default: 1000)
	DelayMs int `mapstructure:"delay_ms" json:"delay_ms"`
	// TimeoutMs is request timeout in milliseconds (default: 30000)
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
	// MaxPages caps pages fetched per research run (default: 6)
	MaxPages int `mapstructure:"max_pages" json:"max_pages"`
}
