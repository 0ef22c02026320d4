package extension

import "time"

// Config holds the Coffer extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.coffer" or "coffer" keys).
type Config struct {
	// DisableRoutes prevents HTTP handler construction.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for coffer routes (default: "/coffer").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// TxTimeout bounds each store transaction (default: 5s).
	TxTimeout time.Duration `json:"tx_timeout" mapstructure:"tx_timeout" yaml:"tx_timeout"`

	// TxAttempts is how often a transaction that lost a uniqueness race is
	// run (default: 3).
	TxAttempts int `json:"tx_attempts" mapstructure:"tx_attempts" yaml:"tx_attempts"`

	// DefaultUnitPrice is charged for locked units without a price
	// (default: 50).
	DefaultUnitPrice int64 `json:"default_unit_price" mapstructure:"default_unit_price" yaml:"default_unit_price"`

	// GrantCacheSize enables the in-process grant cache when positive.
	GrantCacheSize int `json:"grant_cache_size" mapstructure:"grant_cache_size" yaml:"grant_cache_size"`

	// GrantCacheTTL controls how long a cached grant answer is trusted
	// (default: 30s).
	GrantCacheTTL time.Duration `json:"grant_cache_ttl" mapstructure:"grant_cache_ttl" yaml:"grant_cache_ttl"`

	// EngagementQueueSize is the capacity of the engagement queue
	// (default: 1024).
	EngagementQueueSize int `json:"engagement_queue_size" mapstructure:"engagement_queue_size" yaml:"engagement_queue_size"`

	// CatalogFile is a YAML content catalog used to price units.
	CatalogFile string `json:"catalog_file" mapstructure:"catalog_file" yaml:"catalog_file"`

	// WebhookSecret is the HMAC secret the payment gateway signs credit
	// webhooks with. The credit route is refused while it is empty.
	WebhookSecret string `json:"-" mapstructure:"webhook_secret" yaml:"webhook_secret"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:            "/coffer",
		TxTimeout:           5 * time.Second,
		TxAttempts:          3,
		DefaultUnitPrice:    50,
		GrantCacheTTL:       30 * time.Second,
		EngagementQueueSize: 1024,
	}
}
