package extension

import (
	"time"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/content"
	"github.com/xraph/coffer/plugin"
	"github.com/xraph/coffer/store"
)

// Option configures the Coffer Forge extension.
type Option func(*Extension)

// WithStore sets the store for the coffer engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithDirectory sets the content catalog used to price units. It takes
// precedence over Config.CatalogFile.
func WithDirectory(d content.Directory) Option {
	return func(e *Extension) {
		e.directory = d
	}
}

// WithCofferOption passes a coffer.Option through to the underlying engine.
func WithCofferOption(opt coffer.Option) Option {
	return func(e *Extension) {
		e.cofferOpts = append(e.cofferOpts, opt)
	}
}

// WithPlugin registers a coffer plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.cofferOpts = append(e.cofferOpts, coffer.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP handler construction.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for coffer routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithTxTimeout bounds each store transaction.
func WithTxTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.TxTimeout = d }
}

// WithDefaultUnitPrice sets the price of locked units without one.
func WithDefaultUnitPrice(price int64) Option {
	return func(e *Extension) { e.config.DefaultUnitPrice = price }
}

// WithGrantCache enables the grant cache.
func WithGrantCache(size int, ttl time.Duration) Option {
	return func(e *Extension) {
		e.config.GrantCacheSize = size
		e.config.GrantCacheTTL = ttl
	}
}

// WithEngagementQueueSize sets the engagement queue capacity.
func WithEngagementQueueSize(size int) Option {
	return func(e *Extension) { e.config.EngagementQueueSize = size }
}

// WithWebhookSecret sets the HMAC secret for the payment credit webhook.
func WithWebhookSecret(secret string) Option {
	return func(e *Extension) { e.config.WebhookSecret = secret }
}

// WithCatalogFile loads the content catalog from a YAML file.
func WithCatalogFile(path string) Option {
	return func(e *Extension) { e.config.CatalogFile = path }
}
