// Package extension provides the Forge extension adapter for Coffer.
//
// It implements the forge.Extension interface to integrate Coffer
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.coffer" or "coffer" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/api"
	"github.com/xraph/coffer/content"
	"github.com/xraph/coffer/store"
	"github.com/xraph/coffer/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "coffer"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Coin wallet and content entitlement engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Coffer as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *coffer.Coffer
	store      store.Store
	directory  content.Directory
	handler    http.Handler
	cofferOpts []coffer.Option
}

// New creates a new Coffer Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Coffer instance.
// This is nil until Register is called.
func (e *Extension) Engine() *coffer.Coffer { return e.engine }

// Handler returns the HTTP API mounted under the configured base path, or
// nil when routes are disabled or Register has not run.
func (e *Extension) Handler() http.Handler { return e.handler }

// Register implements [forge.Extension]. It loads configuration,
// initializes the coffer engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	if e.directory == nil && e.config.CatalogFile != "" {
		dir, err := content.LoadFile(e.config.CatalogFile)
		if err != nil {
			return fmt.Errorf("coffer: %w", err)
		}
		e.directory = dir
	}

	e.engine = coffer.New(e.store, e.buildCofferOpts()...)

	if err := vessel.Provide(fapp.Container(), func() (*coffer.Coffer, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}

	h := api.NewHandler(e.engine, api.WithWebhookSecret(e.config.WebhookSecret))
	e.handler = mount(e.config.BasePath, api.NewRouter(h))
	return vessel.Provide(fapp.Container(), func() (*api.Handler, error) {
		return h, nil
	})
}

// mount serves h below prefix.
func mount(prefix string, h http.Handler) http.Handler {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		return h
	}
	return http.StripPrefix(prefix, h)
}

// Start implements [forge.Extension]. With migrations disabled the engine
// is not started and engagement is recorded inline.
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("coffer: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("coffer: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildCofferOpts constructs coffer.Option values from the resolved config.
func (e *Extension) buildCofferOpts() []coffer.Option {
	opts := make([]coffer.Option, 0, len(e.cofferOpts)+6)

	opts = append(opts,
		coffer.WithTxTimeout(e.config.TxTimeout),
		coffer.WithTxAttempts(e.config.TxAttempts),
		coffer.WithDefaultUnitPrice(e.config.DefaultUnitPrice),
		coffer.WithEngagementQueue(e.config.EngagementQueueSize),
	)

	if e.config.GrantCacheSize > 0 {
		opts = append(opts, coffer.WithGrantCache(e.config.GrantCacheSize, e.config.GrantCacheTTL))
	}

	if e.directory != nil {
		opts = append(opts, coffer.WithDirectory(e.directory))
	}

	// Append any pass-through coffer options.
	opts = append(opts, e.cofferOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("coffer: configuration is required but not found in config files; " +
				"ensure 'extensions.coffer' or 'coffer' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("coffer: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("tx_timeout", e.config.TxTimeout),
		forge.F("default_unit_price", e.config.DefaultUnitPrice),
		forge.F("grant_cache_size", e.config.GrantCacheSize),
		forge.F("engagement_queue_size", e.config.EngagementQueueSize),
		forge.F("catalog_file", e.config.CatalogFile),
		forge.F("webhook_signed", e.config.WebhookSecret != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.coffer" first (namespaced pattern).
	if cm.IsSet("extensions.coffer") {
		if err := cm.Bind("extensions.coffer", &cfg); err == nil {
			e.Logger().Debug("coffer: loaded config from file",
				forge.F("key", "extensions.coffer"),
			)
			return cfg, true
		}
		e.Logger().Warn("coffer: failed to bind extensions.coffer config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "coffer" key.
	if cm.IsSet("coffer") {
		if err := cm.Bind("coffer", &cfg); err == nil {
			e.Logger().Debug("coffer: loaded config from file",
				forge.F("key", "coffer"),
			)
			return cfg, true
		}
		e.Logger().Warn("coffer: failed to bind coffer config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.TxTimeout == 0 {
		cfg.TxTimeout = defaults.TxTimeout
	}
	if cfg.TxAttempts == 0 {
		cfg.TxAttempts = defaults.TxAttempts
	}
	if cfg.DefaultUnitPrice == 0 {
		cfg.DefaultUnitPrice = defaults.DefaultUnitPrice
	}
	if cfg.GrantCacheTTL == 0 {
		cfg.GrantCacheTTL = defaults.GrantCacheTTL
	}
	if cfg.EngagementQueueSize == 0 {
		cfg.EngagementQueueSize = defaults.EngagementQueueSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.CatalogFile == "" && programmaticConfig.CatalogFile != "" {
		yamlConfig.CatalogFile = programmaticConfig.CatalogFile
	}
	if yamlConfig.WebhookSecret == "" && programmaticConfig.WebhookSecret != "" {
		yamlConfig.WebhookSecret = programmaticConfig.WebhookSecret
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.TxTimeout == 0 && programmaticConfig.TxTimeout != 0 {
		yamlConfig.TxTimeout = programmaticConfig.TxTimeout
	}
	if yamlConfig.TxAttempts == 0 && programmaticConfig.TxAttempts != 0 {
		yamlConfig.TxAttempts = programmaticConfig.TxAttempts
	}
	if yamlConfig.DefaultUnitPrice == 0 && programmaticConfig.DefaultUnitPrice != 0 {
		yamlConfig.DefaultUnitPrice = programmaticConfig.DefaultUnitPrice
	}
	if yamlConfig.GrantCacheSize == 0 && programmaticConfig.GrantCacheSize != 0 {
		yamlConfig.GrantCacheSize = programmaticConfig.GrantCacheSize
	}
	if yamlConfig.GrantCacheTTL == 0 && programmaticConfig.GrantCacheTTL != 0 {
		yamlConfig.GrantCacheTTL = programmaticConfig.GrantCacheTTL
	}
	if yamlConfig.EngagementQueueSize == 0 && programmaticConfig.EngagementQueueSize != 0 {
		yamlConfig.EngagementQueueSize = programmaticConfig.EngagementQueueSize
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
