package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/subscription"
	"github.com/xraph/coffer/wallet"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It caches each hook's implementers at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onWalletApplied       []OnWalletApplied
	onWalletReplayed      []OnWalletReplayed
	onInsufficientBalance []OnInsufficientBalance
	onIdempotencyConflict []OnIdempotencyConflict
	onUnlocked            []OnUnlocked
	onAlreadyUnlocked     []OnAlreadyUnlocked
	onSubscriptionCreated []OnSubscriptionCreated
	onEngagementFailed    []OnEngagementFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout bounds each hook call.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnWalletApplied); ok {
		r.onWalletApplied = append(r.onWalletApplied, v)
	}
	if v, ok := p.(OnWalletReplayed); ok {
		r.onWalletReplayed = append(r.onWalletReplayed, v)
	}
	if v, ok := p.(OnInsufficientBalance); ok {
		r.onInsufficientBalance = append(r.onInsufficientBalance, v)
	}
	if v, ok := p.(OnIdempotencyConflict); ok {
		r.onIdempotencyConflict = append(r.onIdempotencyConflict, v)
	}
	if v, ok := p.(OnUnlocked); ok {
		r.onUnlocked = append(r.onUnlocked, v)
	}
	if v, ok := p.(OnAlreadyUnlocked); ok {
		r.onAlreadyUnlocked = append(r.onAlreadyUnlocked, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnEngagementFailed); ok {
		r.onEngagementFailed = append(r.onEngagementFailed, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedHooks(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnWalletApplied", reflect.TypeOf((*OnWalletApplied)(nil)).Elem()},
	{"OnWalletReplayed", reflect.TypeOf((*OnWalletReplayed)(nil)).Elem()},
	{"OnInsufficientBalance", reflect.TypeOf((*OnInsufficientBalance)(nil)).Elem()},
	{"OnIdempotencyConflict", reflect.TypeOf((*OnIdempotencyConflict)(nil)).Elem()},
	{"OnUnlocked", reflect.TypeOf((*OnUnlocked)(nil)).Elem()},
	{"OnAlreadyUnlocked", reflect.TypeOf((*OnAlreadyUnlocked)(nil)).Elem()},
	{"OnSubscriptionCreated", reflect.TypeOf((*OnSubscriptionCreated)(nil)).Elem()},
	{"OnEngagementFailed", reflect.TypeOf((*OnEngagementFailed)(nil)).Elem()},
}

// implementedHooks lists the hook interfaces p implements.
func implementedHooks(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for each plugin in ps, logging failures under hook.
func emit[P Plugin](r *Registry, ctx context.Context, hook string, ps []P, fn func(P) error) {
	for _, p := range ps {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	emit(r, ctx, "OnInit", plugins, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	emit(r, ctx, "OnShutdown", plugins, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitWalletApplied emits a committed wallet entry.
func (r *Registry) EmitWalletApplied(ctx context.Context, entry *wallet.Entry) {
	r.mu.RLock()
	plugins := r.onWalletApplied
	r.mu.RUnlock()

	emit(r, ctx, "OnWalletApplied", plugins, func(p OnWalletApplied) error {
		return p.OnWalletApplied(ctx, entry)
	})
}

// EmitWalletReplayed emits an idempotent replay.
func (r *Registry) EmitWalletReplayed(ctx context.Context, entry *wallet.Entry) {
	r.mu.RLock()
	plugins := r.onWalletReplayed
	r.mu.RUnlock()

	emit(r, ctx, "OnWalletReplayed", plugins, func(p OnWalletReplayed) error {
		return p.OnWalletReplayed(ctx, entry)
	})
}

// EmitInsufficientBalance emits a refused debit.
func (r *Registry) EmitInsufficientBalance(ctx context.Context, userID string, delta int64, reason wallet.Reason) {
	r.mu.RLock()
	plugins := r.onInsufficientBalance
	r.mu.RUnlock()

	emit(r, ctx, "OnInsufficientBalance", plugins, func(p OnInsufficientBalance) error {
		return p.OnInsufficientBalance(ctx, userID, delta, reason)
	})
}

// EmitIdempotencyConflict emits a key reused across users.
func (r *Registry) EmitIdempotencyConflict(ctx context.Context, userID, key string) {
	r.mu.RLock()
	plugins := r.onIdempotencyConflict
	r.mu.RUnlock()

	emit(r, ctx, "OnIdempotencyConflict", plugins, func(p OnIdempotencyConflict) error {
		return p.OnIdempotencyConflict(ctx, userID, key)
	})
}

// EmitUnlocked emits a newly created grant.
func (r *Registry) EmitUnlocked(ctx context.Context, grant *entitlement.Grant, entry *wallet.Entry) {
	r.mu.RLock()
	plugins := r.onUnlocked
	r.mu.RUnlock()

	emit(r, ctx, "OnUnlocked", plugins, func(p OnUnlocked) error {
		return p.OnUnlocked(ctx, grant, entry)
	})
}

// EmitAlreadyUnlocked emits an unlock that found an existing grant.
func (r *Registry) EmitAlreadyUnlocked(ctx context.Context, userID string, catalog entitlement.Catalog, unitID string) {
	r.mu.RLock()
	plugins := r.onAlreadyUnlocked
	r.mu.RUnlock()

	emit(r, ctx, "OnAlreadyUnlocked", plugins, func(p OnAlreadyUnlocked) error {
		return p.OnAlreadyUnlocked(ctx, userID, catalog, unitID)
	})
}

// EmitSubscriptionCreated emits a recorded subscription period.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, period *subscription.Period) {
	r.mu.RLock()
	plugins := r.onSubscriptionCreated
	r.mu.RUnlock()

	emit(r, ctx, "OnSubscriptionCreated", plugins, func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, period)
	})
}

// EmitEngagementFailed emits a swallowed engagement recorder failure.
func (r *Registry) EmitEngagementFailed(ctx context.Context, userID string, catalog entitlement.Catalog, err error) {
	r.mu.RLock()
	plugins := r.onEngagementFailed
	r.mu.RUnlock()

	emit(r, ctx, "OnEngagementFailed", plugins, func(p OnEngagementFailed) error {
		return p.OnEngagementFailed(ctx, userID, catalog, err)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never stall the caller that emitted the event.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
