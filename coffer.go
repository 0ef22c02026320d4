package coffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/coffer/content"
	"github.com/xraph/coffer/engagement"
	"github.com/xraph/coffer/entitlement"
	"github.com/xraph/coffer/plugin"
	"github.com/xraph/coffer/store"
)

// Defaults applied by New.
const (
	DefaultTxTimeout        = 5 * time.Second
	DefaultTxAttempts       = 3
	DefaultUnitPrice  int64 = 50
	DefaultQueueSize        = 1024
)

// Coffer is the entitlement and wallet engine.
type Coffer struct {
	store     store.Store
	plugins   *plugin.Registry
	logger    *slog.Logger
	tracer    trace.Tracer
	recorder  engagement.Recorder
	directory content.Directory
	grants    *entitlement.Cache
	now       func() time.Time

	// Engagement worker
	queueMu         sync.RWMutex
	running         bool
	engagementQueue chan engagementEvent
	queueSize       int
	wg              sync.WaitGroup

	// Configuration
	txTimeout        time.Duration
	txAttempts       int
	defaultUnitPrice int64
}

// New creates a new Coffer on top of s.
func New(s store.Store, opts ...Option) *Coffer {
	c := &Coffer{
		store:            s,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		tracer:           otel.Tracer("github.com/xraph/coffer"),
		directory:        noDirectory,
		now:              time.Now,
		queueSize:        DefaultQueueSize,
		txTimeout:        DefaultTxTimeout,
		txAttempts:       DefaultTxAttempts,
		defaultUnitPrice: DefaultUnitPrice,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.recorder == nil {
		c.recorder = engagement.NewTracker(s, engagement.WithClock(c.now))
	}

	return c
}

// noDirectory knows no units.
var noDirectory = content.DirectoryFunc(func(_ context.Context, catalog entitlement.Catalog, unitID string) (*content.Unit, error) {
	return nil, fmt.Errorf("%w: %s/%s", content.ErrUnitNotFound, catalog, unitID)
})

// Option configures a Coffer instance.
type Option func(*Coffer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coffer) {
		c.logger = logger
		c.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(c *Coffer) {
		_ = c.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithRecorder replaces the store-backed engagement tracker.
func WithRecorder(r engagement.Recorder) Option {
	return func(c *Coffer) {
		c.recorder = r
	}
}

// WithDirectory sets the content catalog used by UnlockUnit.
func WithDirectory(d content.Directory) Option {
	return func(c *Coffer) {
		if d != nil {
			c.directory = d
		}
	}
}

// WithTxTimeout bounds every store transaction.
func WithTxTimeout(d time.Duration) Option {
	return func(c *Coffer) {
		if d > 0 {
			c.txTimeout = d
		}
	}
}

// WithTxAttempts sets how many times a transaction is run when it loses a
// uniqueness race.
func WithTxAttempts(n int) Option {
	return func(c *Coffer) {
		if n > 0 {
			c.txAttempts = n
		}
	}
}

// WithDefaultUnitPrice sets the price charged for a locked unit that carries
// no price of its own.
func WithDefaultUnitPrice(price int64) Option {
	return func(c *Coffer) {
		if price > 0 {
			c.defaultUnitPrice = price
		}
	}
}

// WithGrantCache enables an in-process cache of positive access answers.
func WithGrantCache(size int, ttl time.Duration) Option {
	return func(c *Coffer) {
		c.grants = entitlement.NewCache(size, ttl)
	}
}

// WithEngagementQueue sets the capacity of the engagement queue.
func WithEngagementQueue(size int) Option {
	return func(c *Coffer) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coffer) {
		c.now = now
	}
}

// WithTracer sets the tracer used for engine spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coffer) {
		c.tracer = t
	}
}

// Store returns the underlying store.
func (c *Coffer) Store() store.Store { return c.store }

// Plugins returns the plugin registry.
func (c *Coffer) Plugins() *plugin.Registry { return c.plugins }

// Start migrates the store and starts the engagement worker. Before Start,
// engagement is recorded inline.
func (c *Coffer) Start(ctx context.Context) error {
	if err := c.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	c.plugins.EmitInit(ctx, c)

	c.queueMu.Lock()
	if !c.running {
		c.engagementQueue = make(chan engagementEvent, c.queueSize)
		c.running = true
		c.wg.Add(1)
		go c.engagementWorker(c.engagementQueue)
	}
	c.queueMu.Unlock()

	c.logger.Info("coffer started",
		"tx_timeout", c.txTimeout,
		"default_unit_price", c.defaultUnitPrice,
		"engagement_queue", c.queueSize,
		"plugins", c.plugins.Count(),
	)

	return nil
}

// Stop drains the engagement queue and closes the store.
func (c *Coffer) Stop() error {
	c.queueMu.Lock()
	if c.running {
		c.running = false
		close(c.engagementQueue)
	}
	c.queueMu.Unlock()
	c.wg.Wait()

	ctx := context.Background()
	c.plugins.EmitShutdown(ctx)

	return c.store.Close()
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// runTx runs fn in a store transaction detached from the caller's
// cancellation and bounded by the configured timeout. A unit that lost a
// uniqueness race is run again so it can observe the winner's write.
func (c *Coffer) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= c.txAttempts; attempt++ {
		err = c.runTxOnce(ctx, fn)
		if err == nil || !errors.Is(err, ErrAlreadyExists) {
			break
		}
		c.logger.Debug("transaction lost uniqueness race",
			"attempt", attempt,
			"error", err,
		)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTransactionFailed):
		return err
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	return err
}

func (c *Coffer) runTxOnce(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.txTimeout)
	defer cancel()
	return c.store.RunInTx(txCtx, fn)
}

// ──────────────────────────────────────────────────
// Tracing
// ──────────────────────────────────────────────────

func (c *Coffer) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// fail records err on span and returns it.
func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
