package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/silvermint/dexquote/internal/orderbook"
	"github.com/silvermint/dexquote/internal/source"
	"github.com/silvermint/dexquote/pkg/metrics"
)

var (
	// ErrNoSnapshot is returned before the first successful refresh. After
	// that, failed refreshes keep the last-known-good snapshot and this
	// error is never seen again.
	ErrNoSnapshot = errors.New("no orderbook snapshot published yet")

	// ErrMarketNotFound is returned for pairs absent from the current
	// snapshot set.
	ErrMarketNotFound = errors.New("market not found")
)

// PubSubBackend receives the serialized orderbook payload after each
// successful refresh. Publishing is best effort.
type PubSubBackend interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SerializedBook is one market's aggregated book inside a serialized payload.
type SerializedBook struct {
	Base    string         `json:"base"`
	Quote   string         `json:"quote"`
	Bids    orderbook.Side `json:"bids"`
	Asks    orderbook.Side `json:"asks"`
	TakenAt time.Time      `json:"taken_at"`
}

// SerializedPayload is the immutable, self-contained representation of all
// current order books handed to compute workers. It holds no live references
// back into the cache.
type SerializedPayload struct {
	Books   []SerializedBook `json:"books"`
	TakenAt time.Time        `json:"taken_at"`
}

// snapshotSet is one published generation of cache state. It is immutable:
// a refresh builds a complete new set and swaps the pointer.
type snapshotSet struct {
	books   map[source.Market]*orderbook.Snapshot
	raw     *source.RawOrderSet
	takenAt time.Time
}

// Cache maintains the freshest obtainable order-book view, decoupling the
// refresh cadence from request latency. Readers never block on an in-flight
// refresh: they see the previous snapshot until the atomic swap completes.
type Cache struct {
	logger   *zap.Logger
	src      source.DataSource
	pubsub   PubSubBackend // optional, may be nil
	interval time.Duration
	channel  string

	current atomic.Pointer[snapshotSet]

	mu        sync.Mutex
	stopChan  chan struct{}
	isRunning bool
}

// New creates a cache polling src every interval. pubsub may be nil.
func New(logger *zap.Logger, src source.DataSource, interval time.Duration, pubsub PubSubBackend) *Cache {
	return &Cache{
		logger:   logger.Named("orderbook-cache"),
		src:      src,
		pubsub:   pubsub,
		interval: interval,
		channel:  "orderbooks",
		stopChan: make(chan struct{}),
	}
}

// Start runs one immediate refresh attempt and then begins the recurring
// background refresh. A failed first refresh is logged, not fatal: the cache
// simply has no snapshot until a cycle succeeds.
func (c *Cache) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return fmt.Errorf("orderbook cache is already running")
	}
	c.isRunning = true

	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	if err := c.Refresh(ctx); err != nil {
		c.logger.Error("initial orderbook refresh failed", zap.Error(err))
	}
	cancel()

	go c.refreshLoop()

	c.logger.Info("orderbook cache started", zap.Duration("poll_interval", c.interval))
	return nil
}

// Stop halts the refresh loop. The current snapshot stays readable.
func (c *Cache) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return fmt.Errorf("orderbook cache is not running")
	}
	close(c.stopChan)
	c.isRunning = false

	c.logger.Info("orderbook cache stopped")
	return nil
}

// Refresh fetches the raw order set, aggregates every market and atomically
// publishes the new snapshot set. On failure the previous set is retained
// (last-known-good) and the error returned.
func (c *Cache) Refresh(ctx context.Context) error {
	metrics.RefreshTotal.Inc()
	timer := prometheus.NewTimer(metrics.RefreshDuration)
	defer timer.ObserveDuration()

	set, err := c.src.FetchOrders(ctx)
	if err != nil {
		metrics.RefreshFailures.Inc()
		return fmt.Errorf("orderbook fetch failed: %w", err)
	}

	books := make(map[source.Market]*orderbook.Snapshot, len(set.Orders))
	dropped := 0
	for _, market := range set.Markets() {
		bids, asks := set.MarketOrders(market)
		snap, d := orderbook.AggregateLenient(bids, asks)
		dropped += d
		books[market] = snap
	}
	if dropped > 0 {
		c.logger.Warn("dropped malformed offers during aggregation", zap.Int("count", dropped))
	}

	next := &snapshotSet{
		books:   books,
		raw:     set,
		takenAt: time.Now().UTC(),
	}
	c.current.Store(next)
	metrics.SnapshotAge.Set(0)

	c.logger.Debug("published orderbook snapshot",
		zap.Int("markets", len(books)),
		zap.Int("orders", len(set.Orders)))

	c.publish(ctx)
	return nil
}

// Snapshot returns the latest published snapshot for the pair. O(1), never
// blocks on a refresh in progress.
func (c *Cache) Snapshot(base, quote string) (*orderbook.Snapshot, error) {
	cur := c.current.Load()
	if cur == nil {
		return nil, ErrNoSnapshot
	}
	snap, ok := cur.books[source.Market{Base: base, Quote: quote}]
	if !ok {
		return nil, fmt.Errorf("%w: %s-%s", ErrMarketNotFound, base, quote)
	}
	return snap, nil
}

// Markets lists the pairs present in the current snapshot set, sorted.
func (c *Cache) Markets() []source.Market {
	cur := c.current.Load()
	if cur == nil {
		return nil
	}
	out := make([]source.Market, 0, len(cur.books))
	for m := range cur.books {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// LastRefreshAt reports when the current snapshot set was published.
func (c *Cache) LastRefreshAt() (time.Time, bool) {
	cur := c.current.Load()
	if cur == nil {
		return time.Time{}, false
	}
	return cur.takenAt, true
}

// SerializeOrderbooks produces an immutable payload of all current order
// books, suitable for handing to an isolated compute worker.
func (c *Cache) SerializeOrderbooks() ([]byte, error) {
	cur := c.current.Load()
	if cur == nil {
		return nil, ErrNoSnapshot
	}

	payload := SerializedPayload{
		Books:   make([]SerializedBook, 0, len(cur.books)),
		TakenAt: cur.takenAt,
	}
	for market, snap := range cur.books {
		payload.Books = append(payload.Books, SerializedBook{
			Base:    market.Base,
			Quote:   market.Quote,
			Bids:    snap.Bids,
			Asks:    snap.Asks,
			TakenAt: snap.TakenAt,
		})
	}
	sort.Slice(payload.Books, func(i, j int) bool {
		if payload.Books[i].Base != payload.Books[j].Base {
			return payload.Books[i].Base < payload.Books[j].Base
		}
		return payload.Books[i].Quote < payload.Books[j].Quote
	})

	return json.Marshal(payload)
}

// EncodedOrders serializes the raw order set at per-order granularity, for
// the buy-amount estimator which needs individual orders rather than
// aggregated price levels.
func (c *Cache) EncodedOrders() ([]byte, error) {
	cur := c.current.Load()
	if cur == nil {
		return nil, ErrNoSnapshot
	}
	return json.Marshal(cur.raw)
}

func (c *Cache) refreshLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.interval)
			if err := c.Refresh(ctx); err != nil {
				// Last-known-good: previous snapshot stays published.
				c.logger.Error("orderbook refresh failed, keeping previous snapshot",
					zap.Error(err),
					zap.Bool("retryable", source.IsRetryable(err)))
			}
			cancel()

			if takenAt, ok := c.LastRefreshAt(); ok {
				metrics.SnapshotAge.Set(time.Since(takenAt).Seconds())
			}

		case <-c.stopChan:
			return
		}
	}
}

func (c *Cache) publish(ctx context.Context) {
	if c.pubsub == nil {
		return
	}
	payload, err := c.SerializeOrderbooks()
	if err != nil {
		return
	}
	if err := c.pubsub.Publish(ctx, c.channel, payload); err != nil {
		c.logger.Warn("failed to publish orderbook payload", zap.Error(err))
	}
}
