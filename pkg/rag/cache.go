package rag

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/spacechat/ragcore/pkg/space"
	"github.com/spacechat/ragcore/pkg/vectorstore"
)

// providerCache holds one initialized provider per space. Providers carry
// live connections, so building one per request would reconnect and
// health-check every time; the cache makes that a once-per-space cost.
//
// Entries live until the space's collection is cleared or the service shuts
// down. There is no time-based eviction: the population is bounded by the
// number of active spaces.
type providerCache struct {
	registry *vectorstore.Registry
	spaces   space.ConfigStore
	logger   *zap.Logger

	mu        sync.RWMutex
	providers map[string]vectorstore.Provider
	metrics   map[string]vectorstore.Metric
}

func newProviderCache(registry *vectorstore.Registry, spaces space.ConfigStore, logger *zap.Logger) *providerCache {
	return &providerCache{
		registry:  registry,
		spaces:    spaces,
		logger:    logger,
		providers: make(map[string]vectorstore.Provider),
		metrics:   make(map[string]vectorstore.Metric),
	}
}

// get returns the cached provider for a space, building and initializing it
// on first use. The space record is resolved and validated on every call,
// cache hit or miss, so a record that drifted to an invalid model/dimension
// pair is rejected instead of being served from a stale provider. The
// space's configured metric rides along so callers can decide whether
// vectors need unit-length normalization.
func (c *providerCache) get(ctx context.Context, spaceID string) (vectorstore.Provider, vectorstore.Metric, error) {
	sp, err := c.spaces.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, "", fmt.Errorf("resolving space %s: %w", spaceID, err)
	}
	if err := sp.Validate(); err != nil {
		return nil, "", err
	}

	c.mu.RLock()
	p, ok := c.providers[spaceID]
	m := c.metrics[spaceID]
	c.mu.RUnlock()
	if ok {
		return p, m, nil
	}

	built, err := c.registry.Create(ctx, sp.VectorProvider, sp.VectorConfig, c.logger)
	if err != nil {
		return nil, "", fmt.Errorf("building provider for space %s: %w", spaceID, err)
	}
	metric := spaceMetric(sp)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.providers[spaceID]; ok {
		// Another goroutine won the race; keep its provider.
		_ = built.Cleanup()
		return existing, c.metrics[spaceID], nil
	}
	c.providers[spaceID] = built
	c.metrics[spaceID] = metric

	c.logger.Info("provider cached for space",
		zap.String("space", spaceID),
		zap.String("provider", string(sp.VectorProvider)),
		zap.String("metric", string(metric)),
	)
	return built, metric, nil
}

// evict removes and cleans up a space's cached provider.
func (c *providerCache) evict(spaceID string) error {
	c.mu.Lock()
	p, ok := c.providers[spaceID]
	delete(c.providers, spaceID)
	delete(c.metrics, spaceID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Cleanup()
}

// close cleans up every cached provider, continuing past failures.
func (c *providerCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs error
	for spaceID, p := range c.providers {
		if err := p.Cleanup(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cleaning up provider for space %s: %w", spaceID, err))
		}
	}
	c.providers = make(map[string]vectorstore.Provider)
	c.metrics = make(map[string]vectorstore.Metric)
	return errs
}

// spaceMetric reads the metric from a space's vector configuration,
// defaulting to cosine the way provider defaults do.
func spaceMetric(sp *space.Space) vectorstore.Metric {
	if raw, ok := sp.VectorConfig["metric"].(string); ok && raw != "" {
		if m, err := vectorstore.ParseMetric(raw); err == nil {
			return m
		}
	}
	return vectorstore.MetricCosine
}
