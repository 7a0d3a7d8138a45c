package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ProviderType identifies a registered vector-store backend.
type ProviderType string

const (
	// ProviderQdrant is the Qdrant gRPC adapter.
	ProviderQdrant ProviderType = "qdrant"

	// ProviderChromem is the embedded chromem-go adapter.
	ProviderChromem ProviderType = "chromem"
)

// Constructor builds an unconfigured provider instance. The instance is not
// usable until Initialize succeeds.
type Constructor func(logger *zap.Logger) Provider

// ValidationResult reports configuration validation independent of
// construction, so configuration can be checked before committing to a space
// creation flow.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

type registryEntry struct {
	construct Constructor
	defaults  Config
	validate  func(Config) []string
}

// Registry maps provider types to constructors, defaults, and validators.
//
// Adding a backend means registering a new entry, not editing a dispatch
// switch. The zero Registry is not usable; NewRegistry pre-registers the
// built-in providers.
type Registry struct {
	mu      sync.RWMutex
	entries map[ProviderType]registryEntry
}

// NewRegistry returns a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[ProviderType]registryEntry)}
	r.Register(ProviderQdrant, newQdrantProvider, qdrantDefaults(), validateQdrantConfig)
	r.Register(ProviderChromem, newChromemProvider, chromemDefaults(), validateChromemConfig)
	return r
}

// Register adds or replaces a provider type.
func (r *Registry) Register(t ProviderType, construct Constructor, defaults Config, validate func(Config) []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[t] = registryEntry{construct: construct, defaults: defaults, validate: validate}
}

// Types returns the registered provider types, sorted.
func (r *Registry) Types() []ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]ProviderType, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Create builds and initializes a provider for a space.
//
// cfg is the space's stored configuration; nil means the space was never
// configured, which is a hard error rather than a fall-through to defaults.
// Defaults are merged underneath cfg (space values win) before Initialize.
func (r *Registry) Create(ctx context.Context, t ProviderType, cfg Config, logger *zap.Logger) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: provider %q", ErrMissingConfig, t)
	}

	entry, err := r.lookup(t)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	p := entry.construct(logger)
	if err := p.Initialize(ctx, mergeConfig(entry.defaults, cfg)); err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", t, err)
	}
	return p, nil
}

// Validate checks configuration for a provider type without constructing or
// connecting anything. Defaults are merged in first, the same way Create
// merges them, so the result reflects what Initialize would see.
//
// All violations are reported, not just the first.
func (r *Registry) Validate(t ProviderType, cfg Config) ValidationResult {
	entry, err := r.lookup(t)
	if err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}

	if cfg == nil {
		cfg = Config{}
	}

	errs := entry.validate(mergeConfig(entry.defaults, cfg))
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func (r *Registry) lookup(t ProviderType) (registryEntry, error) {
	r.mu.RLock()
	entry, ok := r.entries[t]
	r.mu.RUnlock()
	if !ok {
		registered := make([]string, 0, len(r.Types()))
		for _, rt := range r.Types() {
			registered = append(registered, string(rt))
		}
		return registryEntry{}, fmt.Errorf("%w: %q (registered: %s)", ErrNotImplemented, t, strings.Join(registered, ", "))
	}
	return entry, nil
}
