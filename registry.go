package ringpool

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/singleflight"
)

// OpenerFactory builds the opener for a named database entry.
type OpenerFactory func(name string, databaseConfig DatabaseConfig) (Opener, error)

func driverOpenerFactory(name string, databaseConfig DatabaseConfig) (Opener, error) {
	return databaseConfig.Credentials().Opener()
}

// RegistryOption configures a Registry.
type RegistryOption func(registry *Registry)

// WithMaxOpenPools bounds the number of pools kept open at once. When a new
// pool would exceed it, the least recently used pool is closed. By default
// every configured database may stay open, including ones added later with
// Register.
func WithMaxOpenPools(n int) RegistryOption {
	return func(registry *Registry) {
		registry.maxOpenPools = n
		registry.bounded = true
	}
}

// WithOpenerFactory replaces the driver-backed opener factory.
func WithOpenerFactory(factory OpenerFactory) RegistryOption {
	return func(registry *Registry) {
		registry.openerFactory = factory
	}
}

// Registry maps logical database names to pools. Pools are opened on first
// use and kept until evicted or until the registry is closed.
//
// A Registry is created once at startup and passed to whoever needs it.
type Registry struct {
	configs cmap.ConcurrentMap // name -> DatabaseConfig
	pools   *lru.Cache         // name -> *registryEntry
	opening singleflight.Group

	// registerMu serializes Register so the cache only ever grows.
	registerMu deadlock.Mutex

	// evictedMu guards evicted. The cache calls onEvict under its own lock,
	// so evicted pools are parked here and closed after the cache call.
	evictedMu deadlock.Mutex
	evicted   []*registryEntry

	maxOpenPools  int
	bounded       bool
	openerFactory OpenerFactory

	closed int32 // atomic
}

type registryEntry struct {
	name   string
	pool   *Pool
	opener Opener
}

// NewRegistry validates fileConfig and builds a registry from it. No
// connection is opened.
func NewRegistry(fileConfig *FileConfig, opts ...RegistryOption) (*Registry, error) {
	if fileConfig == nil {
		return nil, configError("registry config is nil")
	}
	if err := fileConfig.Validate(); err != nil {
		return nil, err
	}

	registry := &Registry{
		configs:       cmap.New(),
		maxOpenPools:  len(fileConfig.Databases),
		openerFactory: driverOpenerFactory,
	}
	for _, opt := range opts {
		opt(registry)
	}
	if registry.maxOpenPools < 1 {
		return nil, configError("max open pools must be at least 1, got %d", registry.maxOpenPools)
	}

	pools, err := lru.NewWithEvict(registry.maxOpenPools, registry.onEvict)
	if err != nil {
		return nil, configError("%v", err)
	}
	registry.pools = pools

	for name, databaseConfig := range fileConfig.Databases {
		registry.configs.Set(name, databaseConfig)
	}
	return registry, nil
}

// OpenRegistry loads the config file at path and builds a registry from it.
func OpenRegistry(path string, opts ...RegistryOption) (*Registry, error) {
	fileConfig, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(fileConfig, opts...)
}

// Register adds a database entry. It fails if the name is already taken.
// Unless WithMaxOpenPools was given, room is made for the new pool so that
// opening it never closes another one.
func (registry *Registry) Register(name string, databaseConfig DatabaseConfig) error {
	if err := databaseConfig.Validate(); err != nil {
		return fmt.Errorf("database %q: %w", name, err)
	}

	registry.registerMu.Lock()
	defer registry.registerMu.Unlock()

	if !registry.configs.SetIfAbsent(name, databaseConfig) {
		return configError("database %q is already registered", name)
	}
	if !registry.bounded {
		registry.pools.Resize(registry.configs.Count())
	}
	log.WithField("database", name).Debug("database registered")
	return nil
}

// Names returns the configured database names in sorted order.
func (registry *Registry) Names() []string {
	names := registry.configs.Keys()
	sort.Strings(names)
	return names
}

// Get returns the pool for name, opening it if needed. Concurrent callers
// asking for the same name share one open. The open is detached from ctx's
// cancellation, so a caller that gives up does not fail the open for the
// others; it only stops waiting and gets ctx.Err().
func (registry *Registry) Get(ctx context.Context, name string) (*Pool, error) {
	if atomic.LoadInt32(&registry.closed) == 1 {
		return nil, ErrRegistryClosed
	}
	if v, ok := registry.pools.Get(name); ok {
		return v.(*registryEntry).pool, nil
	}

	openCtx := context.WithoutCancel(ctx)
	ch := registry.opening.DoChan(name, func() (interface{}, error) {
		if v, ok := registry.pools.Get(name); ok {
			return v, nil
		}
		entry, err := registry.open(openCtx, name)
		if err != nil {
			return nil, err
		}
		registry.pools.Add(name, entry)
		registry.closeEvicted()
		if atomic.LoadInt32(&registry.closed) == 1 {
			registry.pools.Remove(name)
			registry.closeEvicted()
			return nil, ErrRegistryClosed
		}
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*registryEntry).pool, nil
	}
}

// Default returns the pool of the entry named "default".
func (registry *Registry) Default(ctx context.Context) (*Pool, error) {
	return registry.Get(ctx, DefaultName)
}

// Helper returns a Helper over the pool for name.
func (registry *Registry) Helper(ctx context.Context, name string) (*Helper, error) {
	pool, err := registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewHelper(pool), nil
}

// Stats returns the statistics of every pool currently open.
func (registry *Registry) Stats() map[string]Stats {
	stats := make(map[string]Stats)
	for _, key := range registry.pools.Keys() {
		if v, ok := registry.pools.Peek(key); ok {
			entry := v.(*registryEntry)
			stats[entry.name] = entry.pool.Stats()
		}
	}
	return stats
}

// Close closes every open pool. Later calls to Get fail.
func (registry *Registry) Close() error {
	if !atomic.CompareAndSwapInt32(&registry.closed, 0, 1) {
		return nil
	}
	registry.pools.Purge()
	registry.closeEvicted()
	log.Debug("registry closed")
	return nil
}

func (registry *Registry) open(ctx context.Context, name string) (*registryEntry, error) {
	v, ok := registry.configs.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownDatabase, name)
	}
	databaseConfig := v.(DatabaseConfig)

	opener, err := registry.openerFactory(name, databaseConfig)
	if err != nil {
		return nil, fmt.Errorf("database %q: %w", name, err)
	}

	pool, err := New(ctx, opener, databaseConfig.PoolConfig())
	if err != nil {
		closeOpener(opener)
		return nil, fmt.Errorf("database %q: %w", name, err)
	}

	log.WithField("database", name).
		WithField("upstream", databaseConfig.Credentials().ID()).
		WithField("size", pool.Size()).
		Info("pool opened")
	return &registryEntry{name: name, pool: pool, opener: opener}, nil
}

// onEvict runs under the cache lock. It only parks the entry; closeEvicted
// does the closing once the cache call has returned.
func (registry *Registry) onEvict(key, value interface{}) {
	registry.evictedMu.Lock()
	registry.evicted = append(registry.evicted, value.(*registryEntry))
	registry.evictedMu.Unlock()
}

// closeEvicted closes the pools and openers of evicted entries. It must not
// be called while holding the cache lock.
func (registry *Registry) closeEvicted() {
	registry.evictedMu.Lock()
	evicted := registry.evicted
	registry.evicted = nil
	registry.evictedMu.Unlock()

	for _, entry := range evicted {
		if err := entry.pool.Close(); err != nil {
			log.WithError(err).WithField("database", entry.name).Warn("unable to close pool")
		}
		closeOpener(entry.opener)
		log.WithField("database", entry.name).Info("pool closed")
	}
}

func closeOpener(opener Opener) {
	if closer, ok := opener.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.WithError(err).Warn("unable to close opener")
		}
	}
}
