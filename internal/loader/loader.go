// Package loader provides request-scoped entity fetchers. Within one
// request each unique key hits the store at most once: results (including
// fetch errors) are memoized, and concurrent callers awaiting the same key
// share a single in-flight fetch. Loaders are constructed at request start
// and discarded at request end; they must never outlive a request.
package loader

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type result[V any] struct {
	value V
	err   error
}

// Loader memoizes fetches for one entity type keyed by K.
type Loader[K comparable, V any] struct {
	keyFn func(K) string
	fetch func(context.Context, K) (V, error)

	mu    sync.Mutex
	cache map[K]result[V]
	group singleflight.Group
}

// New builds a loader around a fetch function. keyFn renders the key for
// in-flight deduplication.
func New[K comparable, V any](keyFn func(K) string, fetch func(context.Context, K) (V, error)) *Loader[K, V] {
	return &Loader[K, V]{
		keyFn: keyFn,
		fetch: fetch,
		cache: make(map[K]result[V]),
	}
}

// Load returns the entity for key, fetching it at most once per request.
// A failed fetch is memoized as that error, distinguished from not-found
// by the error value itself; Forget resets the key for an explicit retry.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	l.mu.Lock()
	if res, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return res.value, res.err
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(l.keyFn(key), func() (any, error) {
		return l.fetch(ctx, key)
	})

	var value V
	if v != nil {
		value = v.(V)
	}
	l.mu.Lock()
	if _, ok := l.cache[key]; !ok {
		l.cache[key] = result[V]{value: value, err: err}
	}
	l.mu.Unlock()
	return value, err
}

// LoadMany resolves a batch of keys. Results and errors are positional.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]V, []error) {
	values := make([]V, len(keys))
	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key K) {
			defer wg.Done()
			values[i], errs[i] = l.Load(ctx, key)
		}(i, key)
	}
	wg.Wait()
	return values, errs
}

// Prime seeds the cache, e.g. after a write inside the same request.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	l.cache[key] = result[V]{value: value}
	l.mu.Unlock()
}

// Forget drops a memoized result so the next Load re-fetches.
func (l *Loader[K, V]) Forget(key K) {
	l.mu.Lock()
	delete(l.cache, key)
	l.mu.Unlock()
	l.group.Forget(l.keyFn(key))
}
