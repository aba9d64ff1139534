// Package workspace holds the mounted calendar views of a process and the
// schedule stores they share.
package workspace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dragcal/project/internal/app/schedule"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
)

// Registry shares one schedule.Store per scope between every view of that
// scope. The store is opened by the first Acquire and closed when the last
// holder releases it.
type Registry struct {
	es     schedule.EventStore
	resync *schedule.Resyncer
	logger *slog.Logger

	mu      sync.Mutex
	byScope map[string]*sharedStore
}

type sharedStore struct {
	ready  chan struct{}
	store  *schedule.Store
	err    error
	refs   int
	remove func()
}

// NewRegistry builds a registry over es. resync may be nil to disable
// periodic reloads.
func NewRegistry(es schedule.EventStore, resync *schedule.Resyncer, logger *slog.Logger) *Registry {
	return &Registry{
		es:      es,
		resync:  resync,
		logger:  logger,
		byScope: map[string]*sharedStore{},
	}
}

// Acquire returns the loaded store of scope. Call release exactly once when
// done with it.
func (r *Registry) Acquire(ctx context.Context, scope calendar.Scope) (*schedule.Store, func(), error) {
	if err := scope.Validate(); err != nil {
		return nil, nil, err
	}
	key := scope.Key()

	r.mu.Lock()
	shared, ok := r.byScope[key]
	if ok {
		shared.refs++
		r.mu.Unlock()
		select {
		case <-shared.ready:
		case <-ctx.Done():
			r.release(key, shared)
			return nil, nil, ctx.Err()
		}
		if shared.err != nil {
			r.release(key, shared)
			return nil, nil, shared.err
		}
		return shared.store, r.releaser(key, shared), nil
	}
	shared = &sharedStore{ready: make(chan struct{}), refs: 1}
	r.byScope[key] = shared
	r.mu.Unlock()

	store := schedule.NewStore(r.es, scope, r.logger)
	if err := store.Open(ctx); err != nil {
		store.Close()
		shared.err = err
		close(shared.ready)
		r.release(key, shared)
		logging.Component(ctx, r.logger, "workspace", "acquire", "scope", key).Error("open schedule failed", "error", err)
		return nil, nil, err
	}
	shared.store = store
	if r.resync != nil {
		shared.remove = r.resync.Add(store, key)
	}
	close(shared.ready)
	logging.Component(ctx, r.logger, "workspace", "acquire", "scope", key).Debug("schedule opened")
	return store, r.releaser(key, shared), nil
}

func (r *Registry) releaser(key string, shared *sharedStore) func() {
	var once sync.Once
	return func() {
		once.Do(func() { r.release(key, shared) })
	}
}

func (r *Registry) release(key string, shared *sharedStore) {
	r.mu.Lock()
	shared.refs--
	last := shared.refs == 0
	if last && r.byScope[key] == shared {
		delete(r.byScope, key)
	}
	r.mu.Unlock()

	if !last || shared.store == nil {
		return
	}
	if shared.remove != nil {
		shared.remove()
	}
	shared.store.Close()
}

// Len reports how many scopes have an open store.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byScope)
}

// Close releases every store regardless of outstanding holders.
func (r *Registry) Close() {
	r.mu.Lock()
	shared := make([]*sharedStore, 0, len(r.byScope))
	for key, s := range r.byScope {
		shared = append(shared, s)
		delete(r.byScope, key)
	}
	r.mu.Unlock()

	for _, s := range shared {
		<-s.ready
		if s.remove != nil {
			s.remove()
		}
		if s.store != nil {
			s.store.Close()
		}
	}
}
