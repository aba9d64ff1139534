package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dragcal/project/internal/contracts"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/platform/natsutil"
	"github.com/dragcal/project/internal/sharding"
)

// Feed carries change notifications from writers to subscribers.
type Feed interface {
	Publish(ctx context.Context, n contracts.ChangeNotification) error
	Subscribe(table string, cb ChangeFunc) (unsubscribe func(), err error)
}

// LocalFeed delivers notifications in-process, synchronously and in publish
// order. Callbacks must not block.
type LocalFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]localSub
}

type localSub struct {
	table string
	cb    ChangeFunc
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: map[int]localSub{}}
}

func (f *LocalFeed) Publish(_ context.Context, n contracts.ChangeNotification) error {
	f.mu.RLock()
	ids := make([]int, 0, len(f.subs))
	for id, sub := range f.subs {
		if sub.table == n.Table {
			ids = append(ids, id)
		}
	}
	callbacks := make([]ChangeFunc, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		callbacks = append(callbacks, f.subs[id].cb)
	}
	f.mu.RUnlock()

	for _, cb := range callbacks {
		cb(n)
	}
	return nil
}

func (f *LocalFeed) Subscribe(table string, cb ChangeFunc) (func(), error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = localSub{table: table, cb: cb}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}, nil
}

// NATSFeed publishes notifications to the sharded JetStream change subjects
// and subscribes across all shards of a table.
type NATSFeed struct {
	Publisher  natsutil.Publisher
	Subscriber natsutil.Subscriber
	Logger     *slog.Logger
}

func (f NATSFeed) Publish(_ context.Context, n contracts.ChangeNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode change notification: %w", err)
	}
	subject := sharding.ChangeSubject(n.ScopeKey, n.Table, n.Kind, n.RecordID)
	if err := f.Publisher.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (f NATSFeed) Subscribe(table string, cb ChangeFunc) (func(), error) {
	logger := logging.Component(context.Background(), f.Logger, "change_feed", "subscribe", "table", table)
	unsubscribe, err := f.Subscriber.Subscribe(sharding.TableSubject(table), func(payload []byte, seq uint64) {
		var n contracts.ChangeNotification
		if err := json.Unmarshal(payload, &n); err != nil {
			logger.Warn("dropping undecodable change notification", "seq", seq, "error", err)
			return
		}
		cb(n)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s changes: %w", table, err)
	}
	return func() {
		if err := unsubscribe(); err != nil {
			logger.Debug("unsubscribe failed", "error", err)
		}
	}, nil
}
