package etcd

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"upkeep-dispatcher/internal/metrics"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// TargetWatcher mirrors the registry prefix in memory so that every replica
// reports the registered target count, including changes made elsewhere.
type TargetWatcher struct {
	client  *clientv3.Client
	keys    Keys
	logger  *slog.Logger
	targets map[string]string // key -> target id
	mu      sync.RWMutex
}

func NewTargetWatcher(client *clientv3.Client, keys Keys, logger *slog.Logger) *TargetWatcher {
	return &TargetWatcher{
		client:  client,
		keys:    keys,
		logger:  logger.With("component", "target-watcher"),
		targets: make(map[string]string),
	}
}

// Watch blocks until ctx is done. Run it in a goroutine.
func (w *TargetWatcher) Watch(ctx context.Context) {
	w.logger.Info("starting to watch registered targets")

	rev, err := w.loadInitialTargets(ctx)
	if err != nil {
		w.logger.Error("failed to perform initial target load", "error", err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}
	watchChan := w.client.Watch(ctx, w.keys.Targets(), opts...)

	for watchResp := range watchChan {
		if err := watchResp.Err(); err != nil {
			w.logger.Error("target watch failed", "error", err)
			continue
		}
		w.mu.Lock()
		for _, event := range watchResp.Events {
			key := string(event.Kv.Key)
			switch event.Type {
			case clientv3.EventTypePut:
				if _, ok := w.targets[key]; !ok {
					w.logger.Info("target registered", "target", string(event.Kv.Value))
				}
				w.targets[key] = string(event.Kv.Value)
			case clientv3.EventTypeDelete:
				w.logger.Info("target deregistered", "target", w.targets[key])
				delete(w.targets, key)
			}
		}
		metrics.RegisteredTargets.Set(float64(len(w.targets)))
		w.mu.Unlock()
	}
	w.logger.Info("stopped watching registered targets")
}

func (w *TargetWatcher) loadInitialTargets(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := w.client.Get(ctx, w.keys.Targets(), clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, kv := range resp.Kvs {
		w.targets[string(kv.Key)] = string(kv.Value)
	}
	metrics.RegisteredTargets.Set(float64(len(w.targets)))
	w.logger.Info("loaded registered targets", "count", len(w.targets))
	return resp.Header.Revision, nil
}

// Targets returns the targets seen so far, sorted.
func (w *TargetWatcher) Targets() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ids := make([]string, 0, len(w.targets))
	for _, id := range w.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
