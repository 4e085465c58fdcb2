// internal/infra/etcd/notifier_discovery.go
package etcd

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"offer-engine/internal/metrics"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// NotifierDiscovery tracks which notifier workers are draining a shared
// outbox, so the engine can tell when queued messages have no consumer.
type NotifierDiscovery struct {
	client    *clientv3.Client
	logger    *slog.Logger
	notifiers map[string]string // workerID -> description
	mu        sync.RWMutex
}

// NewNotifierDiscovery creates a new discovery service.
func NewNotifierDiscovery(client *clientv3.Client, logger *slog.Logger) *NotifierDiscovery {
	return &NotifierDiscovery{
		client:    client,
		logger:    logger.With("component", "notifier-discovery"),
		notifiers: make(map[string]string),
	}
}

// Watch follows registrations until ctx is done.
func (d *NotifierDiscovery) Watch(ctx context.Context) {
	d.logger.Info("starting to watch for notifiers")

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	rev, err := d.loadInitial(ctx)
	if err != nil {
		d.logger.Error("failed to perform initial notifier load", "error", err)
	} else {
		// Watch from just after the snapshot.
		opts = append(opts, clientv3.WithRev(rev+1))
	}

	watchChan := d.client.Watch(ctx, NotifierRegistryPrefix, opts...)
	for watchResp := range watchChan {
		for _, event := range watchResp.Events {
			id := strings.TrimPrefix(string(event.Kv.Key), NotifierRegistryPrefix)

			d.mu.Lock()
			switch event.Type {
			case clientv3.EventTypePut:
				if _, ok := d.notifiers[id]; !ok {
					d.logger.Info("notifier joined", "id", id)
				}
				d.notifiers[id] = string(event.Kv.Value)
			case clientv3.EventTypeDelete:
				d.logger.Info("notifier left", "id", id)
				delete(d.notifiers, id)
			}
			n := len(d.notifiers)
			d.mu.Unlock()

			metrics.NotifierWorkers.Set(float64(n))
			if n == 0 {
				d.logger.Warn("no notifier is draining the outbox")
			} else {
				d.logger.Info("notifier workers", "ids", d.Notifiers())
			}
		}
	}
	d.logger.Info("stopped watching for notifiers")
}

func (d *NotifierDiscovery) loadInitial(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, NotifierRegistryPrefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), NotifierRegistryPrefix)
		d.logger.Info("found existing notifier", "id", id)
		d.notifiers[id] = string(kv.Value)
	}
	metrics.NotifierWorkers.Set(float64(len(d.notifiers)))
	if len(d.notifiers) == 0 {
		d.logger.Warn("no notifier is draining the outbox")
	}
	return resp.Header.Revision, nil
}

// Notifiers returns the IDs of the registered notifier workers, sorted.
func (d *NotifierDiscovery) Notifiers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.notifiers))
	for id := range d.notifiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
