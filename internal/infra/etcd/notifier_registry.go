// internal/infra/etcd/notifier_registry.go
package etcd

import (
	"context"
	"fmt"
	"log/slog"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// NotifierRegistryPrefix is where notifier workers announce themselves.
	NotifierRegistryPrefix = KeyPrefix + "notifiers/"
)

// Registry keeps a notifier worker's presence key alive under a lease.
type Registry struct {
	client  *clientv3.Client
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
}

// NewRegistry creates a new notifier registry.
func NewRegistry(client *clientv3.Client, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With("component", "notifier-registry"),
	}
}

// Register writes the worker's key with a ttl-second lease and keeps the
// lease alive until ctx is done or Deregister is called.
func (r *Registry) Register(ctx context.Context, workerID, description string, ttl int64) error {
	r.key = NotifierRegistryPrefix + workerID

	leaseResp, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID

	if _, err := r.client.Put(ctx, r.key, description, clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to put notifier registration key: %w", err)
	}

	keepAliveCh, err := r.client.KeepAlive(context.WithoutCancel(ctx), r.leaseID)
	if err != nil {
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}

	go func() {
		for ka := range keepAliveCh {
			r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
		r.logger.Warn("keep-alive channel closed, notifier registration may have expired")
	}()

	r.logger.Info("notifier registered", "key", r.key)
	return nil
}

// Deregister revokes the lease, which deletes the registration key.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering notifier", "key", r.key)
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
