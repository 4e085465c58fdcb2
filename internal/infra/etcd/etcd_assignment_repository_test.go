package etcd_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/infra/etcd"
	"offer-engine/internal/infra/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// newClient connects to the etcd cluster named by ETCD_ENDPOINTS, or skips.
func newClient(t *testing.T) *clientv3.Client {
	t.Helper()
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	client, err := etcd.NewClient(strings.Split(endpoints, ","), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestEtcdAssignmentRepository(t *testing.T) {
	client := newClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repotest.RunAssignmentRepository(t, func(t *testing.T) domain.AssignmentRepository {
		return etcd.NewEtcdAssignmentRepository(client, logger)
	})
}

func TestEtcdLocker(t *testing.T) {
	client := newClient(t)
	locker := etcd.NewEtcdLocker(client)
	ctx := context.Background()

	held, err := locker.Lock(ctx, "test/"+t.Name())
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "test/"+t.Name())
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	require.NoError(t, held.Unlock(ctx))

	again, err := locker.Lock(ctx, "test/"+t.Name())
	require.NoError(t, err)
	assert.NoError(t, again.Unlock(ctx))
}

func TestNotifierRegistryAndDiscovery(t *testing.T) {
	client := newClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	discovery := etcd.NewNotifierDiscovery(client, logger)
	go discovery.Watch(ctx)

	workerID := "notifier-" + t.Name()
	registry := etcd.NewRegistry(client, logger)
	require.NoError(t, registry.Register(ctx, workerID, "test", 5))

	assert.Eventually(t, func() bool {
		return slices.Contains(discovery.Notifiers(), workerID)
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, registry.Deregister(ctx))
	assert.Eventually(t, func() bool {
		return !slices.Contains(discovery.Notifiers(), workerID)
	}, 5*time.Second, 50*time.Millisecond)
}
