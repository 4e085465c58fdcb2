package domain

import "context"

// LeaderElectionManager elects the single node that runs the offer sweep.
type LeaderElectionManager interface {
	// Campaign blocks until this node leads and returns a channel that is
	// closed when leadership is lost.
	Campaign(ctx context.Context) (<-chan struct{}, error)
	Resign(ctx context.Context) error
	IsLeader() bool
}
