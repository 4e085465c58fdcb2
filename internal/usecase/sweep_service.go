package usecase

import (
	"context"
	"log/slog"
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/metrics"
)

// SweepTaskName names the periodic expiry sweep.
const SweepTaskName = "sweep-expired-offers"

// SweepService runs the expiry sweep on a schedule while this node holds
// leadership, so that one node sweeps at a time.
type SweepService struct {
	leaderManager domain.LeaderElectionManager
	scheduler     domain.Scheduler
	service       *AssignmentService
	schedule      string
	nodeID        string
	retryDelay    time.Duration
	logger        *slog.Logger
}

// NewSweepService creates a sweep service. A nil leaderManager means this
// node always leads.
func NewSweepService(leaderManager domain.LeaderElectionManager, scheduler domain.Scheduler, service *AssignmentService, schedule, nodeID string, logger *slog.Logger) *SweepService {
	return &SweepService{
		leaderManager: leaderManager,
		scheduler:     scheduler,
		service:       service,
		schedule:      schedule,
		nodeID:        nodeID,
		retryDelay:    5 * time.Second,
		logger:        logger.With("component", "sweep-service", "node_id", nodeID),
	}
}

// Task is the periodic sweep registered with the scheduler.
func (s *SweepService) Task() domain.PeriodicTask {
	return domain.PeriodicTask{
		Name:     SweepTaskName,
		Schedule: s.schedule,
		Run: func(ctx context.Context) error {
			n, err := s.service.SweepExpiredOffers(ctx)
			if n > 0 {
				s.logger.Info("sweep timed out offers", "count", n)
			}
			return err
		},
	}
}

// Start blocks until ctx is done, campaigning for leadership and running the
// scheduler whenever this node leads.
func (s *SweepService) Start(ctx context.Context) error {
	s.logger.Info("sweep service starting")

	if s.leaderManager == nil {
		if err := s.scheduler.AddTask(s.Task()); err != nil {
			return err
		}
		metrics.IsLeader.WithLabelValues(s.nodeID).Set(1)
		return s.scheduler.Start(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweep service shutting down")
			s.scheduler.Stop()
			return ctx.Err()
		default:
		}

		s.logger.Info("campaigning for sweeper leadership")
		lostLeadershipCh, err := s.leaderManager.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("leadership campaign failed, retrying", "error", err, "retry_in", s.retryDelay)
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		s.logger.Info("became leader, starting sweeper")
		metrics.IsLeader.WithLabelValues(s.nodeID).Set(1)
		leaderCtx, cancel := context.WithCancel(ctx)
		done := s.runScheduler(leaderCtx)

		select {
		case <-lostLeadershipCh:
			s.logger.Warn("lost leadership, stopping sweeper")
			cancel()
			<-done
			metrics.IsLeader.WithLabelValues(s.nodeID).Set(0)
			// The session is gone; resigning only clears local state.
			resignCtx, resignCancel := context.WithTimeout(ctx, time.Second)
			_ = s.leaderManager.Resign(resignCtx)
			resignCancel()
		case <-ctx.Done():
			cancel()
			<-done
			metrics.IsLeader.WithLabelValues(s.nodeID).Set(0)
			resignCtx, resignCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.leaderManager.Resign(resignCtx); err != nil {
				s.logger.Error("failed to resign leadership", "error", err)
			}
			resignCancel()
			return ctx.Err()
		}
	}
}

func (s *SweepService) runScheduler(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if err := s.scheduler.AddTask(s.Task()); err != nil {
		s.logger.Error("failed to register sweep task", "error", err)
		close(done)
		return done
	}
	go func() {
		defer close(done)
		if err := s.scheduler.Start(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler stopped with error", "error", err)
		}
	}()
	return done
}
