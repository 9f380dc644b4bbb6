package usecase

import (
	"context"
	"log/slog"
	"time"

	"upkeep-dispatcher/internal/domain"
)

// SchedularService runs the trigger on whichever replica holds leadership.
// With no leader manager the trigger simply runs until ctx is canceled.
type SchedularService struct {
	leaderManager domain.LeaderElectionManager
	trigger       domain.Trigger
	nodeID        string
	retryDelay    time.Duration
	logger        *slog.Logger
}

func NewSchedularService(leaderManager domain.LeaderElectionManager, trigger domain.Trigger, nodeID string, logger *slog.Logger) *SchedularService {
	return &SchedularService{
		leaderManager: leaderManager,
		trigger:       trigger,
		nodeID:        nodeID,
		retryDelay:    5 * time.Second,
		logger:        logger.With("component", "scheduler-service", "node_id", nodeID),
	}
}

func (s *SchedularService) Start(ctx context.Context) error {
	s.logger.Info("scheduler service starting")

	if s.leaderManager == nil {
		return s.trigger.Start(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler service shutting down")
			return ctx.Err()
		default:
		}

		s.logger.Info("campaigning for leadership")
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

		s.logger.Info("became leader, starting trigger")
		leaderCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = s.trigger.Start(leaderCtx)
		}()

		select {
		case <-lostLeadershipCh:
			s.logger.Warn("leadership lost, stopping trigger")
			cancel()
			<-done
		case <-ctx.Done():
			cancel()
			<-done
			resignCtx, resignCancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := s.leaderManager.Resign(resignCtx); err != nil {
				s.logger.Error("failed to resign leadership", "error", err)
			}
			resignCancel()
			return ctx.Err()
		}
	}
}
