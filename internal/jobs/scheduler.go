package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/minelink/minelink/internal/linking"
	"github.com/minelink/minelink/internal/verification"
)

// sweepTimeout bounds one full re-verification pass.
const sweepTimeout = 10 * time.Minute

// Scheduler manages background jobs
type Scheduler struct {
	cron     *cron.Cron
	flows    *verification.Manager
	verifier *linking.Verifier
	log      *logrus.Entry

	reverifySchedule string
}

// NewScheduler creates a new job scheduler
func NewScheduler(flows *verification.Manager, verifier *linking.Verifier, reverifySchedule string, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cron:             cron.New(),
		flows:            flows,
		verifier:         verifier,
		log:              log.WithField("component", "jobs"),
		reverifySchedule: reverifySchedule,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	// Sweep expired verification flows every 10 minutes
	if _, err := s.cron.AddFunc("*/10 * * * *", s.cleanupExpiredFlows); err != nil {
		return err
	}

	// Re-verify guild membership of every connection on the configured cadence
	if _, err := s.cron.AddFunc(s.reverifySchedule, s.reverifyConnections); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("job scheduler started")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("job scheduler stopped")
}

func (s *Scheduler) cleanupExpiredFlows() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := s.flows.DeleteExpired(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to clean up expired flows")
		return
	}
	if deleted > 0 {
		s.log.WithField("deleted", deleted).Info("cleaned up expired verification flows")
	}
}

func (s *Scheduler) reverifyConnections() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	result, err := s.verifier.Sweep(ctx)
	if err != nil {
		s.log.WithError(err).Error("re-verification sweep aborted")
		return
	}

	s.log.WithFields(logrus.Fields{
		"checked":  result.Checked,
		"unlinked": result.Unlinked,
		"failed":   result.Failed,
	}).Info("re-verification sweep finished")
}
