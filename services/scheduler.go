package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler drives the periodic consistency rule check. One run executes at a
// time; a run still in progress when the next tick arrives is not overlapped.
type Scheduler struct {
	regeln    *KonsistenzregelService
	Intervall time.Duration
}

func NewScheduler(regeln *KonsistenzregelService, intervall time.Duration) *Scheduler {
	return &Scheduler{regeln: regeln, Intervall: intervall}
}

// Run blocks until ctx is cancelled, triggering a rule check per interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Intervall)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.regeln.RunAll(ctx); err != nil {
				logrus.WithError(err).Error("scheduled rule check failed")
			}
		}
	}
}
