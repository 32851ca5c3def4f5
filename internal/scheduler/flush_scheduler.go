package scheduler

import (
	"fmt"

	"github.com/dushixiang/iotfw/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FlushScheduler periodically writes the snapshot when in-memory state has
// drifted from disk. Stability transitions and rollout outcomes save
// synchronously on their own; this covers routine telemetry updates and
// anomaly-counter drift between those events.
type FlushScheduler struct {
	cron    *cron.Cron
	gateway *store.Gateway
	logger  *zap.Logger
}

func NewFlushScheduler(gateway *store.Gateway, logger *zap.Logger) *FlushScheduler {
	return &FlushScheduler{
		cron:    cron.New(cron.WithSeconds()),
		gateway: gateway,
		logger:  logger,
	}
}

// Start schedules a dirty-check every intervalSeconds seconds.
func (s *FlushScheduler) Start(intervalSeconds int) error {
	if intervalSeconds <= 0 {
		intervalSeconds = 30
	}
	spec := fmt.Sprintf("@every %ds", intervalSeconds)
	if _, err := s.cron.AddFunc(spec, s.gateway.FlushIfDirty); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("snapshot flush scheduler started", zap.Int("intervalSeconds", intervalSeconds))
	return nil
}

// Stop waits for a running flush to finish, then writes a final snapshot.
func (s *FlushScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.gateway.FlushIfDirty()
	s.logger.Info("snapshot flush scheduler stopped")
}
