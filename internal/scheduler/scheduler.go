package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the daily usage report.
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	reportFunc func(ctx context.Context) error
	log        *logrus.Logger
}

func New(log *logrus.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

// Start schedules the report daily at 21:00 UTC.
func (s *Scheduler) Start() error {
	if s.reportFunc == nil {
		s.log.Warn("report function not set, scheduler idle")
		return nil
	}
	_, err := s.cron.AddFunc("0 21 * * *", func() {
		if err := s.reportFunc(s.ctx); err != nil {
			s.log.WithError(err).Error("daily report failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started, daily report at 21:00 UTC")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info("scheduler stopped")
}
