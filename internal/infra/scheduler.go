package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tradeguard/internal/metrics"
)

// DefaultSampleSpec is used when no schedule is configured
const DefaultSampleSpec = "@every 1m"

// TradingOffCounter reports how many users are currently stopped
type TradingOffCounter interface {
	CountTradingOff(ctx context.Context) (int, error)
}

// Scheduler samples guard gauges on a cron schedule. It only reads;
// day rollover and stop expiry stay lazy and per-request.
type Scheduler struct {
	cron    *cron.Cron
	counter TradingOffCounter
	spec    string
	log     *zap.Logger
}

// NewScheduler creates a new scheduler. An empty spec uses DefaultSampleSpec.
func NewScheduler(counter TradingOffCounter, spec string, log *zap.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSampleSpec
	}
	return &Scheduler{
		cron:    cron.New(),
		counter: counter,
		spec:    spec,
		log:     log,
	}
}

// Start registers the sampler and starts the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.sample); err != nil {
		return fmt.Errorf("failed to schedule sampler %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Info("scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop stops the scheduler and waits for a running sample to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.RunNow(ctx); err != nil {
		s.log.Warn("trading-off sample failed", zap.Error(err))
	}
}

// RunNow takes one sample immediately
func (s *Scheduler) RunNow(ctx context.Context) error {
	n, err := s.counter.CountTradingOff(ctx)
	if err != nil {
		return err
	}
	metrics.UsersTradingOff.Set(float64(n))
	s.log.Debug("sampled trading-off users", zap.Int("count", n))
	return nil
}
