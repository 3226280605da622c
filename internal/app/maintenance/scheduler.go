package maintenance

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kodianteach/atlas-platform-sub001/pkg/logger"
	"github.com/kodianteach/atlas-platform-sub001/pkg/metrics"
)

const (
	defaultAuthorizationSpec = "@every 5m"
	defaultKeySpec           = "@every 15m"
)

// ActiveCounter reports how many live records of a kind exist across all tenants.
type ActiveCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

// Scheduler refreshes the operational gauges on a cron schedule. Gauges are derived from
// the database so every replica reports the same value.
type Scheduler struct {
	authorizations ActiveCounter
	keys           ActiveCounter
	cron           *cron.Cron
	log            *zap.Logger

	authorizationSchedule string
	keySchedule           string
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithAuthorizationSchedule overrides the cron specification for the active authorization gauge.
func WithAuthorizationSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.authorizationSchedule = spec
		}
	}
}

// WithKeySchedule overrides the cron specification for the active signing key gauge.
func WithKeySchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.keySchedule = spec
		}
	}
}

// NewScheduler constructs a Scheduler. A nil counter disables its job.
func NewScheduler(authorizations, keys ActiveCounter, opts ...Option) *Scheduler {
	s := &Scheduler{
		authorizations:        authorizations,
		keys:                  keys,
		authorizationSchedule: defaultAuthorizationSpec,
		keySchedule:           defaultKeySpec,
		log:                   logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// Start registers the gauge jobs and launches the scheduler when at least one is enabled.
func (s *Scheduler) Start() error {
	if s.authorizations == nil && s.keys == nil {
		return nil
	}

	for _, job := range s.jobs() {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() {
			if err := job.run(context.Background()); err != nil {
				s.log.Warn("gauge refresh failed", zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", job.name, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce refreshes every gauge immediately, aggregating failures.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, job := range s.jobs() {
		if err := job.run(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.name, err))
		}
	}
	return errs
}

type gaugeJob struct {
	name string
	spec string
	run  func(context.Context) error
}

func (s *Scheduler) jobs() []gaugeJob {
	var jobs []gaugeJob
	if s.authorizations != nil {
		jobs = append(jobs, gaugeJob{
			name: "active_authorizations",
			spec: s.authorizationSchedule,
			run:  refreshGauge(s.authorizations, metrics.ActiveAuthorizations),
		})
	}
	if s.keys != nil {
		jobs = append(jobs, gaugeJob{
			name: "active_signing_keys",
			spec: s.keySchedule,
			run:  refreshGauge(s.keys, metrics.ActiveSigningKeys),
		})
	}
	return jobs
}

func refreshGauge(counter ActiveCounter, gauge prometheus.Gauge) func(context.Context) error {
	return func(ctx context.Context) error {
		count, err := counter.CountActive(ctx)
		if err != nil {
			return err
		}
		gauge.Set(float64(count))
		return nil
	}
}
