package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// pruneTimeout bounds one retention pass.
const pruneTimeout = 30 * time.Second

// Pruner deletes journal records older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention periodically prunes the journal down to a retention window on a
// cron schedule.
type Retention struct {
	pruner Pruner
	keep   time.Duration
	clock  clockwork.Clock
	logger *zap.Logger
	cron   gocron.Scheduler
}

// RetentionOption configures a Retention.
type RetentionOption func(*Retention)

// WithRetentionClock sets the clock used for cutoffs and scheduling.
func WithRetentionClock(c clockwork.Clock) RetentionOption {
	return func(r *Retention) { r.clock = c }
}

// WithRetentionLogger sets the logger.
func WithRetentionLogger(l *zap.Logger) RetentionOption {
	return func(r *Retention) { r.logger = l }
}

// NewRetention schedules pruning of records older than keep on the crontab
// schedule (five fields, e.g. "0 * * * *").
func NewRetention(p Pruner, keep time.Duration, schedule string, opts ...RetentionOption) (*Retention, error) {
	if keep <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", keep)
	}
	r := &Retention{
		pruner: p,
		keep:   keep,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("retention")

	cron, err := gocron.NewScheduler(
		gocron.WithClock(r.clock),
		gocron.WithLogger(cronLogger{r.logger.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("create retention scheduler: %w", err)
	}
	_, err = cron.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(r.prune),
		gocron.WithName("journal-retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = cron.Shutdown()
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	r.cron = cron
	return r, nil
}

// Start begins running the schedule.
func (r *Retention) Start() {
	r.cron.Start()
	r.logger.Info("journal retention started", zap.Duration("keep", r.keep))
}

// Stop waits for a running pass and stops the schedule.
func (r *Retention) Stop() error {
	return r.cron.Shutdown()
}

// RunOnce prunes immediately and returns the number of removed records.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.clock.Now().Add(-r.keep)
	n, err := r.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("pruned journal", zap.Int64("removed", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

func (r *Retention) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("journal prune failed", zap.Error(err))
	}
}

// cronLogger adapts zap to gocron's key/value logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Debug(msg string, args ...any) { c.l.Debugw(msg, args...) }
func (c cronLogger) Info(msg string, args ...any)  { c.l.Infow(msg, args...) }
func (c cronLogger) Warn(msg string, args ...any)  { c.l.Warnw(msg, args...) }
func (c cronLogger) Error(msg string, args ...any) { c.l.Errorw(msg, args...) }
