// Package worker implements the worker agent: it registers with the master,
// heartbeats, leases tasks and reports their outcome.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/taskhive/internal/connectors"
	"github.com/fentz26/taskhive/internal/controlplane"
	"github.com/fentz26/taskhive/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// deregisterTimeout bounds the final deregister call made after shutdown.
const deregisterTimeout = 5 * time.Second

// Master is the subset of the master API the agent uses.
// *client.Client satisfies it.
type Master interface {
	Register(ctx context.Context, id string) (string, error)
	Heartbeat(ctx context.Context, workerID string) error
	LeaseNext(ctx context.Context, workerID string) (*models.Task, error)
	ReportResult(ctx context.Context, taskID string, req controlplane.ResultRequest) (bool, error)
	Deregister(ctx context.Context, workerID string) ([]string, error)
}

// Config holds agent configuration.
type Config struct {
	// ID is the requested worker id; empty lets the master pick one.
	ID                string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	// Concurrency is the number of tasks executed at once.
	Concurrency int
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
}

// Agent is a worker process's main loop.
type Agent struct {
	master Master
	exec   connectors.Connector
	cfg    Config
	clock  clockwork.Clock
	logger *zap.Logger

	mu sync.Mutex
	id string
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock sets the clock driving heartbeats and idle polling.
func WithClock(c clockwork.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New creates an agent that runs leased tasks on exec.
func New(master Master, exec connectors.Connector, cfg Config, opts ...Option) *Agent {
	cfg.setDefaults()
	a := &Agent{
		master: master,
		exec:   exec,
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("worker")
	return a
}

// ID returns the worker id assigned at registration, or "" before Run
// registers.
func (a *Agent) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

// Run registers with the master and executes tasks until ctx is cancelled.
// On the way out it waits for in-flight tasks and deregisters so the master
// requeues anything left unreported.
func (a *Agent) Run(ctx context.Context) error {
	id, err := a.master.Register(ctx, a.cfg.ID)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.mu.Lock()
	a.id = id
	a.mu.Unlock()

	log := a.logger.With(zap.String("worker_id", id))
	log.Info("registered with master",
		zap.Int("concurrency", a.cfg.Concurrency),
		zap.Duration("heartbeat_interval", a.cfg.HeartbeatInterval))

	pool, err := ants.NewPool(a.cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(ctx, id, log)
	}()

	a.pollLoop(ctx, id, pool, &wg, log)
	wg.Wait()

	log.Info("shutting down, deregistering")
	deregCtx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer cancel()
	requeued, err := a.master.Deregister(deregCtx, id)
	if err != nil {
		log.Error("deregister failed", zap.Error(err))
		return nil
	}
	if len(requeued) > 0 {
		log.Info("master requeued unfinished tasks", zap.Strings("task_ids", requeued))
	}
	return nil
}

func (a *Agent) heartbeatLoop(ctx context.Context, id string, log *zap.Logger) {
	ticker := a.clock.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := a.master.Heartbeat(ctx, id); err != nil && ctx.Err() == nil {
				log.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// pollLoop leases a task whenever a slot is free. slots gates leasing so the
// agent never holds a lease it cannot start on.
func (a *Agent) pollLoop(ctx context.Context, id string, pool *ants.Pool, wg *sync.WaitGroup, log *zap.Logger) {
	slots := make(chan struct{}, a.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}

		task, err := a.master.LeaseNext(ctx, id)
		if err != nil || task == nil {
			<-slots
			if err != nil && ctx.Err() == nil {
				log.Error("lease failed", zap.Error(err))
			}
			if !a.sleep(ctx, a.cfg.PollInterval) {
				return
			}
			continue
		}

		wg.Add(1)
		err = pool.Submit(func() {
			defer wg.Done()
			defer func() { <-slots }()
			a.execute(ctx, task, log)
		})
		if err != nil {
			wg.Done()
			<-slots
			log.Error("submit to pool failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}

func (a *Agent) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-a.clock.After(d):
		return true
	}
}

func (a *Agent) execute(ctx context.Context, task *models.Task, log *zap.Logger) {
	log = log.With(zap.String("task_id", task.ID), zap.String("type", task.Type), zap.Int("attempt", task.Attempts))
	log.Info("task received")

	start := a.clock.Now()
	result, err := a.exec.Execute(ctx, task.Type, task.Payload)
	if ctx.Err() != nil {
		// Interrupted by shutdown; deregistration returns the task to the queue.
		log.Warn("task interrupted by shutdown")
		return
	}

	req := controlplane.ResultRequest{Status: models.CompletionDone, Result: result, Attempt: task.Attempts}
	if err != nil {
		req.Status = models.CompletionFailed
		req.Result = errorResult(err)
		log.Warn("task failed", zap.Error(err), zap.Duration("elapsed", a.clock.Since(start)))
	} else {
		log.Info("task done", zap.Duration("elapsed", a.clock.Since(start)))
	}

	applied, err := a.master.ReportResult(ctx, task.ID, req)
	switch {
	case err != nil:
		log.Error("report result failed", zap.Error(err))
	case !applied:
		log.Warn("result ignored by master, task was reassigned")
	}
}

// errorResult encodes an execution error as a JSON string.
func errorResult(err error) json.RawMessage {
	b, mErr := json.Marshal(err.Error())
	if mErr != nil {
		return json.RawMessage(`"execution failed"`)
	}
	return b
}
