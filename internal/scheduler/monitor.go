package scheduler

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Monitor drives Scheduler.Tick on a fixed interval, independent of request
// traffic.
type Monitor struct {
	sched  *Scheduler
	clock  clockwork.Clock
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// onTick is called after every tick; used by tests.
	onTick func(TickReport)
}

// NewMonitor creates a monitor for sched using the scheduler's clock and
// MonitorInterval.
func NewMonitor(sched *Scheduler) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		sched:  sched,
		clock:  sched.clock,
		logger: sched.logger.Named("monitor"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the monitor loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	m.logger.Info("failure monitor started",
		zap.Duration("interval", m.sched.config.MonitorInterval),
		zap.Duration("heartbeat_timeout", m.sched.config.HeartbeatTimeout),
		zap.Duration("lease_timeout", m.sched.config.LeaseTimeout))
}

// Stop halts the loop and waits for an in-progress tick to finish.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("failure monitor stopped")
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.sched.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.Chan():
			report := m.sched.Tick()
			if !report.Empty() {
				m.logger.Info("monitor tick",
					zap.Int("evicted_workers", len(report.EvictedWorkers)),
					zap.Int("requeued", len(report.Requeued)))
			}
			if m.onTick != nil {
				m.onTick(report)
			}
		}
	}
}
