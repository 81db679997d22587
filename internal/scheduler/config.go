// Package scheduler implements the master's task queue, worker liveness
// tracking and failure recovery.
package scheduler

import (
	"fmt"
	"time"
)

// TieBreakFIFO serves equal priorities in enqueue order.
const TieBreakFIFO = "fifo"

// Config defines the scheduler configuration.
type Config struct {
	// HeartbeatTimeout is how long a worker may stay silent before it is presumed dead.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	// LeaseTimeout is how long a task may stay leased before it is presumed stuck.
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	// MonitorInterval is the period of the failure monitor.
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	// DefaultPriority applies when a submission carries no priority.
	DefaultPriority int `yaml:"default_priority"`
	// TieBreak orders tasks of equal priority. Only "fifo" is supported.
	TieBreak string `yaml:"tie_break"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatTimeout: 10 * time.Second,
		LeaseTimeout:     2 * time.Minute,
		MonitorInterval:  5 * time.Second,
		DefaultPriority:  50,
		TieBreak:         TieBreakFIFO,
	}
}

// Validate checks that every timer is positive and the tie-break policy is known.
func (c *Config) Validate() error {
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive, got %s", c.HeartbeatTimeout)
	}
	if c.LeaseTimeout <= 0 {
		return fmt.Errorf("lease_timeout must be positive, got %s", c.LeaseTimeout)
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("monitor_interval must be positive, got %s", c.MonitorInterval)
	}
	if c.TieBreak != "" && c.TieBreak != TieBreakFIFO {
		return fmt.Errorf("unsupported tie_break policy %q", c.TieBreak)
	}
	return nil
}
