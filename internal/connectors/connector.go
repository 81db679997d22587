// Package connectors defines how workers execute leased tasks.
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedType is returned when no connector handles a task type.
var ErrUnsupportedType = errors.New("unsupported task type")

// Connector executes tasks of the types it allows. Payload and result are
// opaque JSON; a returned error marks the task failed.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs one task and returns its result.
	Execute(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error)

	// IsAllowed reports whether the connector handles taskType.
	IsAllowed(taskType string) bool
}

// Mux dispatches each task to the first connector that allows its type.
type Mux struct {
	connectors []Connector
}

// NewMux creates a mux over conns, consulted in order.
func NewMux(conns ...Connector) *Mux {
	return &Mux{connectors: conns}
}

// Name returns the connector identifier.
func (m *Mux) Name() string {
	return "mux"
}

// IsAllowed reports whether any connector handles taskType.
func (m *Mux) IsAllowed(taskType string) bool {
	return m.route(taskType) != nil
}

// Execute runs the task on the first connector that allows its type.
func (m *Mux) Execute(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error) {
	c := m.route(taskType)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, taskType)
	}
	return c.Execute(ctx, taskType, payload)
}

func (m *Mux) route(taskType string) Connector {
	for _, c := range m.connectors {
		if c.IsAllowed(taskType) {
			return c
		}
	}
	return nil
}
