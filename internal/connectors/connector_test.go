package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type echoConnector struct {
	name  string
	types map[string]bool
}

func (e *echoConnector) Name() string { return e.name }

func (e *echoConnector) IsAllowed(taskType string) bool { return e.types[taskType] }

func (e *echoConnector) Execute(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(e.name)
}

func TestMuxRoutesByType(t *testing.T) {
	m := NewMux(
		&echoConnector{name: "first", types: map[string]bool{"sum": true}},
		&echoConnector{name: "second", types: map[string]bool{"sum": true, "exec": true}},
	)

	out, err := m.Execute(context.Background(), "sum", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if string(out) != `"first"` {
		t.Errorf("Expected first connector to win, got %s", out)
	}

	out, err = m.Execute(context.Background(), "exec", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if string(out) != `"second"` {
		t.Errorf("Expected second connector, got %s", out)
	}

	if m.IsAllowed("matmul") {
		t.Error("matmul should not be allowed")
	}
	_, err = m.Execute(context.Background(), "matmul", nil)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}
}
