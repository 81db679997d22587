package compute

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fentz26/taskhive/internal/connectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins(t *testing.T) {
	c := New()
	tests := []struct {
		taskType string
		payload  string
		want     string
	}{
		{"sort", `{"array":[3,1,2]}`, `[1,2,3]`},
		{"sort", `{}`, `[]`},
		{"sum", `{"numbers":[1,2,3.5]}`, `6.5`},
		{"factorial", `{"n":5}`, `120`},
		{"factorial", `{}`, `120`},
		{"factorial", `{"n":25}`, `15511210043330985984000000`},
		{"fibonacci", `{"n":7}`, `[0,1,1,2,3,5,8]`},
		{"fibonacci", `{"n":0}`, `[]`},
		{"reverse", `{"text":"héllo"}`, `"olléh"`},
		{"isprime", `{"n":97}`, `true`},
		{"isprime", `{"n":91}`, `false`},
		{"isprime", `{"n":1}`, `false`},
		{"count_vowels", `{"text":"Distributed Systems"}`, `5`},
		{"gcd", `{"a":48,"b":18}`, `6`},
		{"gcd", `{}`, `10`},
		{"matmul", `{"A":[[1,2],[3,4]],"B":[[5,6],[7,8]]}`, `[[19,22],[43,50]]`},
	}

	for _, tt := range tests {
		t.Run(tt.taskType+" "+tt.payload, func(t *testing.T) {
			out, err := c.Execute(context.Background(), tt.taskType, json.RawMessage(tt.payload))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestBuiltinErrors(t *testing.T) {
	c := New()
	tests := []struct {
		taskType string
		payload  string
	}{
		{"matmul", `{"A":[],"B":[[1]]}`},
		{"matmul", `{"A":[[1,2]],"B":[[1,2]]}`},
		{"matmul", `{"A":[[1,2],[3]],"B":[[1],[2]]}`},
		{"sum", `{"numbers":"many"}`},
		{"sleep", `{"seconds":-1}`},
		{"factorial", `{"n":1000000}`},
	}
	for _, tt := range tests {
		_, err := c.Execute(context.Background(), tt.taskType, json.RawMessage(tt.payload))
		assert.Error(t, err, "%s %s", tt.taskType, tt.payload)
	}

	_, err := c.Execute(context.Background(), "teleport", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, connectors.ErrUnsupportedType))
}

func TestSleepHonoursContext(t *testing.T) {
	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Execute(ctx, "sleep", json.RawMessage(`{"seconds":30}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	out, err := c.Execute(context.Background(), "sleep", json.RawMessage(`{"seconds":0.01}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"slept":0.01}`, string(out))
}

func TestIsPrimeHonoursContext(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := c.Execute(ctx, "isprime", json.RawMessage(`{"n":9223372036854775783}`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)

	out, err := c.Execute(context.Background(), "isprime", json.RawMessage(`{"n":1000000007}`))
	require.NoError(t, err)
	assert.Equal(t, `true`, string(out))
}

func TestRegisterAndTypes(t *testing.T) {
	c := New()
	assert.Len(t, c.Types(), 10)
	assert.False(t, c.IsAllowed("upper"))

	c.Register("upper", func(_ context.Context, payload json.RawMessage) (any, error) {
		return "UP", nil
	})
	assert.True(t, c.IsAllowed("upper"))
	out, err := c.Execute(context.Background(), "upper", nil)
	require.NoError(t, err)
	assert.Equal(t, `"UP"`, string(out))
}
