package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/taskhive/internal/client"
	"github.com/fentz26/taskhive/internal/connectors/compute"
	"github.com/fentz26/taskhive/internal/controlplane"
	"github.com/fentz26/taskhive/internal/models"
	"github.com/fentz26/taskhive/internal/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMaster(t *testing.T) (*scheduler.Scheduler, *client.Client) {
	t.Helper()
	sched, err := scheduler.New(nil, scheduler.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	ts := httptest.NewServer(controlplane.NewServer(controlplane.NewService(sched, nil), "127.0.0.1:0"))
	t.Cleanup(ts.Close)
	return sched, client.New(ts.URL)
}

func submit(t *testing.T, sched *scheduler.Scheduler, taskType, payload string) string {
	t.Helper()
	id, err := sched.Submit(scheduler.SubmitRequest{Type: taskType, Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	return id
}

func startAgent(t *testing.T, a *Agent) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- a.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, ch
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestAgentExecutesTasks(t *testing.T) {
	sched, c := newMaster(t)
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, submit(t, sched, "sum", `{"numbers":[1,2,3]}`))
	}

	agent := New(c, compute.New(), Config{ID: "w-test", PollInterval: 10 * time.Millisecond, Concurrency: 3},
		WithLogger(zaptest.NewLogger(t)))
	cancel, done := startAgent(t, agent)

	require.Eventually(t, func() bool {
		return sched.StatusSummary().Done == len(ids)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "w-test", agent.ID())

	for _, id := range ids {
		task, err := sched.Task(id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStateDone, task.State)
		assert.JSONEq(t, `6`, string(task.Result))
		assert.Equal(t, "w-test", task.AssignedWorker)
	}

	cancel()
	waitRun(t, done)
	assert.Empty(t, sched.Workers(), "agent should deregister on exit")
}

func TestAgentReportsFailures(t *testing.T) {
	sched, c := newMaster(t)
	unknown := submit(t, sched, "transcode", `{}`)
	bad := submit(t, sched, "matmul", `{"A":[[1,2]],"B":[[1,2]]}`)

	agent := New(c, compute.New(), Config{PollInterval: 10 * time.Millisecond}, WithLogger(zaptest.NewLogger(t)))
	cancel, done := startAgent(t, agent)

	require.Eventually(t, func() bool {
		return sched.StatusSummary().Failed == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Regexp(t, `^worker-[0-9a-f]{6}$`, agent.ID())

	task, err := sched.Task(unknown)
	require.NoError(t, err)
	var msg string
	require.NoError(t, json.Unmarshal(task.Result, &msg))
	assert.Contains(t, msg, "unsupported task type")

	task, err = sched.Task(bad)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateFailed, task.State)

	cancel()
	waitRun(t, done)
}

func TestAgentShutdownRequeuesInFlight(t *testing.T) {
	sched, c := newMaster(t)
	id := submit(t, sched, "sleep", `{"seconds":30}`)

	agent := New(c, compute.New(), Config{ID: "sleeper", PollInterval: 10 * time.Millisecond},
		WithLogger(zaptest.NewLogger(t)))
	cancel, done := startAgent(t, agent)

	require.Eventually(t, func() bool {
		task, err := sched.Task(id)
		return err == nil && task.State == models.TaskStateLeased
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	waitRun(t, done)

	task, err := sched.Task(id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateQueued, task.State)
	assert.Empty(t, task.AssignedWorker)
	assert.Equal(t, 1, sched.StatusSummary().Requeues)
}

func TestAgentRegisterFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	agent := New(client.New(url), compute.New(), Config{})
	err := agent.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register")
}

type fakeMaster struct {
	mu         sync.Mutex
	heartbeats atomic.Int32
	leases     atomic.Int32
	deregs     []string
}

func (f *fakeMaster) Register(_ context.Context, id string) (string, error) {
	return "fake-" + id, nil
}

func (f *fakeMaster) Heartbeat(context.Context, string) error {
	f.heartbeats.Add(1)
	return nil
}

func (f *fakeMaster) LeaseNext(context.Context, string) (*models.Task, error) {
	if f.leases.Add(1) == 1 {
		return nil, errors.New("master unavailable")
	}
	return nil, nil
}

func (f *fakeMaster) ReportResult(context.Context, string, controlplane.ResultRequest) (bool, error) {
	return false, errors.New("unexpected report")
}

func (f *fakeMaster) Deregister(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregs = append(f.deregs, id)
	return nil, nil
}

func TestAgentHeartbeatsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	master := &fakeMaster{}
	agent := New(master, compute.New(), Config{ID: "hb", HeartbeatInterval: 3 * time.Second, PollInterval: time.Second},
		WithClock(clock), WithLogger(zaptest.NewLogger(t)))
	cancel, done := startAgent(t, agent)

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	// Heartbeat ticker plus the idle poll sleep.
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	assert.Zero(t, master.heartbeats.Load())

	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		require.NoError(t, clock.BlockUntilContext(ctx, 2))
	}
	require.Eventually(t, func() bool { return master.heartbeats.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, master.leases.Load(), int32(3), "lease errors must not stop polling")

	cancel()
	waitRun(t, done)
	master.mu.Lock()
	defer master.mu.Unlock()
	assert.Equal(t, []string{"fake-hb"}, master.deregs)
}
