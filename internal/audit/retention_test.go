package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/taskhive/internal/models"
	"github.com/fentz26/taskhive/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *recordingPruner) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 3, p.err
}

func TestRetentionRunOnceUsesWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC))
	p := &recordingPruner{}
	r, err := NewRetention(p, 24*time.Hour, "0 * * * *",
		WithRetentionClock(clock), WithRetentionLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer r.Stop()

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.Len(t, p.cutoffs, 1)
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), p.cutoffs[0])
}

func TestRetentionRunOnceError(t *testing.T) {
	p := &recordingPruner{err: errors.New("locked")}
	r, err := NewRetention(p, time.Hour, "*/5 * * * *")
	require.NoError(t, err)
	defer r.Stop()

	_, err = r.RunOnce(context.Background())
	assert.EqualError(t, err, "locked")
}

func TestNewRetentionValidation(t *testing.T) {
	_, err := NewRetention(&recordingPruner{}, 0, "0 * * * *")
	assert.Error(t, err)

	_, err = NewRetention(&recordingPruner{}, time.Hour, "every hour")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid prune schedule")
}

func TestRetentionStartStop(t *testing.T) {
	r, err := NewRetention(&recordingPruner{}, time.Hour, "0 3 * * *", WithRetentionLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	r.Start()
	assert.NoError(t, r.Stop())
}

func TestRetentionPrunesJournal(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().UTC()
	require.NoError(t, s.WriteEvents(context.Background(), []models.Event{
		{Action: models.ActionTaskSubmit, TaskID: "old", Outcome: "queued", Timestamp: now.Add(-48 * time.Hour)},
		{Action: models.ActionTaskSubmit, TaskID: "new", Outcome: "queued", Timestamp: now},
	}))

	r, err := NewRetention(s, 24*time.Hour, "0 * * * *")
	require.NoError(t, err)
	defer r.Stop()

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	events, err := s.ListEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].TaskID)
}
