// Package audit records scheduler decisions in the event journal.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/fentz26/taskhive/internal/models"
	"go.uber.org/zap"
)

// writeTimeout bounds a single journal write.
const writeTimeout = 5 * time.Second

// Journal is where records are persisted.
type Journal interface {
	WriteEvents(ctx context.Context, events []models.Event) error
}

// Recorder stamps scheduler events with an inputs hash and writes them to
// the journal. Journal failures are logged and never reach the scheduler.
type Recorder struct {
	journal Journal
	logger  *zap.Logger
}

// NewRecorder creates a recorder writing to j.
func NewRecorder(j Journal, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{journal: j, logger: logger.Named("audit")}
}

// Publish implements scheduler.EventSink.
func (r *Recorder) Publish(events []models.Event) {
	records := make([]models.Event, len(events))
	for i, ev := range events {
		ev.InputsHash = hashInputs(map[string]string{
			"action":    ev.Action,
			"task_id":   ev.TaskID,
			"worker_id": ev.WorkerID,
			"details":   ev.Details,
		})
		records[i] = ev
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.journal.WriteEvents(ctx, records); err != nil {
		r.logger.Error("failed to journal events", zap.Int("count", len(records)), zap.Error(err))
	}
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
