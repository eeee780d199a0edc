// Package queue hands accident log entries to asynq so they are written by a
// worker instead of the request goroutine.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/QRescue/internal/model"
)

const (
	// LogLocationTask is scheduled each time a scanner shares a location.
	LogLocationTask = "accident:log"
)

// NewLogLocationTask serializes entry into a task payload.
func NewLogLocationTask(entry model.AccidentLogEntry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(LogLocationTask, data), nil
}

// ParseLogLocationTask reverses NewLogLocationTask.
func ParseLogLocationTask(task *asynq.Task) (model.AccidentLogEntry, error) {
	var entry model.AccidentLogEntry
	if err := json.Unmarshal(task.Payload(), &entry); err != nil {
		return model.AccidentLogEntry{}, fmt.Errorf("decode payload: %w", err)
	}
	return entry, nil
}

// Dispatcher enqueues accident log entries. It satisfies
// resolution.Recorder.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher wraps an asynq client.
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Record enqueues entry with retries.
func (d *Dispatcher) Record(ctx context.Context, entry model.AccidentLogEntry) error {
	task, err := NewLogLocationTask(entry)
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)); err != nil {
		return fmt.Errorf("enqueue log location task: %w", err)
	}
	return nil
}
