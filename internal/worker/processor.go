// Package worker consumes queued accident log tasks and appends them to the
// store.
package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/queue"
	"github.com/dharsanguruparan/QRescue/internal/storage"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	store storage.Store
	log   *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(store storage.Store, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, log: logger}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.LogLocationTask, p.HandleLogLocation)
	return mux
}

// HandleLogLocation appends the entry carried by task. A payload that cannot
// be decoded is skipped rather than retried.
func (p *Processor) HandleLogLocation(ctx context.Context, task *asynq.Task) error {
	entry, err := queue.ParseLogLocationTask(task)
	if err != nil {
		p.log.Error("drop malformed task", zap.String("type", task.Type()), zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	saved, err := p.store.AppendAccidentLog(ctx, entry)
	if err != nil {
		p.log.Error("append accident log", zap.String("user", entry.UserName), zap.Error(err))
		return err
	}
	p.log.Info("accident log stored", zap.String("id", saved.ID), zap.String("user", saved.UserName))
	return nil
}
