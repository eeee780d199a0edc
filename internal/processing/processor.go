// Package processing runs accident-log writes on a small background worker
// pool so a scan request never waits on the store. Goroutines + channels
// power the implementation.
package processing

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/model"
	"github.com/dharsanguruparan/QRescue/internal/storage"
)

// ErrQueueFull is returned by Record when the buffer has no room.
var ErrQueueFull = errors.New("processing queue full")

// Processor consumes accident log entries and appends them to the store.
type Processor struct {
	store   storage.Store
	log     *zap.Logger
	queue   chan model.AccidentLogEntry
	workers int
	wg      sync.WaitGroup
	once    sync.Once
}

// New builds a Processor with queue capacity tied to worker count.
func New(store storage.Store, workers int, logger *zap.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store: store,
		log:   logger,
		// A buffered channel lets Record return immediately while workers
		// catch up.
		queue:   make(chan model.AccidentLogEntry, workers*16),
		workers: workers,
	}
}

// Start launches worker goroutines. They drain the queue and exit once ctx
// is cancelled; Wait blocks until they have.
func (p *Processor) Start(ctx context.Context) {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
	})
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Record queues entry without blocking. A full buffer drops the entry and
// reports ErrQueueFull.
func (p *Processor) Record(_ context.Context, entry model.AccidentLogEntry) error {
	select {
	case p.queue <- entry:
		return nil
	default:
		p.log.Warn("processor queue full, dropping accident log", zap.String("user", entry.UserName))
		return ErrQueueFull
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case entry := <-p.queue:
			p.process(entry)
		}
	}
}

// drain writes whatever is still buffered at shutdown.
func (p *Processor) drain() {
	for {
		select {
		case entry := <-p.queue:
			p.process(entry)
		default:
			return
		}
	}
}

func (p *Processor) process(entry model.AccidentLogEntry) {
	saved, err := p.store.AppendAccidentLog(context.Background(), entry)
	if err != nil {
		p.log.Error("append accident log", zap.String("user", entry.UserName), zap.Error(err))
		return
	}
	p.log.Debug("accident log stored", zap.String("id", saved.ID))
}
