package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
)

// BatchHandler processes one same-type batch. Handlers isolate per-item
// failures themselves; a returned error means the whole batch failed.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch []Envelope) error
}

// BatchHandlerFunc adapts a function to BatchHandler.
type BatchHandlerFunc func(ctx context.Context, batch []Envelope) error

func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch []Envelope) error {
	return f(ctx, batch)
}

// Processor drains the queue on a single goroutine: pop up to batchSize
// envelopes, group them by type, and hand each group to its handler under a
// per-batch timeout.
type Processor struct {
	queue        *Queue
	handlers     map[TaskType]BatchHandler
	batchSize    int
	batchTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProcessor creates a drainer over the queue.
func NewProcessor(queue *Queue, batchSize int, batchTimeout time.Duration) *Processor {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchTimeout <= 0 {
		batchTimeout = 30 * time.Second
	}
	return &Processor{
		queue:        queue,
		handlers:     make(map[TaskType]BatchHandler),
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
	}
}

// Register binds a handler to a task type. Not safe after Start.
func (p *Processor) Register(t TaskType, h BatchHandler) {
	p.handlers[t] = h
}

// Start launches the drainer goroutine. Idempotent.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
	logger.Info("task processor started", "batch_size", p.batchSize)
}

// Stop halts the drainer without waiting for queued envelopes.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

// DrainAndStop refuses new envelopes, processes what is queued until empty
// or ctx expires, then stops the drainer.
func (p *Processor) DrainAndStop(ctx context.Context) {
	p.queue.Close()
	for p.queue.Len() > 0 {
		select {
		case <-ctx.Done():
			logger.Warn("shutdown drain abandoned", "remaining", p.queue.Len())
			p.Stop()
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
	p.Stop()
	logger.Info("task processor drained and stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case first := <-p.queue.ch:
			batch := p.pop(first)
			p.dispatch(ctx, batch)
		}
	}
}

// pop collects up to batchSize envelopes without blocking past the first.
func (p *Processor) pop(first Envelope) []Envelope {
	batch := make([]Envelope, 1, p.batchSize)
	batch[0] = first
	for len(batch) < p.batchSize {
		select {
		case e := <-p.queue.ch:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

// dispatch groups the batch by type, preserving enqueue order within each
// group, and invokes the handlers. A failing handler loses its group only.
func (p *Processor) dispatch(ctx context.Context, batch []Envelope) {
	groups := make(map[TaskType][]Envelope)
	var order []TaskType
	for _, e := range batch {
		if _, seen := groups[e.Type]; !seen {
			order = append(order, e.Type)
		}
		groups[e.Type] = append(groups[e.Type], e)
	}

	for _, t := range order {
		group := groups[t]
		handler, ok := p.handlers[t]
		if !ok {
			logger.Warn("no handler for task type", "type", string(t), "count", len(group))
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].EnqueuedAt.Before(group[j].EnqueuedAt)
		})

		batchCtx, cancel := context.WithTimeout(ctx, p.batchTimeout)
		if err := handler.HandleBatch(batchCtx, group); err != nil {
			logger.Error("batch handler failed",
				"type", string(t), "count", len(group), "error", err)
		}
		cancel()
	}
}
