package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Entry struct {
	ID     string
	Prompt string
}

type Result struct {
	Entry    Entry
	Response string
	Err      error
}

// ProcessFunc runs one entry to completion.
type ProcessFunc func(ctx context.Context, entry Entry) (string, error)

// ResultFunc is called with each result before its entry leaves the queue.
type ResultFunc func(Result)

// Queue runs prompts strictly one after another in submission order. At most
// one entry is being processed at any time, and every entry is processed
// exactly once whether it succeeds or fails.
type Queue struct {
	ctx      context.Context
	process  ProcessFunc
	onResult ResultFunc
	logger   *zap.Logger

	mu         sync.Mutex
	idle       *sync.Cond
	entries    []Entry
	processing bool
}

// NewQueue returns an idle queue. ctx is handed to every ProcessFunc call.
func NewQueue(ctx context.Context, process ProcessFunc, onResult ResultFunc, logger *zap.Logger) *Queue {
	q := &Queue{
		ctx:      ctx,
		process:  process,
		onResult: onResult,
		logger:   logger,
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends prompt and starts the worker if the queue was idle.
func (q *Queue) Enqueue(prompt string) Entry {
	entry := Entry{ID: uuid.NewString(), Prompt: prompt}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	start := !q.processing
	q.processing = true
	pending := len(q.entries)
	q.mu.Unlock()

	q.logger.Debug("enqueued prompt", zap.String("entryId", entry.ID), zap.Int("pending", pending))
	if start {
		go q.run()
	}
	return entry
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.processing = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		head := q.entries[0]
		q.mu.Unlock()

		response, err := q.process(q.ctx, head)
		if err != nil {
			q.logger.Warn("prompt failed", zap.String("entryId", head.ID), zap.Error(err))
		}
		if q.onResult != nil {
			q.onResult(Result{Entry: head, Response: response, Err: err})
		}

		q.mu.Lock()
		q.entries = q.entries[1:]
		q.mu.Unlock()
	}
}

// Len counts entries not yet finished, including the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Wait blocks until the queue is idle.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.processing {
		q.idle.Wait()
	}
}
