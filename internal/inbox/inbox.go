// Package inbox fans inbound jobs out to per-key FIFO workers under a global
// concurrency limit. Jobs for one key are handled strictly in arrival order.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("inbox closed")

const (
	defaultIdleTimeout  = time.Minute
	defaultDrainTimeout = 10 * time.Second
	drainPoll           = 5 * time.Millisecond
)

// Options configures an Inbox.
type Options struct {
	// Workers bounds how many jobs run at once across all keys.
	Workers int
	// QueueSize is the per-key buffer before Enqueue blocks.
	QueueSize int
	// IdleTimeout stops a key's worker after it has been empty this long.
	IdleTimeout time.Duration
	// DrainTimeout bounds how long Close keeps handling queued jobs.
	DrainTimeout time.Duration
}

// Inbox owns the per-key workers.
type Inbox[J any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	sem    chan struct{}
	handle func(context.Context, J)
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker[J]
	closed  bool
	drainBy time.Time
	wg      sync.WaitGroup
}

type worker[J any] struct {
	jobs    chan J
	pending int
}

// New creates an inbox whose workers live until ctx is done or Close is
// called. Handlers receive a context derived from ctx.
func New[J any](ctx context.Context, opts Options, handle func(context.Context, J), logger *slog.Logger) *Inbox[J] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	workersCtx, cancel := context.WithCancel(ctx)
	return &Inbox[J]{
		ctx:     workersCtx,
		cancel:  cancel,
		quit:    make(chan struct{}),
		sem:     make(chan struct{}, opts.Workers),
		handle:  handle,
		opts:    opts,
		logger:  logger,
		workers: make(map[string]*worker[J]),
	}
}

// Enqueue queues job behind earlier jobs for the same key. It blocks while the
// key's queue is full, until ctx or the inbox is done.
func (b *Inbox[J]) Enqueue(ctx context.Context, key string, job J) error {
	if ctx == nil {
		ctx = b.ctx
	}
	b.mu.Lock()
	if b.closed || b.ctx.Err() != nil {
		b.mu.Unlock()
		return ErrClosed
	}
	w := b.workerLocked(key)
	w.pending++
	b.mu.Unlock()

	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		b.release(w)
		return ctx.Err()
	case <-b.quit:
		b.release(w)
		return ErrClosed
	case <-b.ctx.Done():
		b.release(w)
		return ErrClosed
	}
}

// Len reports how many keys currently have a running worker.
func (b *Inbox[J]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.workers)
}

// Close stops accepting jobs and handles everything already queued, in
// order, until DrainTimeout elapses. Jobs still queued after that are
// dropped and counted in the log.
func (b *Inbox[J]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.drainBy = time.Now().Add(b.opts.DrainTimeout)
	b.mu.Unlock()

	close(b.quit)
	b.wg.Wait()
	b.cancel()
}

func (b *Inbox[J]) workerLocked(key string) *worker[J] {
	if w, ok := b.workers[key]; ok {
		return w
	}
	w := &worker[J]{jobs: make(chan J, b.opts.QueueSize)}
	b.workers[key] = w
	b.wg.Add(1)
	go b.run(key, w)
	return w
}

func (b *Inbox[J]) release(w *worker[J]) {
	b.mu.Lock()
	w.pending--
	b.mu.Unlock()
}

func (b *Inbox[J]) run(key string, w *worker[J]) {
	defer b.wg.Done()

	idle := time.NewTimer(b.opts.IdleTimeout)
	defer idle.Stop()

	for {
		// Once closed, queued jobs go through drain so its deadline applies.
		select {
		case <-b.quit:
			b.drain(key, w)
			return
		default:
		}

		select {
		case <-b.quit:
			b.drain(key, w)
			return
		case <-b.ctx.Done():
			return
		case <-idle.C:
			b.mu.Lock()
			if w.pending == 0 {
				delete(b.workers, key)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			idle.Reset(b.opts.IdleTimeout)
		case job := <-w.jobs:
			if !b.runAcquired(key, w, job) {
				return
			}
			idle.Reset(b.opts.IdleTimeout)
		}
	}
}

// runAcquired runs job under the global semaphore. It returns false when the
// parent context ended before a slot was free.
func (b *Inbox[J]) runAcquired(key string, w *worker[J], job J) bool {
	select {
	case b.sem <- struct{}{}:
	case <-b.ctx.Done():
		b.release(w)
		return false
	}
	b.runJob(key, job)
	<-b.sem
	b.release(w)
	return true
}

// drain handles the jobs left for key after Close. It returns once no
// Enqueue for the key is pending, dropping jobs past the drain deadline.
func (b *Inbox[J]) drain(key string, w *worker[J]) {
	b.mu.Lock()
	deadline := b.drainBy
	b.mu.Unlock()

	poll := time.NewTicker(drainPoll)
	defer poll.Stop()

	handled, dropped := 0, 0
	for {
		b.mu.Lock()
		pending := w.pending
		b.mu.Unlock()
		if pending == 0 {
			break
		}

		select {
		case job := <-w.jobs:
			if time.Now().After(deadline) {
				dropped++
				b.release(w)
				continue
			}
			if !b.runAcquired(key, w, job) {
				return
			}
			handled++
		case <-poll.C:
		case <-b.ctx.Done():
			return
		}
	}

	if dropped > 0 {
		b.logger.Warn("Inbox drain deadline exceeded, dropped queued jobs", "key", key, "dropped", dropped, "handled", handled)
	} else if handled > 0 {
		b.logger.Debug("Inbox drained queued jobs", "key", key, "handled", handled)
	}
}

func (b *Inbox[J]) runJob(key string, job J) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Inbox handler panicked", "key", key, "panic", r)
		}
	}()
	b.handle(b.ctx, job)
}
