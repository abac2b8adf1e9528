package inbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type job struct {
	key string
	seq int
}

func TestEnqueuePreservesOrderPerKey(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := make(map[string][]int)
	var wg sync.WaitGroup

	b := New(context.Background(), Options{Workers: 4, QueueSize: 4}, func(_ context.Context, j job) {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[j.key] = append(seen[j.key], j.seq)
		mu.Unlock()
	}, nil)
	defer b.Close()

	keys := []string{"a", "b", "c"}
	const perKey = 20
	wg.Add(len(keys) * perKey)
	for i := 0; i < perKey; i++ {
		for _, k := range keys {
			if err := b.Enqueue(context.Background(), k, job{key: k, seq: i}); err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, k := range keys {
		got := seen[k]
		if len(got) != perKey {
			t.Fatalf("key %s handled %d jobs, want %d", k, len(got), perKey)
		}
		for i, seq := range got {
			if seq != i {
				t.Fatalf("key %s out of order: %v", k, got)
			}
		}
	}
}

func TestWorkersBoundConcurrency(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	b := New(context.Background(), Options{Workers: 2}, func(_ context.Context, _ job) {
		defer wg.Done()
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
	}, nil)
	defer b.Close()

	wg.Add(8)
	for i := 0; i < 8; i++ {
		key := string(rune('a' + i))
		if err := b.Enqueue(context.Background(), key, job{key: key}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	wg.Wait()

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestIdleWorkersAreReaped(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	b := New(context.Background(), Options{IdleTimeout: 10 * time.Millisecond}, func(_ context.Context, _ job) {
		close(done)
	}, nil)
	defer b.Close()

	if err := b.Enqueue(context.Background(), "a", job{key: "a"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	<-done

	deadline := time.Now().Add(time.Second)
	for b.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle worker was not reaped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	t.Parallel()

	b := New(context.Background(), Options{}, func(context.Context, job) {}, nil)
	b.Close()

	if err := b.Enqueue(context.Background(), "a", job{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestEnqueueRespectsContextWhenFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	b := New(context.Background(), Options{QueueSize: 1}, func(context.Context, job) {
		<-block
	}, nil)
	defer func() {
		close(block)
		b.Close()
	}()

	// One job in the handler, one in the buffer.
	for i := 0; i < 2; i++ {
		if err := b.Enqueue(context.Background(), "a", job{seq: i}); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Enqueue(ctx, "a", job{seq: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestHandlerPanicDoesNotKillWorker(t *testing.T) {
	t.Parallel()

	got := make(chan int, 1)
	b := New(context.Background(), Options{}, func(_ context.Context, j job) {
		if j.seq == 0 {
			panic("boom")
		}
		got <- j.seq
	}, nil)
	defer b.Close()

	_ = b.Enqueue(context.Background(), "a", job{seq: 0})
	_ = b.Enqueue(context.Background(), "a", job{seq: 1})

	select {
	case seq := <-got:
		if seq != 1 {
			t.Fatalf("seq = %d", seq)
		}
	case <-time.After(time.Second):
		t.Fatal("second job never ran")
	}
}

func TestCloseWaitsForInFlightHandler(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var finished atomic.Bool
	var ctxErr atomic.Value
	b := New(context.Background(), Options{}, func(ctx context.Context, _ job) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		finished.Store(true)
	}, nil)

	if err := b.Enqueue(context.Background(), "a", job{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	<-started
	b.Close()

	if !finished.Load() {
		t.Fatal("Close returned before the handler finished")
	}
	if err := ctxErr.Load(); err != nil {
		t.Fatalf("handler context canceled during drain: %v", err)
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	t.Parallel()

	const n = 5
	started := make(chan struct{}, n)
	var handled atomic.Int32
	b := New(context.Background(), Options{Workers: 1}, func(context.Context, job) {
		started <- struct{}{}
		time.Sleep(50 * time.Millisecond)
		handled.Add(1)
	}, nil)

	for i := 0; i < n; i++ {
		if err := b.Enqueue(context.Background(), "a", job{seq: i}); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	<-started
	b.Close()

	if got := handled.Load(); got != n {
		t.Fatalf("handled = %d, want %d", got, n)
	}
}

func TestCloseDrainsEveryKeyInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	got := make(map[string][]int)
	b := New(context.Background(), Options{Workers: 2}, func(_ context.Context, j job) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		got[j.key] = append(got[j.key], j.seq)
		mu.Unlock()
	}, nil)

	for i := 0; i < 4; i++ {
		for _, key := range []string{"a", "b", "c"} {
			if err := b.Enqueue(context.Background(), key, job{key: key, seq: i}); err != nil {
				t.Fatalf("Enqueue %s/%d failed: %v", key, i, err)
			}
		}
	}
	b.Close()

	for _, key := range []string{"a", "b", "c"} {
		seqs := got[key]
		if len(seqs) != 4 {
			t.Fatalf("key %s handled %v, want 4 jobs", key, seqs)
		}
		for i, seq := range seqs {
			if seq != i {
				t.Fatalf("key %s order = %v", key, seqs)
			}
		}
	}
}

func TestCloseDropsAfterDrainTimeout(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 5)
	var handled atomic.Int32
	b := New(context.Background(), Options{Workers: 1, DrainTimeout: 20 * time.Millisecond}, func(context.Context, job) {
		started <- struct{}{}
		time.Sleep(100 * time.Millisecond)
		handled.Add(1)
	}, nil)

	for i := 0; i < 5; i++ {
		if err := b.Enqueue(context.Background(), "a", job{seq: i}); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	<-started

	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the drain deadline")
	}

	if got := handled.Load(); got != 1 {
		t.Fatalf("handled = %d, want only the in-flight job", got)
	}
}
