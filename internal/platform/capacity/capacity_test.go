package capacity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitFor は cond が真になるまで Snapshot をポーリングする。
func waitFor(t *testing.T, g *Gate, cond func(Snapshot) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(g.Snapshot()) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached; snapshot = %+v", g.Snapshot())
}

func TestNewFloorsConfig(t *testing.T) {
	g := New(Config{MaxConcurrent: 0, MaxQueue: -3})
	s := g.Snapshot()
	if s.MaxConcurrent != 1 || s.MaxQueue != 0 {
		t.Fatalf("snapshot = %+v, want max_concurrent=1 max_queue=0", s)
	}
}

func TestConcurrentAcquireAdmitsQueuesRejects(t *testing.T) {
	g := New(Config{MaxConcurrent: 1, MaxQueue: 2})
	ctx := context.Background()

	type result struct {
		slot *Slot
		err  error
	}
	results := make(chan result, 4)
	for i := 0; i < 4; i++ {
		go func() {
			s, err := g.Acquire(ctx, 5*time.Second)
			results <- result{s, err}
		}()
	}

	// 1 件は即入場、2 件は待ち、残り 1 件は即拒否
	first := <-results
	second := <-results
	var admitted, rejected []result
	for _, r := range []result{first, second} {
		if r.err != nil {
			rejected = append(rejected, r)
		} else {
			admitted = append(admitted, r)
		}
	}
	if len(admitted) != 1 || len(rejected) != 1 || !errors.Is(rejected[0].err, ErrRejected) {
		t.Fatalf("first two results: admitted=%d rejected=%d", len(admitted), len(rejected))
	}
	waitFor(t, g, func(s Snapshot) bool { return s.Active == 1 && s.Queued == 2 })

	held := admitted[0].slot
	for i := 0; i < 2; i++ {
		held.Release()
		r := <-results
		if r.err != nil {
			t.Fatalf("queued acquire %d failed: %v", i, r.err)
		}
		held = r.slot
	}
	held.Release()

	s := g.Snapshot()
	if s.Active != 0 || s.Queued != 0 {
		t.Errorf("after drain: %+v", s)
	}
	if s.TotalStarted != 3 || s.TotalFinished != 3 || s.TotalRejected != 1 {
		t.Errorf("counters = started %d finished %d rejected %d", s.TotalStarted, s.TotalFinished, s.TotalRejected)
	}
}

func TestQueuedWaitersAdmittedInArrivalOrder(t *testing.T) {
	const n = 5
	g := New(Config{MaxConcurrent: 1, MaxQueue: n})
	ctx := context.Background()

	head, err := g.Acquire(ctx, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	order := make(chan int, n)
	slots := make(chan *Slot, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			s, err := g.Acquire(ctx, 5*time.Second)
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			order <- i
			slots <- s
		}()
		// 到着順を確定させる
		waitFor(t, g, func(s Snapshot) bool { return s.Queued == i+1 })
	}

	head.Release()
	for want := 0; want < n; want++ {
		got := <-order
		if got != want {
			t.Fatalf("admitted waiter %d, want %d", got, want)
		}
		if s := g.Snapshot(); s.Active != 1 {
			t.Fatalf("active = %d during handoff", s.Active)
		}
		(<-slots).Release()
	}
	if s := g.Snapshot(); s.Active != 0 {
		t.Errorf("active = %d, want 0", s.Active)
	}
}

func TestZeroTimeoutFailsFast(t *testing.T) {
	g := New(Config{MaxConcurrent: 1, MaxQueue: 10})
	ctx := context.Background()
	held, _ := g.Acquire(ctx, 0)
	if held == nil {
		t.Fatal("first acquire should be admitted even with zero timeout")
	}

	for _, timeout := range []time.Duration{0, -time.Second} {
		start := time.Now()
		_, err := g.Acquire(ctx, timeout)
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("timeout %v: err = %v, want ErrRejected", timeout, err)
		}
		if el := time.Since(start); el > 100*time.Millisecond {
			t.Errorf("timeout %v blocked for %v", timeout, el)
		}
	}
	if s := g.Snapshot(); s.Queued != 0 || s.TotalRejected != 2 {
		t.Errorf("snapshot = %+v", s)
	}
	held.Release()
}

func TestTimedOutWaiterLeavesQueue(t *testing.T) {
	g := New(Config{MaxConcurrent: 1, MaxQueue: 1})
	ctx := context.Background()
	held, _ := g.Acquire(ctx, time.Second)

	_, err := g.Acquire(ctx, 20*time.Millisecond)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if s := g.Snapshot(); s.Queued != 0 {
		t.Fatalf("queued = %d after timeout", s.Queued)
	}

	// 抜けた waiter に枠が渡らず、active がちゃんと 0 に戻る
	held.Release()
	if s := g.Snapshot(); s.Active != 0 {
		t.Errorf("active = %d, want 0", s.Active)
	}
}

func TestCancelledWaiterLeavesQueue(t *testing.T) {
	g := New(Config{MaxConcurrent: 1, MaxQueue: 1})
	held, _ := g.Acquire(context.Background(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx, 5*time.Second)
		done <- err
	}()
	waitFor(t, g, func(s Snapshot) bool { return s.Queued == 1 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	held.Release()
	if s := g.Snapshot(); s.Active != 0 || s.Queued != 0 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New(Config{MaxConcurrent: 2, MaxQueue: 0})
	a, _ := g.Acquire(context.Background(), 0)
	b, _ := g.Acquire(context.Background(), 0)

	a.Release()
	a.Release()
	if s := g.Snapshot(); s.Active != 1 || s.TotalFinished != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	b.Release()
	if s := g.Snapshot(); s.Active != 0 || s.TotalFinished != 2 {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestDoReleasesOnEveryExit(t *testing.T) {
	g := New(Config{MaxConcurrent: 1, MaxQueue: 0})
	ctx := context.Background()
	boom := errors.New("boom")

	if err := g.Do(ctx, 0, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if s := g.Snapshot(); s.Active != 0 {
		t.Fatalf("active = %d after error", s.Active)
	}

	func() {
		defer func() { _ = recover() }()
		_ = g.Do(ctx, 0, func(context.Context) error { panic("fault") })
	}()
	if s := g.Snapshot(); s.Active != 0 || s.TotalFinished != 2 {
		t.Fatalf("snapshot after panic = %+v", s)
	}

	if err := g.Do(ctx, 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestActiveNeverExceedsLimit(t *testing.T) {
	const limit = 3
	g := New(Config{MaxConcurrent: limit, MaxQueue: 50})
	var (
		mu      sync.Mutex
		running int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), 5*time.Second, func(context.Context) error {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > limit {
		t.Errorf("peak concurrency = %d, limit %d", peak, limit)
	}
	s := g.Snapshot()
	if s.Active != 0 || s.TotalStarted != s.TotalFinished || s.TotalStarted+s.TotalRejected != 40 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.LastStartedAt == nil || s.LastFinishedAt == nil {
		t.Error("timestamps should be set")
	}
}
