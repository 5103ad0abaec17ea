package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerRunsJob(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 10})
	defer manager.Stop()

	var ran bool
	err := manager.Do(context.Background(), "chat_1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if !ran {
		t.Fatalf("job did not run")
	}

	want := errors.New("boom")
	if err := manager.Do(context.Background(), "chat_1", func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected job error to be returned, got %v", err)
	}
}

func TestDispatcherJobOrder(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 2, MaxWorkers: 4, QueueSize: 10})
	defer manager.Stop()

	var mu sync.Mutex
	order := make([]string, 0, 2)
	for _, label := range []string{"first", "second"} {
		label := label
		if err := manager.Do(context.Background(), "chat_order", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("Do (%s) error: %v", label, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected execution order [first second], got %v", order)
	}
}

func TestDispatcherSerializesSameChat(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 4, MaxWorkers: 4, QueueSize: 64})
	defer manager.Stop()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.Do(context.Background(), "chat_same", func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Do error: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("jobs of one chat overlapped: max %d running at once", maxActive)
	}
}

func TestDispatcherQueuesWhenWorkerBusy(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 2, MaxWorkers: 2, QueueSize: 10})
	defer manager.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	done1 := make(chan struct{})
	done2 := make(chan struct{})

	go func() {
		_ = manager.Do(context.Background(), "chat_busy", func(ctx context.Context) error {
			close(started)
			<-block
			return nil
		})
		close(done1)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("first job did not start")
	}

	go func() {
		_ = manager.Do(context.Background(), "chat_busy", func(ctx context.Context) error { return nil })
		close(done2)
	}()

	select {
	case <-done2:
		t.Fatalf("second job ran while the first one was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-done1:
	case <-time.After(time.Second):
		t.Fatalf("first job did not complete after unblocking")
	}
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatalf("second job did not complete after first")
	}
}

func TestManagerHighLoadAllowsOtherChats(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 3, QueueSize: 10})
	defer manager.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = manager.Do(context.Background(), "chat_slow", func(ctx context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started
	defer close(block)

	for i := 0; i < 3; i++ {
		done := make(chan error, 1)
		go func(i int) {
			done <- manager.Do(context.Background(), fmt.Sprintf("chat_fast_%d", i), func(ctx context.Context) error { return nil })
		}(i)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("fast chat %d error: %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("fast chat %d was blocked by a slow chat", i)
		}
	}
}

func TestDispatcherBusy(t *testing.T) {
	d := NewDispatcher(1, 1, 1, time.Minute)
	defer d.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go d.Submit(context.Background(), "chat_a", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	// the only worker is taken: chat_b parks the dispatcher in acquire and
	// chat_c fills the one-slot intake queue
	go d.Submit(context.Background(), "chat_b", func(ctx context.Context) error { return nil })
	time.Sleep(50 * time.Millisecond)
	go d.Submit(context.Background(), "chat_c", func(ctx context.Context) error { return nil })
	time.Sleep(50 * time.Millisecond)

	err := d.Submit(context.Background(), "chat_d", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrDispatcherBusy) {
		t.Fatalf("expected ErrDispatcherBusy, got %v", err)
	}
	close(block)
}

func TestDispatcherSkipsCancelledJob(t *testing.T) {
	d := NewDispatcher(1, 2, 10, time.Minute)
	defer d.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go d.Submit(context.Background(), "chat_x", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Submit(ctx, "chat_x", func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(block)
	if err := d.Submit(context.Background(), "chat_x", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("follow-up job error: %v", err)
	}
	if ran.Load() {
		t.Fatalf("job ran after its caller gave up")
	}
}

func TestDispatcherCancelChat(t *testing.T) {
	d := NewDispatcher(1, 1, 10, time.Minute)
	defer d.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go d.Submit(context.Background(), "chat_del", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Submit(context.Background(), "chat_del", func(ctx context.Context) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	d.CancelChat("chat_del")

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrJobCancelled) {
			t.Fatalf("expected ErrJobCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled job was not released")
	}
	close(block)
}

func TestDispatcherClose(t *testing.T) {
	d := NewDispatcher(1, 1, 10, time.Minute)
	if err := d.Submit(context.Background(), "chat_c", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	d.Close()
	d.Close()
	if err := d.Submit(context.Background(), "chat_c", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 10})
	defer manager.Stop()

	err := manager.Do(context.Background(), "chat_p", func(ctx context.Context) error { panic("bad job") })
	if err == nil {
		t.Fatalf("expected error from panicking job")
	}
	if err := manager.Do(context.Background(), "chat_p", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("worker did not survive the panic: %v", err)
	}
}

func TestPoolRetiresIdleWorkers(t *testing.T) {
	d := NewDispatcher(1, 3, 10, 20*time.Millisecond)
	defer d.Close()

	block := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = d.Submit(context.Background(), fmt.Sprintf("chat_%d", i), func(ctx context.Context) error {
				<-block
				return nil
			})
		}(i)
	}
	deadline := time.Now().Add(time.Second)
	for {
		if running, _ := d.pool.size(); running == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pool did not grow to max workers")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(block)
	wg.Wait()

	deadline = time.Now().Add(2 * time.Second)
	for {
		if running, _ := d.pool.size(); running == 1 {
			return
		}
		if time.Now().After(deadline) {
			running, idle := d.pool.size()
			t.Fatalf("idle workers not retired: running=%d idle=%d", running, idle)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatcherStats(t *testing.T) {
	d := NewDispatcher(1, 2, 10, time.Minute)
	defer d.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go d.Submit(context.Background(), "chat_s", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started
	go d.Submit(context.Background(), "chat_s", func(ctx context.Context) error { return nil })

	deadline := time.Now().Add(time.Second)
	for {
		pending, running, _ := d.Stats()
		if pending == 1 && running >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unexpected stats: pending=%d running=%d", pending, running)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(block)

	deadline = time.Now().Add(time.Second)
	for {
		if pending, _, _ := d.Stats(); pending == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("queued job was never drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
