package arbiter

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue()
	release := make(chan struct{})
	holderDone := make(chan struct{})
	go func() {
		_ = q.Do(func() error { <-release; return nil })
		close(holderDone)
	}()
	waitFor(t, q.Locked)

	const n = 20
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Do(func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// Submit strictly one after another.
		waitFor(t, func() bool { return q.Waiting() == i+1 })
	}
	close(release)
	wg.Wait()
	<-holderDone

	if len(order) != n {
		t.Fatalf("ran %d tasks, want %d", len(order), n)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("execution order %v does not match submission order", order)
		}
	}
	if q.Locked() || q.Waiting() != 0 {
		t.Fatalf("queue not idle: locked=%v waiting=%d", q.Locked(), q.Waiting())
	}
}

func TestQueue_FailuresDoNotBlock(t *testing.T) {
	q := NewQueue()
	boom := errors.New("boom")
	if err := q.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("error not propagated: %v", err)
	}
	err := q.Do(func() error { panic("kaboom") })
	if err == nil {
		t.Fatal("panic should surface as an error")
	}
	got, err := Run(q, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("task after failures: got %d, %v", got, err)
	}
	if q.Locked() {
		t.Fatal("queue should be unlocked")
	}
}

func TestQueue_MutualExclusion(t *testing.T) {
	q := NewQueue()
	var inside, maxInside int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d", maxInside)
	}
}
