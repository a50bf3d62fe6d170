package scheduler

import (
	"sync"
	"testing"
)

func TestGuardSingleHolder(t *testing.T) {
	guard := NewGuard("collection")

	if !guard.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if guard.TryAcquire() {
		t.Fatal("second acquire while held should fail")
	}

	guard.Release()
	if !guard.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestGuardConcurrentAcquire(t *testing.T) {
	guard := NewGuard("scoring")

	const attempts = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if guard.TryAcquire() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("exactly one goroutine should win, got %d", winners)
	}
}

func TestGuardName(t *testing.T) {
	if NewGuard("collection").Name() != "collection" {
		t.Fatal("guard should report its job name")
	}
}
