package iocp

import (
	"runtime"
	"testing"
)

func TestWorkersInvalidCPU(t *testing.T) {
	noop := func(OperationalResult) {}
	if _, err := StartWorkers(nil, WorkerConfig{CPUs: []int{-1}}, noop, nil); err != ErrCPUID {
		t.Fatalf("CPU -1: want ErrCPUID, got %v", err)
	}

	invalidCPU := runtime.NumCPU()
	if _, err := StartWorkers(nil, WorkerConfig{CPUs: []int{0, invalidCPU}}, noop, nil); err != ErrCPUID {
		t.Fatalf("CPU %d: want ErrCPUID, got %v", invalidCPU, err)
	}
}

func TestSetAffinity(t *testing.T) {
	done := make(chan error)
	go func() {
		// the thread stays locked and is discarded when the goroutine exits
		done <- setAffinity(0)
	}()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
