package util

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestGateMaximum(t *testing.T) {
	// 10 goroutines try to enter a gate that holds 5
	g := NewGate(5)
	var nenter int64
	for i := 0; i < 10; i++ {
		go func() {
			g.Enter()
			atomic.AddInt64(&nenter, 1)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	if n := atomic.LoadInt64(&nenter); n != 5 {
		t.Errorf("Received %d enters, expected 5", n)
	}

	g.Leave()
	g.Leave()
	time.Sleep(10 * time.Millisecond)
	if n := atomic.LoadInt64(&nenter); n != 7 {
		t.Errorf("Received %d enters, expected 7", n)
	}
}
