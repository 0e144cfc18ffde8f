// Package util holds small pieces shared by the pipeline and the daemon:
// a concurrency gate and a bandwidth limiter.
package util

// A Gate limits concurrency. It allows at most n goroutines inside the
// protected section at a time. Goroutines enter by calling Enter() and must
// balance it with a call to Leave().
type Gate chan struct{}

// NewGate returns a Gate admitting at most n entries at a time.
func NewGate(n int) Gate {
	return Gate(make(chan struct{}, n))
}

// Enter blocks the calling goroutine until fewer than n goroutines are
// inside. Safe to call from multiple goroutines.
func (g Gate) Enter() {
	g <- struct{}{}
}

// Leave marks the goroutine as outside the protected section. Enter and
// Leave do not need to be called from the same goroutine.
func (g Gate) Leave() {
	<-g
}
