package util

import (
	"errors"
	"io"
	"sync"
	"time"
)

// A RateCounter limits how many bytes per second a download may consume.
// Every interval a pool of credits is refilled. Reads take credits from the
// pool; when the pool is negative readers wait until it refills. Assets are
// tens of megabytes, so without this a prefetch can saturate a link.
type RateCounter struct {
	c       chan struct{} // receives when the balance is positive
	stop    chan struct{} // close to stop the refill goroutine
	m       sync.Mutex    // protects below
	credits int64
}

// Interval between refills of the credit pool. Shorter means more waking
// and churning; longer means longer waits when the pool is empty.
const rateInterval = 1 * time.Second

// NewRateCounter returns a counter accumulating credits at the given rate
// in bytes per second.
func NewRateCounter(rate float64) *RateCounter {
	amount := int64(rate * rateInterval.Seconds())
	r := &RateCounter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: amount,
	}
	go r.adder(amount)
	return r
}

// Use removes count credits from the pool. It is okay for the balance to go
// negative.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.credits -= count
	r.m.Unlock()
}

// OK returns a channel to wait on. It receives when the balance is
// positive, and is closed when the RateCounter is stopped.
func (r *RateCounter) OK() <-chan struct{} {
	return r.c
}

// Stop the refill goroutine. Will panic if called twice.
func (r *RateCounter) Stop() {
	close(r.stop)
}

func (r *RateCounter) adder(amount int64) {
	tick := time.NewTicker(rateInterval)
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			signal = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.Use(-amount) // refill
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}

// ErrStopped means a read failed because the governing RateCounter was
// stopped.
var ErrStopped = errors.New("RateCounter stopped")

// Wrap returns a reader whose reads are limited by this RateCounter. More
// than one goroutine may share a RateCounter; they split the credits.
func (r *RateCounter) Wrap(reader io.Reader) io.Reader {
	return rateReader{reader: reader, rate: r}
}

type rateReader struct {
	reader io.Reader
	rate   *RateCounter
}

func (r rateReader) Read(p []byte) (int, error) {
	_, ok := <-r.rate.OK()
	if !ok {
		return 0, ErrStopped
	}
	n, err := r.reader.Read(p)
	r.rate.Use(int64(n))
	return n, err
}
