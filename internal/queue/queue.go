// Package queue is the bounded hand-off between sampling and publishing.
package queue

import (
	"time"

	"github.com/temoto/powermeter/internal/reading"
)

const DefaultCapacity = 3

// SampleQueue is FIFO with fixed capacity. Full queue never overwrites,
// producer waits up to timeout then gives up.
type SampleQueue struct {
	ch chan reading.Reading
}

func New(capacity int) *SampleQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SampleQueue{ch: make(chan reading.Reading, capacity)}
}

func (self *SampleQueue) Len() int { return len(self.ch) }
func (self *SampleQueue) Cap() int { return cap(self.ch) }

// TryEnqueue returns false if no slot freed within timeout.
func (self *SampleQueue) TryEnqueue(r reading.Reading, timeout time.Duration) bool {
	select {
	case self.ch <- r:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case self.ch <- r:
		return true
	case <-tmr.C:
		return false
	}
}

// TryDequeue with timeout=0 is a poll.
func (self *SampleQueue) TryDequeue(timeout time.Duration) (reading.Reading, bool) {
	select {
	case r := <-self.ch:
		return r, true
	default:
	}
	if timeout <= 0 {
		return reading.Reading{}, false
	}
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case r := <-self.ch:
		return r, true
	case <-tmr.C:
		return reading.Reading{}, false
	}
}
