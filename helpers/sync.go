package helpers

import "sync"

// AtomicError keeps the first stored error, later stores are ignored.
type AtomicError struct {
	mu  sync.Mutex
	err error
	set bool
}

func (a *AtomicError) Load() (error, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err, a.set
}

// StoreOnce returns previous Load() result, store happened if it was unset.
func (a *AtomicError) StoreOnce(e error) (error, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev, wasSet := a.err, a.set
	if !wasSet {
		a.err, a.set = e, true
	}
	return prev, wasSet
}
