package pzem

import (
	"time"
)

const DefaultBaud = 9600

type ErrTimeoutT string

type Timeouter interface {
	Timeout() bool
}

func (e ErrTimeoutT) Error() string { return string(e) }
func (ErrTimeoutT) Timeout() bool   { return true }

func IsTimeout(err error) bool {
	t, ok := err.(Timeouter)
	return ok && t.Timeout()
}

// Uarter is one half-duplex serial link to one sensor.
type Uarter interface {
	Open(path string, baud int) error
	// ReadFull fills p or fails with ErrTimeoutT after timeout.
	ReadFull(p []byte, timeout time.Duration) error
	// ResetRead discards unread input, stale replies from timed out requests.
	ResetRead() error
	Write(p []byte) (int, error)
	Close() error
}
