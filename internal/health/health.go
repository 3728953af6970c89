// Package health tracks consecutive read failures of sensor channels.
// Tracker is not safe for concurrent use, it belongs to sampling goroutine.
package health

import (
	"fmt"

	"github.com/temoto/powermeter/internal/reading"
)

const DefaultDeadThreshold = 3

type State uint8

const (
	StateAlive State = iota
	StateDead        // terminal for the run
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateDead:
		return "dead"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type Outcome uint8

const (
	OutcomeClean     Outcome = iota // counter reset
	OutcomeSoftError                // counter incremented, still alive
	OutcomeDied                     // this observation crossed the threshold
	OutcomeIgnored                  // already dead, observation discarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeSoftError:
		return "soft-error"
	case OutcomeDied:
		return "died"
	case OutcomeIgnored:
		return "ignored"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

type Tracker struct {
	id          uint16
	threshold   uint
	state       State
	consecutive uint
}

func NewTracker(id uint16, threshold uint) *Tracker {
	if threshold == 0 {
		threshold = DefaultDeadThreshold
	}
	return &Tracker{id: id, threshold: threshold}
}

func (self *Tracker) ID() uint16              { return self.id }
func (self *Tracker) State() State            { return self.state }
func (self *Tracker) Dead() bool              { return self.state == StateDead }
func (self *Tracker) ConsecutiveErrors() uint { return self.consecutive }
func (self *Tracker) Threshold() uint         { return self.threshold }

func (self *Tracker) Snapshot() Snapshot {
	return Snapshot{ID: self.id, State: self.state, ConsecutiveErrors: self.consecutive}
}

// Observe applies one poll result. Only consecutive errors count,
// clean poll resets the counter. Dead is never left.
func (self *Tracker) Observe(mask reading.ErrorMask) Outcome {
	if self.state == StateDead {
		return OutcomeIgnored
	}
	if mask == 0 {
		self.consecutive = 0
		return OutcomeClean
	}
	self.consecutive++
	if self.consecutive >= self.threshold {
		self.state = StateDead
		return OutcomeDied
	}
	return OutcomeSoftError
}

type Snapshot struct {
	ID                uint16 `json:"id"`
	State             State  `json:"state"`
	ConsecutiveErrors uint   `json:"consecutive_errors"`
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Board is the set of all configured channels in index order.
type Board []*Tracker

func NewBoard(n int, threshold uint) Board {
	b := make(Board, n)
	for i := range b {
		b[i] = NewTracker(uint16(i), threshold)
	}
	return b
}

// AllDead is false for empty board, no channels is a config error, not a fatal run state.
func (b Board) AllDead() bool {
	if len(b) == 0 {
		return false
	}
	for _, t := range b {
		if !t.Dead() {
			return false
		}
	}
	return true
}

func (b Board) Snapshot() []Snapshot {
	ss := make([]Snapshot, len(b))
	for i, t := range b {
		ss[i] = t.Snapshot()
	}
	return ss
}
