package publisher

import (
	"sync/atomic"
	"time"

	"github.com/temoto/atomic_clock"
	"github.com/temoto/powermeter/internal/watchdog"
	"github.com/temoto/powermeter/log2"
)

type Connecteder interface {
	Connected() bool
}

// ConnectionMonitor asks link at most once per interval.
// Lost connection is fatal, there is no reconnect.
type ConnectionMonitor struct {
	Log *log2.Log

	link      Connecteder
	restarter watchdog.Restarter
	interval  time.Duration
	last      atomic_clock.Clock
	lost      uint32
}

func NewConnectionMonitor(log *log2.Log, link Connecteder, r watchdog.Restarter, interval time.Duration) *ConnectionMonitor {
	return &ConnectionMonitor{
		Log:       log,
		link:      link,
		restarter: r,
		interval:  interval,
	}
}

// Check returns false after connection loss was observed and restart requested.
func (self *ConnectionMonitor) Check() bool {
	if atomic.LoadUint32(&self.lost) == 1 {
		return false
	}
	if !self.last.IsZero() && atomic_clock.Since(&self.last) < self.interval {
		return true
	}
	self.last.SetNow()
	if self.link.Connected() {
		return true
	}
	atomic.StoreUint32(&self.lost, 1)
	self.Log.Errorf("broker connection lost")
	self.restarter.Restart(watchdog.ReasonLinkLost)
	return false
}
