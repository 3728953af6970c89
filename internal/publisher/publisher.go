// Package publisher drains sample queue into broker link and keeps the link serviced.
package publisher

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/internal/queue"
	"github.com/temoto/powermeter/internal/stat"
	"github.com/temoto/powermeter/log2"
)

type Linker interface {
	Connecteder
	PublishPower(payload []byte) error
	Maintain() error
}

type Resolver interface {
	Due() bool
	Resolve(ctx context.Context) (string, error)
}

type Kicker interface {
	Kick()
}

type Publisher struct {
	Log *log2.Log

	queue    *queue.SampleQueue
	link     Linker
	monitor  *ConnectionMonitor
	resolver Resolver // optional
	kicker   Kicker   // optional
	stat     *stat.Stat
	yield    time.Duration
}

func New(log *log2.Log, q *queue.SampleQueue, link Linker, monitor *ConnectionMonitor, resolver Resolver, kicker Kicker, st *stat.Stat, yield time.Duration) *Publisher {
	return &Publisher{
		Log:      log,
		queue:    q,
		link:     link,
		monitor:  monitor,
		resolver: resolver,
		kicker:   kicker,
		stat:     st,
		yield:    yield,
	}
}

// Run loops Step until ctx is done or connection loss restart.
func (self *Publisher) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !self.Step(ctx) {
			return
		}
	}
}

// Step is one publishing loop iteration. Returns false when link is gone.
func (self *Publisher) Step(ctx context.Context) bool {
	if !self.monitor.Check() {
		return false
	}

	if r, ok := self.queue.TryDequeue(0); ok {
		if self.stat != nil {
			self.stat.QueueLength.Set(float64(self.queue.Len()))
		}
		if err := self.link.PublishPower(r.JSON()); err != nil {
			if errors.IsTimeout(err) {
				self.Log.Errorf("publish sensor=%d dropped, link busy", r.SensorID)
			} else {
				self.Log.Errorf("publish sensor=%d dropped err=%v", r.SensorID, err)
			}
		}
	}

	if err := self.link.Maintain(); err != nil {
		self.Log.Debugf("link maintain skipped err=%v", err)
	}

	if self.resolver != nil && self.resolver.Due() {
		// result is logged by resolver
		_, _ = self.resolver.Resolve(ctx)
	}

	if self.kicker != nil {
		self.kicker.Kick()
	}
	time.Sleep(self.yield)
	return true
}
