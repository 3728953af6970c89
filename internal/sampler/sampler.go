// Package sampler polls live sensor channels and hands clean readings to publisher.
package sampler

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/temoto/powermeter/internal/health"
	"github.com/temoto/powermeter/internal/queue"
	"github.com/temoto/powermeter/internal/reading"
	"github.com/temoto/powermeter/internal/stat"
	"github.com/temoto/powermeter/internal/state"
	"github.com/temoto/powermeter/internal/watchdog"
	"github.com/temoto/powermeter/log2"
)

// Sensor is one channel driver. Measure blocks at most driver read timeout
// and reports failed fields as NaN.
type Sensor interface {
	// configured address, used for logs and when device does not answer address query
	Address() uint8
	ReadAddress() (uint8, error)
	Measure() reading.Quantities
}

type Sampler struct {
	Log *log2.Log

	sensors   []Sensor
	board     health.Board
	queue     *queue.SampleQueue
	restarter watchdog.Restarter
	stat      *stat.Stat

	period         time.Duration
	enqueueTimeout time.Duration
	yield          time.Duration

	snapshot atomic.Value // []health.Snapshot
}

func New(log *log2.Log, config *state.SamplingConfig, sensors []Sensor, q *queue.SampleQueue, r watchdog.Restarter, st *stat.Stat) *Sampler {
	self := &Sampler{
		Log:            log,
		sensors:        sensors,
		board:          health.NewBoard(len(sensors), uint(config.DeadThreshold)),
		queue:          q,
		restarter:      r,
		stat:           st,
		period:         config.Period(),
		enqueueTimeout: config.EnqueueTimeout(),
		yield:          config.Yield(),
	}
	self.snapshot.Store(self.board.Snapshot())
	return self
}

// Health is safe to call from any goroutine, reflects last finished cycle.
func (self *Sampler) Health() []health.Snapshot {
	return self.snapshot.Load().([]health.Snapshot)
}

// Run polls immediately and then every period.
// Returns when ctx is done or restart was requested.
func (self *Sampler) Run(ctx context.Context) {
	tmr := time.NewTicker(self.period)
	defer tmr.Stop()
	for {
		if !self.Cycle(ctx) {
			return
		}
		select {
		case <-tmr.C:
		case <-ctx.Done():
			return
		}
	}
}

// Cycle polls every live channel once in index order.
// Returns false if sampling must stop.
func (self *Sampler) Cycle(ctx context.Context) bool {
	for i, sensor := range self.sensors {
		if ctx.Err() != nil {
			return false
		}
		tr := self.board[i]
		if tr.Dead() {
			continue
		}
		q := sensor.Measure()
		mask := q.ComputeMask()
		switch tr.Observe(mask) {
		case health.OutcomeClean:
			self.enqueue(reading.New(tr.ID(), self.deviceAddress(tr, sensor), q))
		case health.OutcomeSoftError:
			self.sensorError(tr, sensor, mask)
		case health.OutcomeDied:
			self.sensorError(tr, sensor, mask)
			self.Log.Errorf("sensor=%d addr=0x%02x dead after %d consecutive errors", tr.ID(), sensor.Address(), tr.ConsecutiveErrors())
		}
		time.Sleep(self.yield)
	}
	self.publishHealth()

	if self.board.AllDead() {
		self.restarter.Restart(watchdog.ReasonAllSensorsDead)
		return false
	}
	time.Sleep(self.yield)
	return true
}

func (self *Sampler) enqueue(r reading.Reading) {
	if !self.queue.TryEnqueue(r, self.enqueueTimeout) {
		self.Log.Errorf("queue full, drop sensor=%d", r.SensorID)
		if self.stat != nil {
			self.stat.QueueDropped.Inc()
		}
		return
	}
	self.Log.Debugf("enqueue %s", r.String())
	if self.stat != nil {
		self.stat.ReadingsEnqueued.Inc()
		self.stat.QueueLength.Set(float64(self.queue.Len()))
	}
}

// deviceAddress reports what the device itself says, sensor may have been readdressed by pzem-cli.
func (self *Sampler) deviceAddress(tr *health.Tracker, sensor Sensor) uint8 {
	addr, err := sensor.ReadAddress()
	if err != nil {
		self.Log.Debugf("sensor=%d addr=0x%02x read address err=%v", tr.ID(), sensor.Address(), err)
		return sensor.Address()
	}
	return addr
}

func (self *Sampler) sensorError(tr *health.Tracker, sensor Sensor, mask reading.ErrorMask) {
	self.Log.Errorf("sensor=%d addr=0x%02x read error mask=%s consecutive=%d",
		tr.ID(), sensor.Address(), mask.String(), tr.ConsecutiveErrors())
	if self.stat != nil {
		self.stat.SensorErrors.WithLabelValues(strconv.Itoa(int(tr.ID()))).Inc()
	}
}

func (self *Sampler) publishHealth() {
	ss := self.board.Snapshot()
	self.snapshot.Store(ss)
	if self.stat != nil {
		dead := 0
		for _, s := range ss {
			if s.State == health.StateDead {
				dead++
			}
		}
		self.stat.SensorsDead.Set(float64(dead))
	}
}
