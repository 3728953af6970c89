// Package watchdog is the only way the agent gives up: restart over recovery.
package watchdog

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/internal/stat"
	"github.com/temoto/powermeter/internal/state"
	"github.com/temoto/powermeter/log2"
)

const (
	ReasonAllSensorsDead = "all sensors dead"
	ReasonLinkLost       = "broker link lost"
	ReasonNetworkJoin    = "network join timeout"
	ReasonClockSync      = "clock sync timeout"
)

// Restarter is what sampling and publishing loops see.
// Callers must return right after Restart.
type Restarter interface {
	Restart(reason string)
}

type FatalRecorder interface {
	RecordFatal(reason string, at time.Time) error
}

type NotifyFunc func(state string) (bool, error)
type PrimitiveFunc func(mode string) error

type Watchdog struct {
	Log *log2.Log

	mode      string
	hold      time.Duration
	recorder  FatalRecorder
	stat      *stat.Stat
	notify    NotifyFunc
	primitive PrimitiveFunc

	once   sync.Once
	reason helpers.AtomicError

	kickInterval time.Duration
	kickLast     atomic_clock.Clock
}

func New(log *log2.Log, config *state.WatchdogConfig, recorder FatalRecorder, st *stat.Stat) *Watchdog {
	self := &Watchdog{
		Log:       log,
		mode:      config.Mode,
		hold:      config.Hold(),
		recorder:  recorder,
		stat:      st,
		notify:    sdNotify,
		primitive: restartPrimitive,
	}
	if d, err := daemon.SdWatchdogEnabled(false); err != nil {
		log.Error(errors.Annotate(err, "systemd watchdog"))
	} else if d > 0 {
		self.kickInterval = d / 2
		log.Debugf("systemd watchdog kick interval=%v", self.kickInterval)
	}
	return self
}

func sdNotify(state string) (bool, error) { return daemon.SdNotify(false, state) }

// Restart performs restart sequence once, concurrent callers wait for it.
// In production restart primitive does not return.
func (self *Watchdog) Restart(reason string) {
	_, _ = self.reason.StoreOnce(errors.New(reason))
	self.once.Do(func() { self.restart(self.Reason()) })
}

// Reason is not empty after Restart started.
func (self *Watchdog) Reason() string {
	if err, ok := self.reason.Load(); ok {
		return err.Error()
	}
	return ""
}

func (self *Watchdog) Restarting() bool {
	_, ok := self.reason.Load()
	return ok
}

func (self *Watchdog) restart(reason string) {
	self.Log.Errorf("restart reason=%s mode=%s", reason, self.mode)
	if self.stat != nil {
		self.stat.Restarts.WithLabelValues(reason).Inc()
	}
	if self.recorder != nil {
		if err := self.recorder.RecordFatal(reason, time.Now()); err != nil {
			self.Log.Error(errors.Annotate(err, "restart record"))
		}
	}
	if _, err := self.notify(daemon.SdNotifyStopping); err != nil {
		self.Log.Error(errors.Annotate(err, "sd_notify"))
	}
	self.Log.Flush()
	if err := self.primitive(self.mode); err != nil {
		// without CAP_SYS_BOOT leave it to service manager
		self.Log.Error(errors.Annotatef(err, "restart mode=%s", self.mode))
		self.Log.Flush()
		_ = self.primitive(state.WatchdogModeExit)
	}
	time.Sleep(self.hold)
}

// Kick keeps systemd watchdog satisfied, rate limited to half of WatchdogSec.
// Stops kicking once restart began.
func (self *Watchdog) Kick() {
	if self.kickInterval == 0 || self.Restarting() {
		return
	}
	if !self.kickLast.IsZero() && atomic_clock.Since(&self.kickLast) < self.kickInterval {
		return
	}
	self.kickLast.SetNow()
	if _, err := self.notify(daemon.SdNotifyWatchdog); err != nil {
		self.Log.Debugf("sd_notify watchdog err=%v", err)
	}
}

// Ready tells systemd startup is complete, returns false when not running under systemd.
func (self *Watchdog) Ready() bool {
	ok, err := self.notify(daemon.SdNotifyReady)
	if err != nil {
		self.Log.Error(errors.Annotate(err, "sd_notify"))
	}
	return ok
}
