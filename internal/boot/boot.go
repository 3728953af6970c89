// Package boot brings the agent from power-on to broker announcement:
// wait for network, wait for time sync, announce.
package boot

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/internal/reading"
	"github.com/temoto/powermeter/log2"
)

const DefaultPoll = 100 * time.Millisecond

// Anything before this is an unset RTC.
var saneEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func wallClockSane() bool { return time.Now().After(saneEpoch) }

type Probe struct {
	Log         *log2.Log
	Poll        time.Duration
	Interface   func(name string) (NetInfo, error)
	ClockSynced func() bool
}

func NewProbe(log *log2.Log) *Probe {
	return &Probe{
		Log:         log,
		Poll:        DefaultPoll,
		Interface:   InterfaceInfo,
		ClockSynced: clockSynced,
	}
}

// WaitNetwork returns Timeout error if interface got no IPv4 address in time.
func (self *Probe) WaitNetwork(ctx context.Context, name string, timeout time.Duration) (NetInfo, error) {
	var info NetInfo
	var lastErr error
	err := self.poll(ctx, timeout, func() (bool, error) {
		// interface may appear later, keep polling
		info, lastErr = self.Interface(name)
		return lastErr == nil, nil
	})
	if errors.IsTimeout(err) {
		self.Log.Errorf("network join interface=%s ERROR last=%v", name, lastErr)
		return info, errors.Timeoutf("network join interface=%s", name)
	}
	if err != nil {
		return info, errors.Trace(err)
	}
	self.Log.Infof("network join OK %s", info.String())
	return info, nil
}

func (self *Probe) WaitClock(ctx context.Context, timeout time.Duration) error {
	err := self.poll(ctx, timeout, func() (bool, error) { return self.ClockSynced(), nil })
	if errors.IsTimeout(err) {
		self.Log.Errorf("clock sync ERROR")
		return errors.Timeoutf("clock sync")
	}
	if err != nil {
		return errors.Trace(err)
	}
	self.Log.Infof("clock sync OK now=%s", time.Now().Format(reading.StartedLayout))
	return nil
}

func (self *Probe) poll(ctx context.Context, timeout time.Duration, f func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tmr := time.NewTicker(self.Poll)
	defer tmr.Stop()
	for {
		ok, err := f()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-tmr.C:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return errors.Timeoutf("poll")
			}
			return ctx.Err()
		}
	}
}

type LogPublisher interface {
	PublishLog(payload []byte) error
}

// Announce publishes startup announcement, then boot report, on log topic.
func Announce(log *log2.Log, pub LogPublisher, info NetInfo, version string, started time.Time, report reading.BootReport) error {
	a := reading.Announce{
		LocalIP: ipString(info.IP),
		Gateway: ipString(info.Gateway),
		Netmask: info.NetmaskString(),
		MAC:     info.MACString(),
		Version: version,
		Started: started,
	}
	log.Infof("announce %s", a.JSON())
	if err := pub.PublishLog(a.JSON()); err != nil {
		return errors.Annotate(err, "announce")
	}
	if err := pub.PublishLog(report.JSON()); err != nil {
		return errors.Annotate(err, "boot report")
	}
	return nil
}
