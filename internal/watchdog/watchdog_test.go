package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/powermeter/internal/stat"
	"github.com/temoto/powermeter/internal/state"
	"github.com/temoto/powermeter/log2"
)

type recorder struct {
	sync.Mutex
	reasons []string
	notify  []string
	modes   []string
}

func (self *recorder) RecordFatal(reason string, at time.Time) error {
	self.Lock()
	defer self.Unlock()
	self.reasons = append(self.reasons, reason)
	return nil
}

func (self *recorder) sdNotify(s string) (bool, error) {
	self.Lock()
	defer self.Unlock()
	self.notify = append(self.notify, s)
	return true, nil
}

func testWatchdog(t *testing.T, mode string, primitiveErr error) (*Watchdog, *recorder, *stat.Stat) {
	rec := &recorder{}
	st := stat.New()
	w := New(log2.NewTest(t, log2.LDebug), &state.WatchdogConfig{Mode: mode, HoldSec: 1}, rec, st)
	w.hold = 0
	w.notify = rec.sdNotify
	w.primitive = func(mode string) error {
		rec.Lock()
		rec.modes = append(rec.modes, mode)
		rec.Unlock()
		return primitiveErr
	}
	return w, rec, st
}

func TestRestartOnce(t *testing.T) {
	t.Parallel()

	w, rec, st := testWatchdog(t, state.WatchdogModeExit, nil)
	assert.False(t, w.Restarting())
	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				w.Restart(ReasonAllSensorsDead)
			} else {
				w.Restart(ReasonLinkLost)
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, w.Restarting())
	require.Len(t, rec.reasons, 1)
	assert.Equal(t, w.Reason(), rec.reasons[0])
	assert.Equal(t, []string{state.WatchdogModeExit}, rec.modes)
	assert.Equal(t, []string{daemon.SdNotifyStopping}, rec.notify)
	assert.Equal(t, 1.0, testutil.ToFloat64(st.Restarts.WithLabelValues(w.Reason())))
}

func TestRestartRebootFallback(t *testing.T) {
	t.Parallel()

	w, rec, _ := testWatchdog(t, state.WatchdogModeReboot, errors.New("EPERM"))
	w.Restart(ReasonClockSync)
	assert.Equal(t, []string{state.WatchdogModeReboot, state.WatchdogModeExit}, rec.modes)
	assert.Equal(t, ReasonClockSync, w.Reason())
}

func TestKick(t *testing.T) {
	t.Parallel()

	w, rec, _ := testWatchdog(t, state.WatchdogModeExit, nil)
	w.Kick()
	assert.Empty(t, rec.notify, "disabled systemd watchdog")

	w.kickInterval = 20 * time.Millisecond
	w.Kick()
	w.Kick()
	assert.Equal(t, []string{daemon.SdNotifyWatchdog}, rec.notify)
	time.Sleep(25 * time.Millisecond)
	w.Kick()
	assert.Len(t, rec.notify, 2)

	w.Restart(ReasonLinkLost)
	time.Sleep(25 * time.Millisecond)
	w.Kick()
	assert.Equal(t, daemon.SdNotifyStopping, rec.notify[len(rec.notify)-1])
}

func TestReady(t *testing.T) {
	t.Parallel()

	w, rec, _ := testWatchdog(t, state.WatchdogModeExit, nil)
	assert.True(t, w.Ready())
	assert.Equal(t, []string{daemon.SdNotifyReady}, rec.notify)
}
