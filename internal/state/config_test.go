package state

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/temoto/powermeter/log2"
)

const minimal = `
broker { url = "tcp://broker.lan:1883" }
sensor "0" { uart = "/dev/ttyS1" }
`

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"defaults", minimal, func(t testing.TB, c *Config) {
			assert.Len(t, c.Sensors, 1)
			assert.Equal(t, 0xf8, c.Sensors[0].Address)
			assert.Equal(t, 10*time.Second, c.Sampling.Period())
			assert.Equal(t, 10*time.Millisecond, c.Sampling.EnqueueTimeout())
			assert.Equal(t, 10*time.Millisecond, c.Sampling.Yield())
			assert.Equal(t, 3, c.Sampling.DeadThreshold)
			assert.Equal(t, 3, c.Queue.Capacity)
			assert.Equal(t, 5*time.Millisecond, c.Publish.Yield())
			assert.Equal(t, "PowerMeter", c.Broker.ClientPrefix)
			assert.Equal(t, "powermeter", c.Broker.BaseTopic)
			assert.Equal(t, "log", c.Broker.LogTopic)
			assert.Equal(t, "power", c.Broker.PowerTopic)
			assert.Equal(t, 100*time.Millisecond, c.Broker.LockTimeout())
			assert.Equal(t, 100*time.Millisecond, c.Broker.CheckInterval())
			assert.Equal(t, 6*time.Hour, c.Broker.ResolveInterval())
			assert.Equal(t, 10*time.Second, c.Broker.ConnectTimeout())
			assert.Equal(t, 10*time.Second, c.Network.JoinTimeout())
			assert.Equal(t, 10*time.Second, c.Network.ClockTimeout())
			assert.Equal(t, WatchdogModeExit, c.Watchdog.Mode)
			assert.Equal(t, 10*time.Second, c.Watchdog.Hold())
			assert.Equal(t, 2, c.Panel.LED)
			assert.Equal(t, 5, c.Panel.EnergyResetButton)
			assert.Equal(t, ":28080", c.Admin.Listen)
		}, ""},

		{"sensors-ordered", `
broker { url = "tcp://broker.lan:1883" }
sensor "2" { uart = "/dev/ttyS3" address = 3 }
sensor "0" { uart = "/dev/ttyS1" address = 1 }
sensor "1" { uart = "/dev/ttyS2" address = 2 }
sampling { period_ms = 2000 }
watchdog { mode = "reboot" }
`, func(t testing.TB, c *Config) {
			assert.Len(t, c.Sensors, 3)
			for i, s := range c.Sensors {
				assert.Equal(t, uint16(i), s.ID)
				assert.Equal(t, i+1, s.Address)
			}
			assert.Equal(t, "sensor.2 uart=/dev/ttyS3 address=03", c.Sensors[2].String())
			assert.Equal(t, 2*time.Second, c.Sampling.Period())
			assert.Equal(t, WatchdogModeReboot, c.Watchdog.Mode)
		}, ""},

		{"include-optional", minimal + `
include "period-7s" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 7*time.Second, c.Sampling.Period())
			}, ""},

		{"include-normalize", minimal + `include "./empty" {}`, nil, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", minimal + `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-no-sensors", `broker { url = "tcp://broker.lan:1883" }`, nil, "sensor blocks not found"},
		{"error-sensor-gap", `
broker { url = "tcp://broker.lan:1883" }
sensor "0" { uart = "/dev/ttyS1" }
sensor "2" { uart = "/dev/ttyS3" }`, nil, "missing=1"},
		{"error-address", `
broker { url = "tcp://broker.lan:1883" }
sensor "0" { uart = "/dev/ttyS1" address = 300 }`, nil, "sensor.0 address=300 not valid"},
		{"error-broker", `sensor "0" { uart = "/dev/ttyS1" }`, nil, "broker.url=empty not valid"},
		{"error-watchdog", minimal + `watchdog { mode = "panic" }`, nil, "watchdog.mode=panic not valid"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"period-7s":    "sampling{period_ms=7000}",
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		})
	}
}
