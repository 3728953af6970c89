// Package state holds agent configuration.
package state

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/log2"
)

const (
	WatchdogModeExit   = "exit"
	WatchdogModeReboot = "reboot"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`
	// only used for Unmarshal, use Sensors
	XXX_Sensor  []SensorConfig `hcl:"sensor"`

	// Sensors are ordered by channel index after Validate.
	Sensors  []SensorConfig `hcl:"-"`
	Sampling SamplingConfig `hcl:"sampling"`
	Queue    QueueConfig    `hcl:"queue"`
	Publish  PublishConfig  `hcl:"publish"`
	Broker   BrokerConfig   `hcl:"broker"`
	Network  NetworkConfig  `hcl:"network"`
	Watchdog WatchdogConfig `hcl:"watchdog"`
	Panel    PanelConfig    `hcl:"panel"`
	Admin    struct {
		Listen string `hcl:"listen"`
	} `hcl:"admin"`
	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`
	Log struct {
		Debug bool `hcl:"debug"`
	} `hcl:"log"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type SensorConfig struct {
	Name    string `hcl:"name,key"`
	Uart    string `hcl:"uart"`
	Address int    `hcl:"address"`

	ID uint16 `hcl:"-"`
}

func (self *SensorConfig) String() string {
	return fmt.Sprintf("sensor.%d uart=%s address=%02x", self.ID, self.Uart, self.Address)
}

type SamplingConfig struct {
	PeriodMs         int `hcl:"period_ms"`
	DeadThreshold    int `hcl:"dead_threshold"`
	EnqueueTimeoutMs int `hcl:"enqueue_timeout_ms"`
	YieldMs          int `hcl:"yield_ms"`
}

func (self *SamplingConfig) Period() time.Duration {
	return helpers.IntMillisecondDefault(self.PeriodMs, 10*time.Second)
}
func (self *SamplingConfig) EnqueueTimeout() time.Duration {
	return helpers.IntMillisecondDefault(self.EnqueueTimeoutMs, 10*time.Millisecond)
}
func (self *SamplingConfig) Yield() time.Duration {
	return helpers.IntMillisecondDefault(self.YieldMs, 10*time.Millisecond)
}

type QueueConfig struct {
	Capacity int `hcl:"capacity"`
}

type PublishConfig struct {
	YieldMs int `hcl:"yield_ms"`
}

func (self *PublishConfig) Yield() time.Duration {
	return helpers.IntMillisecondDefault(self.YieldMs, 5*time.Millisecond)
}

type BrokerConfig struct { //nolint:maligned
	URL                string `hcl:"url"`
	ClientPrefix       string `hcl:"client_prefix"`
	BaseTopic          string `hcl:"base_topic"`
	LogTopic           string `hcl:"log_topic"`
	PowerTopic         string `hcl:"power_topic"`
	Username           string `hcl:"username"`
	Password           string `hcl:"password"` // secret
	TlsCaFile          string `hcl:"tls_ca_file"`
	LockTimeoutMs      int    `hcl:"lock_timeout_ms"`
	CheckIntervalMs    int    `hcl:"check_interval_ms"`
	ResolveIntervalSec int    `hcl:"resolve_interval_sec"`
	ConnectTimeoutSec  int    `hcl:"connect_timeout_sec"`
	LogDebug           bool   `hcl:"log_debug"`
}

func (self *BrokerConfig) LockTimeout() time.Duration {
	return helpers.IntMillisecondDefault(self.LockTimeoutMs, 100*time.Millisecond)
}
func (self *BrokerConfig) CheckInterval() time.Duration {
	return helpers.IntMillisecondDefault(self.CheckIntervalMs, 100*time.Millisecond)
}
func (self *BrokerConfig) ResolveInterval() time.Duration {
	return helpers.IntSecondDefault(self.ResolveIntervalSec, 6*time.Hour)
}
func (self *BrokerConfig) ConnectTimeout() time.Duration {
	return helpers.IntSecondDefault(self.ConnectTimeoutSec, 10*time.Second)
}

type NetworkConfig struct {
	Interface       string `hcl:"interface"`
	JoinTimeoutSec  int    `hcl:"join_timeout_sec"`
	ClockTimeoutSec int    `hcl:"clock_timeout_sec"`
}

func (self *NetworkConfig) JoinTimeout() time.Duration {
	return helpers.IntSecondDefault(self.JoinTimeoutSec, 10*time.Second)
}
func (self *NetworkConfig) ClockTimeout() time.Duration {
	return helpers.IntSecondDefault(self.ClockTimeoutSec, 10*time.Second)
}

type WatchdogConfig struct {
	Mode    string `hcl:"mode"`
	HoldSec int    `hcl:"hold_sec"`
}

func (self *WatchdogConfig) Hold() time.Duration {
	return helpers.IntSecondDefault(self.HoldSec, 10*time.Second)
}

type PanelConfig struct {
	Enable            bool   `hcl:"enable"`
	Chip              string `hcl:"chip"`
	LED               int    `hcl:"led"`
	EnergyResetButton int    `hcl:"energy_reset_button"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		// content may carry broker password, do not log it
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// Validate fills defaults and checks values. Later sensor block with same index wins.
func (c *Config) Validate() error {
	errs := make([]error, 0, 8)

	byID := make(map[int]SensorConfig)
	for _, s := range c.XXX_Sensor {
		id, err := strconv.Atoi(s.Name)
		if err != nil || id < 0 || id > 0xffff {
			errs = append(errs, errors.NotValidf("sensor index=%q", s.Name))
			continue
		}
		s.ID = uint16(id)
		if s.Address == 0 {
			s.Address = 0xf8
		}
		if s.Address < 0x01 || s.Address > 0xf8 {
			errs = append(errs, errors.NotValidf("sensor.%d address=%d", id, s.Address))
		}
		if s.Uart == "" {
			errs = append(errs, errors.NotValidf("sensor.%d uart=empty", id))
		}
		byID[id] = s
	}
	c.XXX_Sensor = nil
	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	c.Sensors = make([]SensorConfig, 0, len(ids))
	for i, id := range ids {
		if id != i {
			errs = append(errs, errors.NotValidf("sensor indexes must be 0..N-1, missing=%d", i))
			break
		}
		c.Sensors = append(c.Sensors, byID[id])
	}
	if len(c.Sensors) == 0 {
		errs = append(errs, errors.NotFoundf("sensor blocks"))
	}

	if c.Sampling.DeadThreshold == 0 {
		c.Sampling.DeadThreshold = 3
	}
	if c.Sampling.DeadThreshold < 0 {
		errs = append(errs, errors.NotValidf("sampling.dead_threshold=%d", c.Sampling.DeadThreshold))
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 3
	}
	if c.Queue.Capacity < 0 {
		errs = append(errs, errors.NotValidf("queue.capacity=%d", c.Queue.Capacity))
	}

	b := &c.Broker
	setDefault(&b.ClientPrefix, "PowerMeter")
	setDefault(&b.BaseTopic, "powermeter")
	setDefault(&b.LogTopic, "log")
	setDefault(&b.PowerTopic, "power")
	if b.URL == "" {
		errs = append(errs, errors.NotValidf("broker.url=empty"))
	} else if u, err := url.Parse(b.URL); err != nil || u.Host == "" {
		errs = append(errs, errors.NotValidf("broker.url=%s", b.URL))
	}

	setDefault(&c.Network.Interface, "wlan0")
	setDefault(&c.Watchdog.Mode, WatchdogModeExit)
	switch c.Watchdog.Mode {
	case WatchdogModeExit, WatchdogModeReboot:
	default:
		errs = append(errs, errors.NotValidf("watchdog.mode=%s", c.Watchdog.Mode))
	}
	setDefault(&c.Panel.Chip, "/dev/gpiochip0")
	if c.Panel.LED == 0 {
		c.Panel.LED = 2
	}
	if c.Panel.EnergyResetButton == 0 {
		c.Panel.EnergyResetButton = 5
	}
	setDefault(&c.Admin.Listen, ":28080")
	setDefault(&c.Persist.Root, "/var/lib/powermeter")
	return helpers.FoldErrors(errs)
}

func setDefault(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
