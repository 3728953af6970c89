// Package panel drives the status LED and reads the energy reset button.
package panel

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	gpio "github.com/temoto/gpio-cdev-go"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/log2"
)

const DefaultBlinkPeriod = 200 * time.Millisecond

// Panel methods are no-op on nil receiver, so disabled panel needs no checks at call sites.
type Panel struct {
	Log *log2.Log

	mu       sync.Mutex
	chip     gpio.Chiper
	ledLines gpio.Lineser
	led      gpio.LineSetFunc
	ledOn    bool
	btnLines gpio.Lineser
	blink    *alive.Alive
}

func Open(log *log2.Log, chipPath string, ledLine, buttonLine uint32) (*Panel, error) {
	chip, err := gpio.Open(chipPath, "powermeter")
	if err != nil {
		return nil, errors.Annotatef(err, "gpio open %s", chipPath)
	}
	p, err := New(log, chip, ledLine, buttonLine)
	if err != nil {
		chip.Close()
		return nil, err
	}
	return p, nil
}

func New(log *log2.Log, chip gpio.Chiper, ledLine, buttonLine uint32) (*Panel, error) {
	self := &Panel{Log: log, chip: chip}
	var err error
	self.ledLines, err = chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "powermeter-led", ledLine)
	if err != nil {
		return nil, errors.Annotatef(err, "gpio led line=%d", ledLine)
	}
	self.led = self.ledLines.SetFunc(ledLine)
	// button has pull-up, pressed reads low
	self.btnLines, err = chip.OpenLines(gpio.GPIOHANDLE_REQUEST_INPUT|gpio.GPIOHANDLE_REQUEST_ACTIVE_LOW, "powermeter-button", buttonLine)
	if err != nil {
		self.ledLines.Close()
		return nil, errors.Annotatef(err, "gpio button line=%d", buttonLine)
	}
	return self, nil
}

func (self *Panel) SetLED(on bool) error {
	if self == nil {
		return nil
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.setLED(on)
}

func (self *Panel) setLED(on bool) error {
	var v byte
	if on {
		v = 1
	}
	self.led(v)
	if err := self.ledLines.Flush(); err != nil {
		return errors.Annotate(err, "led")
	}
	self.ledOn = on
	return nil
}

func (self *Panel) ToggleLED() error {
	if self == nil {
		return nil
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.setLED(!self.ledOn)
}

// StartBlink toggles LED every period until StopBlink.
func (self *Panel) StartBlink(period time.Duration) {
	if self == nil {
		return
	}
	if period <= 0 {
		period = DefaultBlinkPeriod
	}
	self.StopBlink()
	a := alive.NewAlive()
	self.mu.Lock()
	self.blink = a
	self.mu.Unlock()
	a.Add(1)
	go func() {
		defer a.Done()
		tmr := time.NewTicker(period)
		defer tmr.Stop()
		for {
			select {
			case <-tmr.C:
				if err := self.ToggleLED(); err != nil {
					self.Log.Error(errors.Annotate(err, "blink"))
				}
			case <-a.StopChan():
				return
			}
		}
	}()
}

// StopBlink leaves LED off.
func (self *Panel) StopBlink() {
	if self == nil {
		return
	}
	self.mu.Lock()
	a := self.blink
	self.blink = nil
	self.mu.Unlock()
	if a != nil {
		a.Stop()
		a.Wait()
		if err := self.SetLED(false); err != nil {
			self.Log.Error(err)
		}
	}
}

func (self *Panel) ButtonPressed() (bool, error) {
	if self == nil {
		return false, nil
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	data, err := self.btnLines.Read()
	if err != nil {
		return false, errors.Annotate(err, "button")
	}
	return data.Values[0] != 0, nil
}

func (self *Panel) Close() error {
	if self == nil {
		return nil
	}
	self.StopBlink()
	self.mu.Lock()
	defer self.mu.Unlock()
	return helpers.FoldErrors([]error{self.ledLines.Close(), self.btnLines.Close(), self.chip.Close()})
}
