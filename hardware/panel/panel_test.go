package panel

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	gpio "github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
	"github.com/temoto/powermeter/log2"
)

const (
	testLED    uint32 = 2
	testButton uint32 = 5
)

type ledRecorder struct {
	mu     sync.Mutex
	values []byte
}

func (self *ledRecorder) set(v byte) {
	self.mu.Lock()
	self.values = append(self.values, v)
	self.mu.Unlock()
}

func (self *ledRecorder) get() []byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]byte(nil), self.values...)
}

func testPanel(t *testing.T, button byte, buttonErr error) (*Panel, *ledRecorder, *gpio_mock.MockChip) {
	rec := &ledRecorder{}
	ledLines := &gpio_mock.MockLines{}
	ledLines.On("SetFunc", testLED).Return(gpio.LineSetFunc(rec.set))
	ledLines.On("Flush").Return(nil)
	ledLines.On("Close").Return(nil)
	btnLines := &gpio_mock.MockLines{}
	data := gpio.HandleData{}
	data.Values[0] = button
	btnLines.On("Read").Return(data, buttonErr)
	btnLines.On("Close").Return(nil)

	chip := &gpio_mock.MockChip{}
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_OUTPUT, mock.Anything, testLED).Return(ledLines, nil)
	chip.On("OpenLines", gpio.GPIOHANDLE_REQUEST_INPUT|gpio.GPIOHANDLE_REQUEST_ACTIVE_LOW, mock.Anything, testButton).Return(btnLines, nil)
	chip.On("Close").Return(nil)

	p, err := New(log2.NewTest(t, log2.LDebug), chip, testLED, testButton)
	require.NoError(t, err)
	return p, rec, chip
}

func TestLED(t *testing.T) {
	t.Parallel()

	p, rec, _ := testPanel(t, 0, nil)
	require.NoError(t, p.SetLED(true))
	require.NoError(t, p.ToggleLED())
	require.NoError(t, p.ToggleLED())
	assert.Equal(t, []byte{1, 0, 1}, rec.get())
}

func TestBlink(t *testing.T) {
	t.Parallel()

	p, rec, chip := testPanel(t, 0, nil)
	p.StartBlink(2 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	p.StopBlink()
	vs := rec.get()
	require.Greater(t, len(vs), 2)
	assert.Equal(t, byte(0), vs[len(vs)-1], "LED must be off after StopBlink")
	n := len(vs)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, rec.get(), n, "no toggles after StopBlink")

	require.NoError(t, p.Close())
	chip.AssertCalled(t, "Close")
}

func TestButton(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		value  byte
		err    error
		expect bool
	}{
		{"pressed", 1, nil, true},
		{"released", 0, nil, false},
		{"error", 0, errors.New("EIO"), false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			p, _, _ := testPanel(t, c.value, c.err)
			pressed, err := p.ButtonPressed()
			if c.err != nil {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, c.expect, pressed)
		})
	}
}

func TestNilPanel(t *testing.T) {
	t.Parallel()

	var p *Panel
	assert.NoError(t, p.SetLED(true))
	p.StartBlink(time.Millisecond)
	p.StopBlink()
	pressed, err := p.ButtonPressed()
	assert.NoError(t, err)
	assert.False(t, pressed)
	assert.NoError(t, p.Close())
}
