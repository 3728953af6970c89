package pzem

// Public API to easy create sensor stubs to test your code.
import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/temoto/powermeter/crc"
)

// Responder gets complete request frame, returns raw reply bytes.
// nil reply simulates silent sensor.
type Responder func(request []byte) []byte

type MockUart struct {
	mu      sync.Mutex
	respond Responder
	pending bytes.Buffer
	Written [][]byte
}

func NewMockUart(respond Responder) *MockUart { return &MockUart{respond: respond} }

func (self *MockUart) Open(path string, baud int) error { return nil }
func (self *MockUart) Close() error                     { return nil }

func (self *MockUart) ResetRead() error {
	self.mu.Lock()
	self.pending.Reset()
	self.mu.Unlock()
	return nil
}

func (self *MockUart) Write(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	req := append([]byte(nil), p...)
	self.Written = append(self.Written, req)
	if self.respond != nil {
		self.pending.Write(self.respond(req))
	}
	return len(p), nil
}

// Silent reply does not sleep, timeout is reported immediately.
func (self *MockUart) ReadFull(p []byte, timeout time.Duration) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.pending.Len() < len(p) {
		self.pending.Reset()
		return ErrTimeoutT("pzem read timeout")
	}
	_, _ = self.pending.Read(p)
	return nil
}

func (self *MockUart) Requests() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.Written)
}

// MeasureReply builds valid read-input-registers reply.
func MeasureReply(addr uint8, v Values) []byte {
	regs := [registerCount]uint16{
		uint16(v.Voltage),
		uint16(v.Current), uint16(v.Current >> 16),
		uint16(v.Power), uint16(v.Power >> 16),
		uint16(v.Energy), uint16(v.Energy >> 16),
		uint16(v.Frequency),
		uint16(v.PowerFactor),
		uint16(v.Alarm),
	}
	b := make([]byte, 0, measureReplyLen)
	b = append(b, addr, fnReadInput, registerCount*2)
	for _, r := range regs {
		b = append(b, byte(r>>8), byte(r))
	}
	return crc.ModbusAppend(b)
}

// ErrorReply builds exception reply for function fn.
func ErrorReply(addr, fn, code uint8) []byte {
	return crc.ModbusAppend([]byte{addr, fn | 0x80, code})
}

// EchoResponder replies like healthy sensor with fixed raw values.
func EchoResponder(t testing.TB, addr uint8, v Values) Responder {
	return func(req []byte) []byte {
		if !crc.ModbusValid(req) {
			t.Errorf("pzem mock: invalid request crc %x", req)
			return nil
		}
		switch req[1] {
		case fnReadInput:
			return MeasureReply(addr, v)
		case fnReadHolding:
			return crc.ModbusAppend([]byte{addr, fnReadHolding, 2, 0, addr})
		case fnWriteSingle:
			return append([]byte(nil), req...)
		case fnResetEnergy:
			return crc.ModbusAppend([]byte{addr, fnResetEnergy})
		}
		t.Errorf("pzem mock: unexpected request %x", req)
		return nil
	}
}
