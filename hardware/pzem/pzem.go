// Package pzem talks Modbus-RTU to PZEM-004T v3 energy meters.
package pzem

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/crc"
	"github.com/temoto/powermeter/internal/reading"
	"github.com/temoto/powermeter/log2"
)

const (
	// General address, any single sensor on the link answers it.
	AddrGeneral uint8 = 0xf8
	AddrMin     uint8 = 0x01
	AddrMax     uint8 = 0xf7

	DefaultTimeout = 100 * time.Millisecond
)

const (
	fnReadHolding uint8 = 0x03
	fnReadInput   uint8 = 0x04
	fnWriteSingle uint8 = 0x06
	fnResetEnergy uint8 = 0x42

	registerCount   = 10
	regAddress      = 0x0002
	measureReplyLen = 3 + registerCount*2 + 2
)

type ErrDevice struct {
	Fn   uint8
	Code uint8
}

func (e ErrDevice) Error() string {
	return fmt.Sprintf("pzem function=%02x exception=%02x(%s)", e.Fn, e.Code, exceptionName(e.Code))
}

func exceptionName(code uint8) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal address"
	case 0x03:
		return "illegal data"
	case 0x04:
		return "slave error"
	}
	return "unknown"
}

// Values are raw register contents in sensor units.
type Values struct {
	Voltage     uint16 // 0.1 V
	Current     uint32 // 0.001 A
	Power       uint32 // 0.1 W
	Energy      uint32 // 1 Wh
	Frequency   uint16 // 0.1 Hz
	PowerFactor uint16 // 0.01
	Alarm       uint16
}

func (v Values) Quantities() reading.Quantities {
	return reading.Quantities{
		Voltage:     float64(v.Voltage) / 10,
		Current:     float64(v.Current) / 1000,
		Power:       float64(v.Power) / 10,
		Energy:      float64(v.Energy) / 1000,
		Frequency:   float64(v.Frequency) / 10,
		PowerFactor: float64(v.PowerFactor) / 100,
	}
}

// Driver owns one serial link. Not safe for concurrent use.
type Driver struct {
	Log     *log2.Log
	u       Uarter
	addr    uint8
	timeout time.Duration
	buf     [measureReplyLen]byte
}

func NewDriver(log *log2.Log, u Uarter, addr uint8) *Driver {
	if addr == 0 {
		addr = AddrGeneral
	}
	return &Driver{Log: log, u: u, addr: addr, timeout: DefaultTimeout}
}

func (self *Driver) Address() uint8                   { return self.addr }
func (self *Driver) SetTimeout(timeout time.Duration) { self.timeout = timeout }

// Measure never fails, broken link or sensor yields all-NaN quantities.
func (self *Driver) Measure() reading.Quantities {
	v, err := self.ReadValues()
	if err != nil {
		self.Log.Debugf("pzem addr=%02x measure err=%v", self.addr, err)
		return reading.InvalidQuantities()
	}
	return v.Quantities()
}

func (self *Driver) ReadValues() (Values, error) {
	resp, err := self.tx([]byte{self.addr, fnReadInput, 0, 0, 0, registerCount}, measureReplyLen)
	if err != nil {
		return Values{}, errors.Annotate(err, "read input registers")
	}
	if resp[2] != registerCount*2 {
		return Values{}, errors.NotValidf("response byte count=%d", resp[2])
	}
	reg := func(i int) uint16 { return binary.BigEndian.Uint16(resp[3+i*2:]) }
	// 32 bit values are low word first
	dword := func(i int) uint32 { return uint32(reg(i)) | uint32(reg(i+1))<<16 }
	return Values{
		Voltage:     reg(0),
		Current:     dword(1),
		Power:       dword(3),
		Energy:      dword(5),
		Frequency:   reg(7),
		PowerFactor: reg(8),
		Alarm:       reg(9),
	}, nil
}

// ReadAddress asks sensor for its configured slave address.
func (self *Driver) ReadAddress() (uint8, error) {
	resp, err := self.tx([]byte{self.addr, fnReadHolding, 0, regAddress, 0, 1}, 7)
	if err != nil {
		return 0, errors.Annotate(err, "read address")
	}
	return resp[4], nil
}

// SetAddress writes new slave address, driver follows it on success.
func (self *Driver) SetAddress(addr uint8) error {
	if addr < AddrMin || addr > AddrMax {
		return errors.NotValidf("address=%02x", addr)
	}
	req := []byte{self.addr, fnWriteSingle, 0, regAddress, 0, addr}
	if _, err := self.tx(req, 8); err != nil {
		return errors.Annotate(err, "set address")
	}
	self.addr = addr
	return nil
}

// ResetEnergy zeroes sensor-side energy accumulator.
func (self *Driver) ResetEnergy() error {
	if _, err := self.tx([]byte{self.addr, fnResetEnergy}, 4); err != nil {
		return errors.Annotate(err, "reset energy")
	}
	return nil
}

func (self *Driver) tx(body []byte, replyLen int) ([]byte, error) {
	fn := body[1]
	req := crc.ModbusAppend(body)
	if err := self.u.ResetRead(); err != nil {
		return nil, errors.Trace(err)
	}
	if _, err := self.u.Write(req); err != nil {
		return nil, errors.Trace(err)
	}
	// exception reply is 5 bytes, read common prefix first
	resp := self.buf[:replyLen]
	if err := self.u.ReadFull(resp[:2], self.timeout); err != nil {
		return nil, err
	}
	if resp[1] == fn|0x80 {
		resp = resp[:5]
		if err := self.u.ReadFull(resp[2:], self.timeout); err != nil {
			return nil, err
		}
		if !crc.ModbusValid(resp) {
			return nil, errors.NotValidf("exception crc %x", resp)
		}
		return nil, ErrDevice{Fn: fn, Code: resp[2]}
	}
	if err := self.u.ReadFull(resp[2:], self.timeout); err != nil {
		return nil, err
	}
	if !crc.ModbusValid(resp) {
		return nil, errors.NotValidf("response crc %x", resp)
	}
	if resp[1] != fn {
		return nil, errors.NotValidf("response function=%02x expected=%02x", resp[1], fn)
	}
	if self.addr != AddrGeneral && resp[0] != self.addr {
		return nil, errors.NotValidf("response address=%02x expected=%02x", resp[0], self.addr)
	}
	return resp, nil
}
