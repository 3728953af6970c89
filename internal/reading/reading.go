// Package reading defines one measurement snapshot of one sensor channel
// and its wire representation.
package reading

import (
	"fmt"
	"math"
	"strings"
)

// Bit order is part of the log format, do not reorder.
type ErrorMask uint8

const (
	ErrVoltage ErrorMask = 1 << iota
	ErrCurrent
	ErrPower
	ErrEnergy
	ErrFrequency
	ErrPowerFactor
)

var maskNames = [...]string{"voltage", "current", "power", "energy", "frequency", "pf"}

func (m ErrorMask) Has(bit ErrorMask) bool { return m&bit != 0 }

func (m ErrorMask) String() string {
	if m == 0 {
		return "0x00"
	}
	names := make([]string, 0, len(maskNames))
	for i, name := range maskNames {
		if m&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return fmt.Sprintf("0x%02x(%s)", uint8(m), strings.Join(names, ","))
}

// Quantities is what the sensor driver reports, NaN marks a failed field.
type Quantities struct {
	Voltage     float64 // V
	Current     float64 // A
	Power       float64 // W
	Energy      float64 // kWh, sensor-side accumulator
	Frequency   float64 // Hz
	PowerFactor float64
}

func InvalidQuantities() Quantities {
	nan := math.NaN()
	return Quantities{nan, nan, nan, nan, nan, nan}
}

// ComputeMask sets one bit per not-a-number field.
func (q Quantities) ComputeMask() ErrorMask {
	var m ErrorMask
	fields := [...]float64{q.Voltage, q.Current, q.Power, q.Energy, q.Frequency, q.PowerFactor}
	for i, f := range fields {
		if math.IsNaN(f) {
			m |= 1 << uint(i)
		}
	}
	return m
}

// Reading is immutable once produced, pass by value.
type Reading struct {
	Quantities
	SensorID  uint16
	Address   uint8
	ErrorMask ErrorMask
}

func New(sensorID uint16, address uint8, q Quantities) Reading {
	return Reading{
		Quantities: q,
		SensorID:   sensorID,
		Address:    address,
		ErrorMask:  q.ComputeMask(),
	}
}

func (r Reading) Valid() bool { return r.ErrorMask == 0 }

func (r Reading) String() string {
	return fmt.Sprintf("sensor=%d addr=0x%02x U=%.1f I=%.3f P=%.1f E=%.3f f=%.1f pf=%.2f mask=%s",
		r.SensorID, r.Address, r.Voltage, r.Current, r.Power, r.Energy, r.Frequency, r.PowerFactor, r.ErrorMask.String())
}
