package pzem

import (
	"encoding/hex"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/powermeter/crc"
	"github.com/temoto/powermeter/internal/reading"
	"github.com/temoto/powermeter/log2"
)

var typical = Values{
	Voltage:     2301,
	Current:     1234,
	Power:       2834,
	Energy:      12345,
	Frequency:   500,
	PowerFactor: 92,
}

func TestMeasure(t *testing.T) {
	t.Parallel()

	u := NewMockUart(EchoResponder(t, 0x01, typical))
	d := NewDriver(log2.NewTest(t, log2.LDebug), u, 0)
	assert.Equal(t, AddrGeneral, d.Address())
	q := d.Measure()
	assert.Equal(t, reading.ErrorMask(0), q.ComputeMask())
	assert.Equal(t, reading.Quantities{
		Voltage:     230.1,
		Current:     1.234,
		Power:       283.4,
		Energy:      12.345,
		Frequency:   50,
		PowerFactor: 0.92,
	}, q)
	require.Equal(t, 1, u.Requests())
	assert.Equal(t, "f8040000000a6464", hex.EncodeToString(u.Written[0]))
}

func TestReadValuesDword(t *testing.T) {
	t.Parallel()

	v := Values{Current: 0x00012345, Power: 0x00020001, Energy: 0xdeadbeef, Alarm: 0xffff}
	u := NewMockUart(EchoResponder(t, 0x07, v))
	d := NewDriver(log2.NewTest(t, log2.LDebug), u, 0x07)
	got, err := d.ReadValues()
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestMeasureFailures(t *testing.T) {
	t.Parallel()

	good := MeasureReply(0x07, typical)
	corrupt := append([]byte(nil), good...)
	corrupt[5] ^= 0xff
	wrongAddr := MeasureReply(0x08, typical)

	cases := []struct {
		name  string
		reply []byte
		check func(t testing.TB, err error)
	}{
		{"silent", nil, func(t testing.TB, err error) { assert.True(t, IsTimeout(err), err) }},
		{"short", good[:10], func(t testing.TB, err error) { assert.True(t, IsTimeout(errors.Cause(err)), err) }},
		{"crc", corrupt, func(t testing.TB, err error) { assert.True(t, errors.IsNotValid(errors.Cause(err)), err) }},
		{"address", wrongAddr, func(t testing.TB, err error) { assert.True(t, errors.IsNotValid(errors.Cause(err)), err) }},
		{"exception", ErrorReply(0x07, fnReadInput, 0x02), func(t testing.TB, err error) {
			de, ok := errors.Cause(err).(ErrDevice)
			require.True(t, ok, err)
			assert.Equal(t, uint8(0x02), de.Code)
			assert.Contains(t, err.Error(), "illegal address")
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			u := NewMockUart(func([]byte) []byte { return c.reply })
			d := NewDriver(log2.NewTest(t, log2.LDebug), u, 0x07)
			_, err := d.ReadValues()
			require.Error(t, err)
			c.check(t, errors.Cause(err))
			q := d.Measure()
			assert.Equal(t, reading.ErrorMask(0x3f), q.ComputeMask())
		})
	}
}

func TestAddress(t *testing.T) {
	t.Parallel()

	u := NewMockUart(EchoResponder(t, 0x05, typical))
	d := NewDriver(log2.NewTest(t, log2.LDebug), u, AddrGeneral)
	addr, err := d.ReadAddress()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x05), addr)
	assert.Equal(t, "f8030002", hex.EncodeToString(u.Written[0][:4]))

	assert.True(t, errors.IsNotValid(d.SetAddress(0)))
	assert.True(t, errors.IsNotValid(d.SetAddress(AddrGeneral)))
	require.NoError(t, d.SetAddress(0x09))
	assert.Equal(t, uint8(0x09), d.Address())
	last := u.Written[len(u.Written)-1]
	assert.Equal(t, "f80600020009", hex.EncodeToString(last[:6]))
	assert.True(t, crc.ModbusValid(last))
}

func TestResetEnergy(t *testing.T) {
	t.Parallel()

	u := NewMockUart(EchoResponder(t, 0x01, typical))
	d := NewDriver(log2.NewTest(t, log2.LDebug), u, 0x01)
	require.NoError(t, d.ResetEnergy())
	require.Equal(t, 1, u.Requests())
	assert.Equal(t, []byte{0x01, 0x42}, u.Written[0][:2])
	assert.Len(t, u.Written[0], 4)

	u = NewMockUart(func([]byte) []byte { return ErrorReply(0x01, fnResetEnergy, 0x04) })
	d = NewDriver(log2.NewTest(t, log2.LDebug), u, 0x01)
	err := d.ResetEnergy()
	require.Error(t, err)
	assert.IsType(t, ErrDevice{}, errors.Cause(err))
}
