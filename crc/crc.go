package crc

// Modbus RTU: reflected 0x8005, init 0xffff, transmitted low byte first.
const CRC_POLY_A001 uint16 = 0xa001
const CRC16_INIT uint16 = 0xffff

func CRC16_a001(crc uint16, data byte) uint16 {
	crc ^= uint16(data)
	var i byte = 0
	for ; i < 8; i++ {
		if (crc & 0x0001) != 0 {
			crc >>= 1
			crc ^= CRC_POLY_A001
		} else {
			crc >>= 1
		}
	}
	return crc
}

func CRC16_a001_n(crc uint16, bs []byte) uint16 {
	for _, b := range bs {
		crc = CRC16_a001(crc, b)
	}
	return crc
}

// Modbus computes CRC of frame body and returns it in wire order.
func Modbus(bs []byte) (lo, hi byte) {
	c := CRC16_a001_n(CRC16_INIT, bs)
	return byte(c), byte(c >> 8)
}

// ModbusAppend returns frame with CRC appended.
func ModbusAppend(bs []byte) []byte {
	lo, hi := Modbus(bs)
	return append(bs, lo, hi)
}

// ModbusValid checks trailing two CRC bytes of complete frame.
func ModbusValid(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	lo, hi := Modbus(frame[:n])
	return frame[n] == lo && frame[n+1] == hi
}
