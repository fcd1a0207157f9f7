package command

import "encoding/binary"

// Command frame layout: C5 50, one type byte, a 4-byte body, then a two-byte
// running checksum over type and body.
const (
	Preamble0 = 0xC5
	Preamble1 = 0x50

	TypeUnlock      = 0xEF
	TypeControlMode = 0xE8
	TypeSledCurrent = 0x5E
	TypeTemperature = 0x60
)

// Mode selects a control loop for the SLED or the TEC.
type Mode byte

const (
	SledConstantCurrent    Mode = 0x01
	TECConstantTemperature Mode = 0x03
)

var unlockPassword = [4]byte{0x41, 0x41, 0x41, 0x41}

// Checksum runs two 8-bit accumulators over payload: a += byte, b += a.
func Checksum(payload []byte) [2]byte {
	var a, b byte
	for _, x := range payload {
		a += x
		b += a
	}
	return [2]byte{a, b}
}

// Frame wraps payload with the preamble and checksum.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, Preamble0, Preamble1)
	out = append(out, payload...)
	sum := Checksum(payload)
	return append(out, sum[0], sum[1])
}

func UnlockPayload() []byte {
	return []byte{TypeUnlock, unlockPassword[0], unlockPassword[1], unlockPassword[2], unlockPassword[3]}
}

func ControlModePayload(sled, tec Mode) []byte {
	return []byte{TypeControlMode, byte(sled), byte(tec), 0x00, 0x00}
}

func SledCurrentPayload(milliamps uint16) []byte {
	p := []byte{TypeSledCurrent, 0, 0, 0x00, 0x00}
	binary.LittleEndian.PutUint16(p[1:3], milliamps)
	return p
}

// TemperaturePayload encodes celsius through its unsigned bit pattern.
func TemperaturePayload(celsius int16) []byte {
	p := []byte{TypeTemperature, 0, 0, 0x00, 0x00}
	binary.LittleEndian.PutUint16(p[1:3], uint16(celsius))
	return p
}

func Unlock() []byte { return Frame(UnlockPayload()) }

func ControlMode(sled, tec Mode) []byte { return Frame(ControlModePayload(sled, tec)) }

func SledCurrentSetpoint(mA uint16) []byte { return Frame(SledCurrentPayload(mA)) }

func TemperatureSetpoint(celsius int16) []byte { return Frame(TemperaturePayload(celsius)) }
