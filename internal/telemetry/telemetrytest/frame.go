// Package telemetrytest builds factory telemetry frames for tests.
package telemetrytest

import "encoding/binary"

const (
	frameSize     = 76
	payloadOffset = 3
)

// Fields holds raw wire values in frame order.
type Fields struct {
	Counter      uint32
	ADCCountI    int32
	ADCCountQ    int32
	RotateCountI int32
	RotateCountQ int32

	SledNeg     uint16
	CaseTemp    uint16
	SledPos     uint16
	BandgapVolt uint16
	GNDVolt     uint16

	TECCurrentSense    int32
	HeaterSense        int32
	SagnacPowerMonitor int32
	SledPowerSense     int32
	SledTemp           int32
	SledCurrentSense   int32
	ThermistorSense    int32
	OpAmpTemp          int32
	ADCTemp            int32
	SupplyVoltage      int32

	Status uint8
}

// Nominal returns fields whose thermistor channels sit at mid-scale (about 25 °C).
func Nominal(counter uint32) Fields {
	const mid24 = 1 << 22
	return Fields{
		Counter:            counter,
		ADCCountI:          1000,
		ADCCountQ:          -1000,
		RotateCountI:       2000,
		RotateCountQ:       -2000,
		SledNeg:            100,
		CaseTemp:           512,
		SledPos:            900,
		BandgapVolt:        372,
		GNDVolt:            3,
		TECCurrentSense:    mid24,
		HeaterSense:        mid24 / 2,
		SagnacPowerMonitor: mid24 * 3 / 2,
		SledPowerSense:     mid24 / 4,
		SledTemp:           mid24,
		SledCurrentSense:   mid24,
		ThermistorSense:    mid24 / 8,
		OpAmpTemp:          mid24,
		ADCTemp:            mid24 / 16,
		SupplyVoltage:      mid24 * 3 / 2,
		Status:             0x5A,
	}
}

// Build encodes f as a complete 76-byte frame starting with the preamble.
func Build(f Fields) []byte {
	b := make([]byte, frameSize)
	b[0], b[1] = 0xF2, 0x47

	off := payloadOffset
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(b[off:], v)
		off += 4
	}
	put16 := func(v uint16) {
		binary.LittleEndian.PutUint16(b[off:], v)
		off += 2
	}

	put32(f.Counter)
	put32(uint32(f.ADCCountI))
	put32(uint32(f.ADCCountQ))
	put32(uint32(f.RotateCountI))
	put32(uint32(f.RotateCountQ))

	put16(f.SledNeg)
	put16(f.CaseTemp)
	put16(f.SledPos)
	put16(f.BandgapVolt)
	put16(f.GNDVolt)

	put32(uint32(f.TECCurrentSense))
	put32(uint32(f.HeaterSense))
	put32(uint32(f.SagnacPowerMonitor))
	put32(uint32(f.SledPowerSense))
	put32(uint32(f.SledTemp))
	put32(uint32(f.SledCurrentSense))
	put32(uint32(f.ThermistorSense))
	put32(uint32(f.OpAmpTemp))
	put32(uint32(f.ADCTemp))
	put32(uint32(f.SupplyVoltage))

	b[off] = f.Status
	return b
}

// Stream concatenates nominal frames for the given counters.
func Stream(counters ...uint32) []byte {
	out := make([]byte, 0, len(counters)*frameSize)
	for _, c := range counters {
		out = append(out, Build(Nominal(c))...)
	}
	return out
}
