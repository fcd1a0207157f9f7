package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Factory telemetry frame layout (little-endian): preamble F2 47, one reserved
// byte, then the field table below starting at PayloadOffset. FrameSize counts
// from the first preamble byte.
const (
	FrameSize     = 76
	PayloadOffset = 3

	Preamble0 = 0xF2
	Preamble1 = 0x47
)

// Field names as they appear in ParsedMessage.
const (
	FieldCounter            = "counter"
	FieldADCCountI          = "ADC_count_I"
	FieldADCCountQ          = "ADC_count_Q"
	FieldRotateCountI       = "ROTATE_count_I"
	FieldRotateCountQ       = "ROTATE_count_Q"
	FieldSledNeg            = "SLED_Neg"
	FieldCaseTemp           = "Case_Temp"
	FieldSledPos            = "SLED_Pos"
	FieldBandgapVolt        = "Bandgap_Volt"
	FieldGNDVolt            = "GND_Volt"
	FieldTECCurrentSense    = "TEC_Current_Sense"
	FieldHeaterSense        = "Heater_Sense"
	FieldSagnacPowerMonitor = "Sagnac_Power_Monitor"
	FieldSledPowerSense     = "SLED_Power_Sense"
	FieldSledTemp           = "SLED_Temp"
	FieldSledCurrentSense   = "SLED_Current_Sense"
	FieldThermistorSense    = "Thermistor_Sense"
	FieldOpAmpTemp          = "Op_Amp_Temp"
	FieldADCTemp            = "ADC_Temp"
	FieldSupplyVoltage      = "Supply_Voltage"
	FieldStatus             = "status"

	// FieldSagPowerUW is derived from the raw Sagnac monitor after the table pass.
	FieldSagPowerUW = "SAG_PWR (uW)"
)

var ErrShortFrame = errors.New("telemetry frame too short")

type fieldKind int

const (
	kindU8 fieldKind = iota
	kindU16
	kindI32
)

func (k fieldKind) width() int {
	switch k {
	case kindU8:
		return 1
	case kindU16:
		return 2
	default:
		return 4
	}
}

type converter func(int32) (float64, error)

func infallible(f func(int32) float64) converter {
	return func(v int32) (float64, error) { return f(v), nil }
}

func passThrough(v int32) (float64, error) { return float64(v), nil }

type fieldDef struct {
	name    string
	kind    fieldKind
	convert converter
}

// factoryFields is walked left to right over the payload. The counter is an
// unsigned 32-bit word on the wire and is carried as its int32 bit pattern.
var factoryFields = []fieldDef{
	{FieldCounter, kindI32, passThrough},
	{FieldADCCountI, kindI32, infallible(Voltage24)},
	{FieldADCCountQ, kindI32, infallible(Voltage24)},
	{FieldRotateCountI, kindI32, infallible(Voltage24)},
	{FieldRotateCountQ, kindI32, infallible(Voltage24)},

	{FieldSledNeg, kindU16, infallible(Voltage10)},
	{FieldCaseTemp, kindU16, CaseTempC},
	{FieldSledPos, kindU16, infallible(Voltage10)},
	{FieldBandgapVolt, kindU16, passThrough},
	{FieldGNDVolt, kindU16, passThrough},

	{FieldTECCurrentSense, kindI32, infallible(TECCurrentMA)},
	{FieldHeaterSense, kindI32, infallible(Voltage24)},
	{FieldSagnacPowerMonitor, kindI32, infallible(SagnacVoltage)},
	{FieldSledPowerSense, kindI32, infallible(SledPowerUW)},
	{FieldSledTemp, kindI32, SledTempC},
	{FieldSledCurrentSense, kindI32, infallible(SledCurrentMA)},
	{FieldThermistorSense, kindI32, infallible(Voltage24)},
	{FieldOpAmpTemp, kindI32, OpAmpTempC},
	{FieldADCTemp, kindI32, infallible(Voltage24)},
	{FieldSupplyVoltage, kindI32, infallible(SupplyVoltage)},

	{FieldStatus, kindU8, passThrough},
}

// ConversionError records a field whose raw value has no physical meaning.
type ConversionError struct {
	Field string
	Raw   int32
	Err   error
}

func (e ConversionError) Error() string {
	return fmt.Sprintf("convert %s (raw %d): %v", e.Field, e.Raw, e.Err)
}

func (e ConversionError) Unwrap() error { return e.Err }

// ParsedMessage holds one decoded frame keyed by field name. Converted values
// for failed conversions are NaN and listed in Faults.
type ParsedMessage struct {
	Raw       map[string]int32
	Converted map[string]float64
	Faults    []ConversionError
}

// Decode parses one factory frame. frame must start at the preamble and hold at
// least FrameSize bytes; extra bytes are ignored.
func Decode(frame []byte) (ParsedMessage, error) {
	if len(frame) < FrameSize {
		return ParsedMessage{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(frame), FrameSize)
	}

	pm := ParsedMessage{
		Raw:       make(map[string]int32, len(factoryFields)),
		Converted: make(map[string]float64, len(factoryFields)+1),
	}

	off := PayloadOffset
	for _, f := range factoryFields {
		var raw int32
		switch f.kind {
		case kindU8:
			raw = int32(frame[off])
		case kindU16:
			raw = int32(binary.LittleEndian.Uint16(frame[off:]))
		case kindI32:
			raw = int32(binary.LittleEndian.Uint32(frame[off:]))
		}
		off += f.kind.width()

		pm.Raw[f.name] = raw
		v, err := f.convert(raw)
		if err != nil {
			pm.Faults = append(pm.Faults, ConversionError{Field: f.name, Raw: raw, Err: err})
			v = math.NaN()
		}
		pm.Converted[f.name] = v
	}

	pm.Converted[FieldSagPowerUW] = SagnacPowerUW(pm.Raw[FieldSagnacPowerMonitor])

	return pm, nil
}

// payloadLen is the number of bytes the field table consumes.
func payloadLen() int {
	n := 0
	for _, f := range factoryFields {
		n += f.kind.width()
	}
	return n
}
