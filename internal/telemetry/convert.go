package telemetry

import (
	"errors"
	"fmt"
	"math"
)

const (
	// ReferenceVoltage is the ADC full-scale reference in volts.
	ReferenceVoltage = 2.5
	// Bits24 is the effective magnitude resolution of the signed 24-bit ADC.
	Bits24 = 23
	// Bits10 is the resolution of the MCU's 10-bit ADC.
	Bits10 = 10
)

var (
	ErrZeroVoltage           = errors.New("adc voltage is zero")
	ErrNonPositiveResistance = errors.New("thermistor resistance is not positive")
)

// Thermistor describes a Beta-model thermistor channel.
type Thermistor struct {
	Rto  float64 // resistance at 25 °C
	Beta float64
	Rref float64 // divider reference resistor
	Bits int
}

var (
	SledThermistor  = Thermistor{Rto: 10000, Beta: 3950, Rref: 10e3, Bits: Bits24}
	CaseThermistor  = Thermistor{Rto: 10000, Beta: 3380, Rref: 10e3, Bits: Bits10}
	OpAmpThermistor = Thermistor{Rto: 10000, Beta: 3380, Rref: 10e3, Bits: Bits24}
)

func RawVoltage(value int32, bits int) float64 {
	return float64(value) * ReferenceVoltage / math.Pow(2, float64(bits))
}

func Voltage24(value int32) float64 { return RawVoltage(value, Bits24) }

func Voltage10(value int32) float64 { return RawVoltage(value, Bits10) }

func SledCurrentMA(value int32) float64 {
	return Voltage24(value) * 1000.0 / (30.3030303030 * 0.3)
}

func TECCurrentMA(value int32) float64 {
	return 1000.0 * 0.92 * (Voltage24(value) - 1.25 - 0.0375) / -0.525
}

const (
	sledTIAGain         = 249 * 8.5
	sledPDResponsivity  = 0.8
	sledVoltsPerMicroW  = sledTIAGain / sledPDResponsivity / 1e6
	sagnacZeroOffsetV   = 2.4686481683
	sagnacVoltsToMicroW = 1.25 / 20000.0 * 1e6
)

func SledPowerUW(value int32) float64 {
	return Voltage24(value) / sledVoltsPerMicroW
}

// SagnacVoltage returns the Sagnac power-monitor voltage. The monitor output is
// inverted around a fixed offset.
func SagnacVoltage(value int32) float64 {
	return sagnacZeroOffsetV - Voltage24(value)
}

func SagnacPowerUW(value int32) float64 {
	return SagnacVoltage(value) * sagnacVoltsToMicroW
}

func SupplyVoltage(value int32) float64 {
	return Voltage24(value) * 2.0
}

// MEMSTempC converts the MEMS die temperature register.
func MEMSTempC(value int32) float64 {
	return float64(value)/256.0 + 25.0
}

func PICThermistorTempC(value int32, slope, offset float64) float64 {
	return slope*float64(value) + offset
}

// ThermistorTempC converts ADC counts from a thermistor divider to °C. Readings
// that do not map to a physical resistance return an error wrapping
// ErrZeroVoltage or ErrNonPositiveResistance.
func ThermistorTempC(counts int32, th Thermistor) (float64, error) {
	v := RawVoltage(counts, th.Bits)
	if v == 0 {
		return math.NaN(), fmt.Errorf("%w: %d counts", ErrZeroVoltage, counts)
	}

	r := (ReferenceVoltage*th.Rref)/v - th.Rref
	if r <= 0 {
		return math.NaN(), fmt.Errorf("%w: %.3f ohm at %.6f V", ErrNonPositiveResistance, r, v)
	}

	return th.Beta/(th.Beta/298.15-math.Log(th.Rto/r)) - 273.0, nil
}

func SledTempC(value int32) (float64, error) { return ThermistorTempC(value, SledThermistor) }

func CaseTempC(value int32) (float64, error) { return ThermistorTempC(value, CaseThermistor) }

func OpAmpTempC(value int32) (float64, error) { return ThermistorTempC(value, OpAmpThermistor) }
