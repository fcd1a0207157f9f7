package broadcast

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/komcat/SiphogAdapter/internal/telemetry"
)

var ErrMalformedLine = errors.New("malformed broadcast line")

// DataKeys names the broadcast columns in wire order.
var DataKeys = []string{
	"SLED_Current (mA)",
	"Photo Current (uA)",
	"SLED_Temp (C)",
	"Target SAG_PWR (V)",
	"SAG_PWR (V)",
	"TEC_Current (mA)",
}

// Sample is one broadcast line.
type Sample struct {
	SledCurrent    float64 `json:"sled_current_ma"`
	PhotoCurrent   float64 `json:"photo_current_ua"`
	SledTemp       float64 `json:"sled_temp_c"`
	TargetSagPower float64 `json:"target_sag_power_v"`
	SagPower       float64 `json:"sag_power_v"`
	TECCurrent     float64 `json:"tec_current_ma"`
}

func SampleOf(m telemetry.MessageModel) Sample {
	return Sample{
		SledCurrent:    m.SledCurrent,
		PhotoCurrent:   m.PhotoCurrentUA,
		SledTemp:       m.SledTemp,
		TargetSagPower: m.TargetSagPowerV,
		SagPower:       m.SagPowerV,
		TECCurrent:     m.TECCurrent,
	}
}

func (s Sample) values() [6]float64 {
	return [6]float64{s.SledCurrent, s.PhotoCurrent, s.SledTemp, s.TargetSagPower, s.SagPower, s.TECCurrent}
}

// Map keys the values by DataKeys.
func (s Sample) Map() map[string]float64 {
	v := s.values()
	out := make(map[string]float64, len(v))
	for i, k := range DataKeys {
		out[k] = v[i]
	}
	return out
}

// FormatLine renders m as six comma-separated fixed-point values with six
// decimals, in DataKeys order. No terminator is included.
func FormatLine(m telemetry.MessageModel) string {
	v := SampleOf(m).values()
	var b strings.Builder
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(x, 'f', 6, 64))
	}
	return b.String()
}

// ParseLine is the inverse of FormatLine. Surrounding whitespace, including
// the line terminator, is ignored.
func ParseLine(line string) (Sample, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != len(DataKeys) {
		return Sample{}, fmt.Errorf("%w: %d fields, want %d", ErrMalformedLine, len(fields), len(DataKeys))
	}
	var v [6]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: field %q: %v", ErrMalformedLine, DataKeys[i], err)
		}
		v[i] = x
	}
	return Sample{
		SledCurrent:    v[0],
		PhotoCurrent:   v[1],
		SledTemp:       v[2],
		TargetSagPower: v[3],
		SagPower:       v[4],
		TECCurrent:     v[5],
	}, nil
}
