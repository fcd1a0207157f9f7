package httpapi

import (
	"math"

	"github.com/komcat/SiphogAdapter/internal/chart"
	"github.com/komcat/SiphogAdapter/internal/telemetry"
)

// encoding/json refuses NaN and Inf. Series carry them as null, single values
// as zero with the field listed under "invalid".

func finiteSeries(v []float64) []*float64 {
	out := make([]*float64, len(v))
	for i := range v {
		if !math.IsNaN(v[i]) && !math.IsInf(v[i], 0) {
			out[i] = &v[i]
		}
	}
	return out
}

func finiteFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func finiteStats(s chart.DataStats) chart.DataStats {
	s.Min = finiteFloat(s.Min)
	s.Max = finiteFloat(s.Max)
	s.Mean = finiteFloat(s.Mean)
	s.Latest = finiteFloat(s.Latest)
	return s
}

type sample struct {
	telemetry.MessageModel
	Invalid []string `json:"invalid,omitempty"`
}

func finiteSample(m telemetry.MessageModel) sample {
	clean, invalid := m.Finite()
	return sample{MessageModel: clean, Invalid: invalid}
}
