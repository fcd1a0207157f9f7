package telemetry

import (
	"errors"
	"math"
	"testing"
)

const eps = 1e-9

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestRawVoltage(t *testing.T) {
	tests := []struct {
		name  string
		value int32
		bits  int
		want  float64
	}{
		{name: "half scale 24-bit", value: 1 << 22, bits: Bits24, want: 1.25},
		{name: "full scale 24-bit", value: 1 << 23, bits: Bits24, want: 2.5},
		{name: "negative 24-bit", value: -(1 << 22), bits: Bits24, want: -1.25},
		{name: "zero", value: 0, bits: Bits24, want: 0},
		{name: "half scale 10-bit", value: 512, bits: Bits10, want: 1.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RawVoltage(tt.value, tt.bits); !approx(got, tt.want, eps) {
				t.Errorf("RawVoltage(%d, %d) = %v, want %v", tt.value, tt.bits, got, tt.want)
			}
		})
	}
}

func TestScaledConversions(t *testing.T) {
	const mid = 1 << 22

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{name: "sled current", got: SledCurrentMA(mid), want: 1.25 * 1000.0 / (30.3030303030 * 0.3)},
		{name: "tec current", got: TECCurrentMA(mid), want: 1000.0 * 0.92 * (-0.0375) / -0.525},
		{name: "sled power", got: SledPowerUW(mid), want: 1.25 / (249 * 8.5 / 0.8 / 1e6)},
		{name: "sagnac voltage at zero", got: SagnacVoltage(0), want: 2.4686481683},
		{name: "sagnac voltage at mid", got: SagnacVoltage(mid), want: 2.4686481683 - 1.25},
		{name: "sagnac power", got: SagnacPowerUW(0), want: 2.4686481683 * 1.25 / 20000.0 * 1e6},
		{name: "supply", got: SupplyVoltage(mid), want: 2.5},
		{name: "mems temp", got: MEMSTempC(512), want: 27},
		{name: "pic thermistor", got: PICThermistorTempC(10, 0.5, -3), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !approx(tt.got, tt.want, 1e-6) {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestSledCurrentKnownValue(t *testing.T) {
	// 1.25 V across the 30.30 * 0.3 transimpedance is 137.5 mA.
	if got := SledCurrentMA(1 << 22); !approx(got, 137.5, 1e-6) {
		t.Errorf("SledCurrentMA = %v, want 137.5", got)
	}
}

func TestThermistorTempC(t *testing.T) {
	t.Run("mid scale reads reference temperature", func(t *testing.T) {
		for name, f := range map[string]func(int32) (float64, error){
			"sled":  SledTempC,
			"opamp": OpAmpTempC,
		} {
			got, err := f(1 << 22)
			if err != nil {
				t.Fatalf("%s: unexpected error %v", name, err)
			}
			if !approx(got, 25.15, 1e-9) {
				t.Errorf("%s = %v, want 25.15", name, got)
			}
		}

		got, err := CaseTempC(512)
		if err != nil {
			t.Fatalf("case: unexpected error %v", err)
		}
		if !approx(got, 25.15, 1e-9) {
			t.Errorf("case = %v, want 25.15", got)
		}
	})

	t.Run("colder thermistor raises resistance", func(t *testing.T) {
		// Lower divider voltage means higher thermistor resistance (NTC -> colder).
		got, err := SledTempC(1 << 21)
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if got >= 25.15 {
			t.Errorf("SledTempC(2^21) = %v, want < 25.15", got)
		}
	})

	tests := []struct {
		name    string
		counts  int32
		th      Thermistor
		wantErr error
	}{
		{name: "zero voltage", counts: 0, th: SledThermistor, wantErr: ErrZeroVoltage},
		{name: "full scale gives zero resistance", counts: 1 << 23, th: SledThermistor, wantErr: ErrNonPositiveResistance},
		{name: "negative voltage", counts: -100, th: OpAmpThermistor, wantErr: ErrNonPositiveResistance},
		{name: "10-bit over range", counts: 2000, th: CaseThermistor, wantErr: ErrNonPositiveResistance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ThermistorTempC(tt.counts, tt.th)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !math.IsNaN(got) {
				t.Errorf("value = %v, want NaN", got)
			}
		})
	}
}
