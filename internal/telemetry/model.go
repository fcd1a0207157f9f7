package telemetry

import "math"

const (
	// OutputRateHz is the device's fixed telemetry rate; the counter ticks once per sample.
	OutputRateHz = 200.0

	PowerMonitorTransferFunc = 0.8
	TargetLossFraction       = 0.1
	SagnacTIAGain            = 1000.0
)

// MessageModel is one decoded telemetry sample. It is a value type: consumers
// get their own copy.
type MessageModel struct {
	Counter     uint32  `json:"counter"`
	TimeSeconds float64 `json:"time_s"`
	Status      uint8   `json:"status"`

	ADCCountI    float64 `json:"adc_count_i_v"`
	ADCCountQ    float64 `json:"adc_count_q_v"`
	RotateCountI float64 `json:"rotate_count_i_v"`
	RotateCountQ float64 `json:"rotate_count_q_v"`

	SledNeg     float64 `json:"sled_neg_v"`
	CaseTemp    float64 `json:"case_temp_c"`
	SledPos     float64 `json:"sled_pos_v"`
	BandgapVolt float64 `json:"bandgap_raw"`
	GNDVolt     float64 `json:"gnd_raw"`

	TECCurrent      float64 `json:"tec_current_ma"`
	HeaterSense     float64 `json:"heater_sense_v"`
	SagPowerV       float64 `json:"sag_power_v"`
	SagPowerUW      float64 `json:"sag_power_uw"`
	SldPowerUW      float64 `json:"sld_power_uw"`
	SledTemp        float64 `json:"sled_temp_c"`
	SledCurrent     float64 `json:"sled_current_ma"`
	ThermistorSense float64 `json:"thermistor_sense_v"`
	OpAmpTemp       float64 `json:"op_amp_temp_c"`
	ADCTemp         float64 `json:"adc_temp_v"`
	SupplyVoltage   float64 `json:"supply_voltage_v"`

	// Derived once from SagPowerV.
	PhotoCurrentUA  float64 `json:"photo_current_ua"`
	TargetSagPowerV float64 `json:"target_sag_power_v"`
}

// NewMessageModel flattens a ParsedMessage. Missing keys read as zero.
func NewMessageModel(pm ParsedMessage) MessageModel {
	c := pm.Converted
	m := MessageModel{
		Counter: uint32(pm.Raw[FieldCounter]),
		Status:  uint8(pm.Raw[FieldStatus]),

		ADCCountI:    c[FieldADCCountI],
		ADCCountQ:    c[FieldADCCountQ],
		RotateCountI: c[FieldRotateCountI],
		RotateCountQ: c[FieldRotateCountQ],

		SledNeg:     c[FieldSledNeg],
		CaseTemp:    c[FieldCaseTemp],
		SledPos:     c[FieldSledPos],
		BandgapVolt: c[FieldBandgapVolt],
		GNDVolt:     c[FieldGNDVolt],

		TECCurrent:      c[FieldTECCurrentSense],
		HeaterSense:     c[FieldHeaterSense],
		SagPowerV:       c[FieldSagnacPowerMonitor],
		SagPowerUW:      c[FieldSagPowerUW],
		SldPowerUW:      c[FieldSledPowerSense],
		SledTemp:        c[FieldSledTemp],
		SledCurrent:     c[FieldSledCurrentSense],
		ThermistorSense: c[FieldThermistorSense],
		OpAmpTemp:       c[FieldOpAmpTemp],
		ADCTemp:         c[FieldADCTemp],
		SupplyVoltage:   c[FieldSupplyVoltage],
	}
	m.TimeSeconds = float64(m.Counter) / OutputRateHz
	m.PhotoCurrentUA = PhotoCurrentUA(m.SagPowerV)
	m.TargetSagPowerV = TargetSagPowerV(m.SagPowerV)
	return m
}

// DecodeModel decodes a frame straight into a MessageModel.
func DecodeModel(frame []byte) (MessageModel, []ConversionError, error) {
	pm, err := Decode(frame)
	if err != nil {
		return MessageModel{}, nil, err
	}
	return NewMessageModel(pm), pm.Faults, nil
}

func PhotoCurrentUA(sagPowerV float64) float64 {
	return sagPowerV / PowerMonitorTransferFunc * 1e6
}

func TargetSagPowerV(sagPowerV float64) float64 {
	return TargetLossFraction * sagPowerV / PowerMonitorTransferFunc * SagnacTIAGain
}

// Finite returns a copy with NaN and infinite values replaced by zero, plus the
// JSON names of the fields that were replaced. encoding/json rejects
// non-finite floats.
func (m MessageModel) Finite() (MessageModel, []string) {
	fields := []struct {
		name string
		v    *float64
	}{
		{"time_s", &m.TimeSeconds},
		{"adc_count_i_v", &m.ADCCountI},
		{"adc_count_q_v", &m.ADCCountQ},
		{"rotate_count_i_v", &m.RotateCountI},
		{"rotate_count_q_v", &m.RotateCountQ},
		{"sled_neg_v", &m.SledNeg},
		{"case_temp_c", &m.CaseTemp},
		{"sled_pos_v", &m.SledPos},
		{"bandgap_raw", &m.BandgapVolt},
		{"gnd_raw", &m.GNDVolt},
		{"tec_current_ma", &m.TECCurrent},
		{"heater_sense_v", &m.HeaterSense},
		{"sag_power_v", &m.SagPowerV},
		{"sag_power_uw", &m.SagPowerUW},
		{"sld_power_uw", &m.SldPowerUW},
		{"sled_temp_c", &m.SledTemp},
		{"sled_current_ma", &m.SledCurrent},
		{"thermistor_sense_v", &m.ThermistorSense},
		{"op_amp_temp_c", &m.OpAmpTemp},
		{"adc_temp_v", &m.ADCTemp},
		{"supply_voltage_v", &m.SupplyVoltage},
		{"photo_current_ua", &m.PhotoCurrentUA},
		{"target_sag_power_v", &m.TargetSagPowerV},
	}

	var replaced []string
	for _, f := range fields {
		if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) {
			*f.v = 0
			replaced = append(replaced, f.name)
		}
	}
	return m, replaced
}
