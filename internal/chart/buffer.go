package chart

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/komcat/SiphogAdapter/internal/telemetry"
)

const DefaultMaxPoints = 1000

var (
	ErrEmpty           = errors.New("chart buffer is empty")
	ErrInvalidCapacity = errors.New("chart capacity must be positive")
	ErrUnknownChannel  = errors.New("unknown chart channel")
)

// Channel identifies one recorded series.
type Channel int

const (
	Time Channel = iota
	SledCurrent
	SledTemp
	TECCurrent
	PhotoCurrent
	SagPower
	SldPower
	CaseTemp
	OpAmpTemp
	SupplyVoltage
	ADCCountI
	ADCCountQ

	numChannels
)

var channelNames = [numChannels]string{
	Time:          "time",
	SledCurrent:   "sled_current",
	SledTemp:      "sled_temp",
	TECCurrent:    "tec_current",
	PhotoCurrent:  "photo_current",
	SagPower:      "sag_power",
	SldPower:      "sld_power",
	CaseTemp:      "case_temp",
	OpAmpTemp:     "opamp_temp",
	SupplyVoltage: "supply_voltage",
	ADCCountI:     "adc_count_i",
	ADCCountQ:     "adc_count_q",
}

// Channels lists every channel in CSV column order.
func Channels() []Channel {
	out := make([]Channel, numChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

func (c Channel) String() string {
	if c < 0 || c >= numChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// ParseChannel maps a channel name back to its Channel.
func ParseChannel(name string) (Channel, error) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

func sampleValues(m telemetry.MessageModel) [numChannels]float64 {
	return [numChannels]float64{
		Time:          m.TimeSeconds,
		SledCurrent:   m.SledCurrent,
		SledTemp:      m.SledTemp,
		TECCurrent:    m.TECCurrent,
		PhotoCurrent:  m.PhotoCurrentUA,
		SagPower:      m.SagPowerV,
		SldPower:      m.SldPowerUW,
		CaseTemp:      m.CaseTemp,
		OpAmpTemp:     m.OpAmpTemp,
		SupplyVoltage: m.SupplyVoltage,
		ADCCountI:     m.ADCCountI,
		ADCCountQ:     m.ADCCountQ,
	}
}

// Buffer is a fixed-capacity multi-channel ring of telemetry samples. All
// channels share one cursor, so a sample is always read back whole.
type Buffer struct {
	mu       sync.Mutex
	data     [numChannels][]float64
	capacity int
	cursor   int // next slot to overwrite once wrapped
	wrapped  bool
}

// NewBuffer returns a buffer holding at most capacity samples. A non-positive
// capacity selects DefaultMaxPoints.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultMaxPoints
	}
	b := &Buffer{capacity: capacity}
	for i := range b.data {
		b.data[i] = make([]float64, 0, capacity)
	}
	return b
}

// Add records one sample, overwriting the oldest once the buffer is full.
func (b *Buffer) Add(m telemetry.MessageModel) {
	v := sampleValues(m)

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data[Time]) < b.capacity {
		for i := range b.data {
			b.data[i] = append(b.data[i], v[i])
		}
		return
	}

	b.wrapped = true
	idx := b.cursor % b.capacity
	for i := range b.data {
		b.data[i][idx] = v[i]
	}
	b.cursor = (idx + 1) % b.capacity
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.data {
		b.data[i] = b.data[i][:0]
	}
	b.cursor = 0
	b.wrapped = false
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data[Time])
}

func (b *Buffer) HasData() bool { return b.Len() > 0 }

func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// chronoLocked copies one channel oldest-first.
func (b *Buffer) chronoLocked(c Channel) []float64 {
	src := b.data[c]
	out := make([]float64, 0, len(src))
	if !b.wrapped {
		return append(out, src...)
	}
	out = append(out, src[b.cursor:]...)
	return append(out, src[:b.cursor]...)
}

func (b *Buffer) latestIndexLocked() int {
	n := len(b.data[Time])
	if n == 0 {
		return -1
	}
	if b.wrapped {
		return (b.cursor - 1 + n) % n
	}
	return n - 1
}

// Vector returns channel c in chronological order.
func (b *Buffer) Vector(c Channel) []float64 {
	if c < 0 || c >= numChannels {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chronoLocked(c)
}

// Snapshot returns every channel in chronological order under one lock.
func (b *Buffer) Snapshot() map[Channel][]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[Channel][]float64, numChannels)
	for i := range b.data {
		out[Channel(i)] = b.chronoLocked(Channel(i))
	}
	return out
}

func (b *Buffer) TimeVector() []float64          { return b.Vector(Time) }
func (b *Buffer) SledCurrentVector() []float64   { return b.Vector(SledCurrent) }
func (b *Buffer) SledTempVector() []float64      { return b.Vector(SledTemp) }
func (b *Buffer) TECCurrentVector() []float64    { return b.Vector(TECCurrent) }
func (b *Buffer) PhotoCurrentVector() []float64  { return b.Vector(PhotoCurrent) }
func (b *Buffer) SagPowerVector() []float64      { return b.Vector(SagPower) }
func (b *Buffer) SldPowerVector() []float64      { return b.Vector(SldPower) }
func (b *Buffer) CaseTempVector() []float64      { return b.Vector(CaseTemp) }
func (b *Buffer) OpAmpTempVector() []float64     { return b.Vector(OpAmpTemp) }
func (b *Buffer) SupplyVoltageVector() []float64 { return b.Vector(SupplyVoltage) }
func (b *Buffer) ADCCountIVector() []float64     { return b.Vector(ADCCountI) }
func (b *Buffer) ADCCountQVector() []float64     { return b.Vector(ADCCountQ) }

// LatestTime returns the timestamp of the newest sample, or 0 when empty.
func (b *Buffer) LatestTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.latestIndexLocked()
	if i < 0 {
		return 0
	}
	return b.data[Time][i]
}

// TimeWindow returns (latest-window, latest); an empty buffer yields (0, window).
func (b *Buffer) TimeWindow(window float64) (float64, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.latestIndexLocked()
	if i < 0 {
		return 0, window
	}
	latest := b.data[Time][i]
	return latest - window, latest
}

// SetMaxPoints changes the capacity. Shrinking keeps the newest samples in
// order; the ring is linearized either way.
func (b *Buffer) SetMaxPoints(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.data {
		chrono := b.chronoLocked(Channel(i))
		if len(chrono) > n {
			chrono = chrono[len(chrono)-n:]
		}
		ch := make([]float64, len(chrono), n)
		copy(ch, chrono)
		b.data[i] = ch
	}
	b.capacity = n
	b.cursor = 0
	b.wrapped = false
	return nil
}

// DataStats summarises one channel. Min, Max and Mean cover the finite
// values only; Skipped counts the NaN and infinite ones. Latest is the last
// element as recorded.
type DataStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Latest  float64 `json:"latest"`
	Count   int     `json:"count"`
	Skipped int     `json:"skipped"`
}

// StatsOf computes min, max, mean and the last element of data. Empty input
// yields the zero value, and so do Min, Max and Mean when no value is finite.
func StatsOf(data []float64) DataStats {
	if len(data) == 0 {
		return DataStats{}
	}
	s := DataStats{Latest: data[len(data)-1], Count: len(data)}
	sum := 0.0
	finite := 0
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s.Skipped++
			continue
		}
		if finite == 0 || v < s.Min {
			s.Min = v
		}
		if finite == 0 || v > s.Max {
			s.Max = v
		}
		sum += v
		finite++
	}
	if finite > 0 {
		s.Mean = sum / float64(finite)
	}
	return s
}

func (b *Buffer) Stats(c Channel) DataStats {
	return StatsOf(b.Vector(c))
}
