// Package sensor turns raw ADC counts into calibrated physical values.
// Battery and external voltages come out in millivolts, temperature in
// degrees; all three share the same linear per-channel model.
package sensor

import (
	"github.com/jbaumann/attiny-daemon/types"
)

// NumMeasurements is how many raw conversions are averaged per sample.
// Anything above 4 suppresses single-sample noise well enough; the cost is
// a few extra conversion cycles per tick.
const NumMeasurements = 5

// Sensor samples and calibrates the three monitored channels.
type Sensor struct {
	adc types.ADC
}

func New(adc types.ADC) *Sensor {
	return &Sensor{adc: adc}
}

// Raw averages NumMeasurements conversions on ch.
func (s *Sensor) Raw(ch types.Channel) uint16 {
	var sum uint32
	for i := 0; i < NumMeasurements; i++ {
		sum += uint32(s.adc.ReadRaw(ch))
	}
	return uint16(sum / NumMeasurements)
}

// Sample reads ch and applies cal. The result saturates at the int16
// bounds; no reading is ever an error.
func (s *Sensor) Sample(ch types.Channel, cal types.Calibration) int16 {
	return cal.Apply(s.Raw(ch))
}

// Plausible reports whether a calibrated value can be trusted for
// threshold decisions. A saturated result usually means a floating input
// or a broken divider; treating it as "condition not met" keeps a single
// bad sample from shutting the host down.
func Plausible(v int16) bool {
	return v > -32768 && v < 32767
}
