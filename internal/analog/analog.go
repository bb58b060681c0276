// Package analog converts raw 24-bit ADC samples into calibrated millivolts.
package analog

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/telemetry.capture/internal/record"
)

const (
	DefaultDataBits = 1 << 23
	DefaultVRef     = 2.5 // volts
	DefaultGain     = 4.0

	// SampleDigits and ScoreDigits are the decimal places kept in output.
	SampleDigits = 4
	ScoreDigits  = 3
)

// Calibration holds the front-end parameters used to scale raw readings.
type Calibration struct {
	DataBits float64 `json:"databits" yaml:"databits" toml:"databits"`
	VRef     float64 `json:"vref" yaml:"vref" toml:"vref"`
	Gain     float64 `json:"gain" yaml:"gain" toml:"gain"`
}

// DefaultCalibration returns databits 2^23, 2.5 V reference and gain 4.
func DefaultCalibration() Calibration {
	return Calibration{DataBits: DefaultDataBits, VRef: DefaultVRef, Gain: DefaultGain}
}

// Validate rejects parameters that would divide by zero or flip sign.
func (c Calibration) Validate() error {
	var errs []error
	if !(c.DataBits > 0) {
		errs = append(errs, fmt.Errorf("databits must be positive, got %v", c.DataBits))
	}
	if !(c.VRef > 0) {
		errs = append(errs, fmt.Errorf("vref must be positive, got %v", c.VRef))
	}
	if !(c.Gain > 0) {
		errs = append(errs, fmt.Errorf("gain must be positive, got %v", c.Gain))
	}
	return errors.Join(errs...)
}

// Millivolts returns the unrounded voltage of s:
//
//	normalized = measurement/databits - 1
//	mV         = normalized * vref / gain * 1000
func Millivolts(s record.RawSample, c Calibration) float64 {
	normalized := float64(s.Measurement())/c.DataBits - 1
	return normalized * c.VRef / c.Gain * 1000
}

// Convert returns the voltage of s in millivolts rounded to SampleDigits.
// Rounding happens only here, on the final value.
func Convert(s record.RawSample, c Calibration) float64 {
	return Round(Millivolts(s, c), SampleDigits)
}

// ConvertAll converts samples in order.
func ConvertAll(samples []record.RawSample, c Calibration) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = Convert(s, c)
	}
	return out
}

// RoundScores widens classification scores to float64 and rounds them to
// ScoreDigits.
func RoundScores(scores []float32) []float64 {
	out := make([]float64, len(scores))
	for i, f := range scores {
		out[i] = Round(float64(f), ScoreDigits)
	}
	return out
}

// Round rounds v to the given number of decimal places, halves away from zero.
func Round(v float64, digits int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow10(digits)
	r := math.Round(v*p) / p
	if r == 0 {
		return 0 // no negative zero in output
	}
	return r
}

// Summary describes one converted sequence.
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Summarize computes min, max, mean and sample standard deviation of mv.
// An empty input yields a zero Summary.
func Summarize(mv []float64) Summary {
	if len(mv) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(mv, nil)
	if len(mv) == 1 {
		std = 0
	}
	return Summary{
		Count:  len(mv),
		Min:    floats.Min(mv),
		Max:    floats.Max(mv),
		Mean:   mean,
		StdDev: std,
	}
}
