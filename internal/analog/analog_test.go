package analog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/telemetry.capture/internal/record"
)

func TestConvert_KnownPoints(t *testing.T) {
	cal := DefaultCalibration()

	tests := []struct {
		name   string
		sample record.RawSample
		want   float64
	}{
		{"zero reading", record.RawSample{0, 0, 0}, -625.0},
		{"midpoint", record.RawSample{0x80, 0x00, 0x00}, 0.0},
		{"full scale", record.RawSample{0xFF, 0xFF, 0xFF}, 624.9999},
		{"one lsb above midpoint", record.RawSample{0x80, 0x00, 0x01}, 0.0001},
		{"quarter scale", record.RawSample{0x40, 0x00, 0x00}, -312.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Convert(tt.sample, cal), 1e-9)
		})
	}
}

func TestConvert_IsPure(t *testing.T) {
	cal := DefaultCalibration()
	s := record.RawSample{0x12, 0x34, 0x56}
	first := Convert(s, cal)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Convert(s, cal))
	}
}

func TestMillivolts_Unrounded(t *testing.T) {
	cal := DefaultCalibration()
	full := Millivolts(record.RawSample{0xFF, 0xFF, 0xFF}, cal)
	assert.InDelta(t, 625.0*(1-math.Pow(2, -23)), full, 1e-9)
	assert.Less(t, full, 625.0)
}

func TestConvert_CustomCalibration(t *testing.T) {
	cal := Calibration{DataBits: 1 << 23, VRef: 3.3, Gain: 1}
	assert.InDelta(t, -3300.0, Convert(record.RawSample{0, 0, 0}, cal), 1e-9)
}

func TestConvertAll_PreservesOrder(t *testing.T) {
	cal := DefaultCalibration()
	in := []record.RawSample{{0, 0, 0}, {0x80, 0, 0}, {0x40, 0, 0}}
	assert.Equal(t, []float64{-625, 0, -312.5}, ConvertAll(in, cal))
	assert.Empty(t, ConvertAll(nil, cal))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.235, Round(1.23456, 3))
	assert.Equal(t, -1.235, Round(-1.23456, 3))
	assert.Equal(t, 0.0, Round(-0.00001, 4))
	assert.False(t, math.Signbit(Round(-0.00001, 4)))
	assert.True(t, math.IsNaN(Round(math.NaN(), 2)))
}

func TestRoundScores(t *testing.T) {
	assert.Equal(t, []float64{1.5, 0.333, -2}, RoundScores([]float32{1.5, 1.0 / 3, -2}))
}

func TestCalibrationValidate(t *testing.T) {
	require.NoError(t, DefaultCalibration().Validate())

	err := Calibration{DataBits: 0, VRef: -1, Gain: math.NaN()}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "databits")
	assert.Contains(t, err.Error(), "vref")
	assert.Contains(t, err.Error(), "gain")
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	one := Summarize([]float64{-625})
	assert.Equal(t, Summary{Count: 1, Min: -625, Max: -625, Mean: -625}, one)

	s := Summarize([]float64{1, 2, 3, 4})
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), s.StdDev, 1e-12)
}
