package sink

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/banshee-data/telemetry.capture/internal/record"
)

// TimestampLayout is used for the timestamp column and field.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Calibrated is one decoded record together with its converted values, ready
// to be written.
type Calibrated struct {
	// Timestamp is when the frame was received.
	Timestamp time.Time
	// Session identifies the capture run.
	Session string
	Record  record.Record
	// Voltages holds millivolts per channel, in Record.Channels order.
	Voltages [][]float64
	// Scores holds rounded classification scores per channel.
	Scores [][]float64
}

type singleDocument struct {
	Timestamp            string             `json:"timestamp"`
	Session              string             `json:"session,omitempty"`
	Variant              string             `json:"variant"`
	ClassificationActive bool               `json:"classification_active"`
	Channel              uint32             `json:"channel"`
	Inputs               []record.RawSample `json:"inputs"`
	Calibrated           values             `json:"calibrated"`
	Classification       values             `json:"classification"`
}

type dualDocument struct {
	Timestamp         string             `json:"timestamp"`
	Session           string             `json:"session,omitempty"`
	Variant           string             `json:"variant"`
	InputsCh0         []record.RawSample `json:"inputs_ch0"`
	InputsCh1         []record.RawSample `json:"inputs_ch1"`
	CalibratedCh0     values             `json:"calibrated_ch0"`
	CalibratedCh1     values             `json:"calibrated_ch1"`
	ClassificationCh0 values             `json:"classification_ch0"`
	ClassificationCh1 values             `json:"classification_ch1"`
}

func (c Calibrated) timestamp() string {
	return c.Timestamp.UTC().Format(TimestampLayout)
}

func (c Calibrated) single() singleDocument {
	d := singleDocument{
		Timestamp:      c.timestamp(),
		Session:        c.Session,
		Variant:        record.SingleChannel.String(),
		Inputs:         []record.RawSample{},
		Calibrated:     channel(c.Voltages, 0),
		Classification: channel(c.Scores, 0),
	}
	if s := c.Record.Single; s != nil {
		d.ClassificationActive = s.ClassificationActive
		d.Channel = s.Channel
		d.Inputs = nonNilSamples(s.Inputs)
	}
	return d
}

func (c Calibrated) dual() dualDocument {
	d := dualDocument{
		Timestamp:         c.timestamp(),
		Session:           c.Session,
		Variant:           record.DualChannel.String(),
		InputsCh0:         []record.RawSample{},
		InputsCh1:         []record.RawSample{},
		CalibratedCh0:     channel(c.Voltages, 0),
		CalibratedCh1:     channel(c.Voltages, 1),
		ClassificationCh0: channel(c.Scores, 0),
		ClassificationCh1: channel(c.Scores, 1),
	}
	if dl := c.Record.Dual; dl != nil {
		d.InputsCh0 = nonNilSamples(dl.InputsCh0)
		d.InputsCh1 = nonNilSamples(dl.InputsCh1)
	}
	return d
}

func channel(vs [][]float64, i int) values {
	if i < len(vs) && vs[i] != nil {
		return vs[i]
	}
	return values{}
}

// values is a sequence of converted numbers. A score decoded from the wire
// may be NaN or infinite; those are written as null in JSON documents and as
// NaN, +Inf or -Inf in tabular cells.
type values []float64

func (v values) MarshalJSON() ([]byte, error) {
	return v.appendTo(nil, func(f float64) string { return "null" })
}

// cell renders v as a JSON-style array for one CSV cell.
func (v values) cell() (string, error) {
	b, err := v.appendTo(nil, func(f float64) string {
		switch {
		case math.IsNaN(f):
			return "NaN"
		case f > 0:
			return "+Inf"
		default:
			return "-Inf"
		}
	})
	return string(b), err
}

func (v values) appendTo(b []byte, nonFinite func(float64) string) ([]byte, error) {
	b = append(b, '[')
	for i, f := range v {
		if i > 0 {
			b = append(b, ',')
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			b = append(b, nonFinite(f)...)
			continue
		}
		enc, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		b = append(b, enc...)
	}
	return append(b, ']'), nil
}

func nonNilSamples(s []record.RawSample) []record.RawSample {
	if s == nil {
		return []record.RawSample{}
	}
	return s
}

// MarshalJSON renders the record as a flat JSON object whose keys follow the
// record's variant.
func (c Calibrated) MarshalJSON() ([]byte, error) {
	if c.Record.Variant == record.SingleChannel {
		return json.Marshal(c.single())
	}
	return json.Marshal(c.dual())
}

// header returns the tabular column names for a variant.
func header(v record.Variant) []string {
	if v == record.SingleChannel {
		return []string{"timestamp", "session", "classification_active", "channel", "inputs", "calibrated", "classification"}
	}
	return []string{"timestamp", "session", "inputs_ch0", "inputs_ch1", "calibrated_ch0", "calibrated_ch1", "classification_ch0", "classification_ch1"}
}

// row returns the tabular cells for c. Sequences are JSON-encoded so each
// fits one cell.
func (c Calibrated) row() ([]string, error) {
	var cells []string
	var samples []any
	var vals []values
	if c.Record.Variant == record.SingleChannel {
		d := c.single()
		cells = []string{d.Timestamp, d.Session, formatBool(d.ClassificationActive), formatUint(d.Channel)}
		samples = []any{d.Inputs}
		vals = []values{d.Calibrated, d.Classification}
	} else {
		d := c.dual()
		cells = []string{d.Timestamp, d.Session}
		samples = []any{d.InputsCh0, d.InputsCh1}
		vals = []values{d.CalibratedCh0, d.CalibratedCh1, d.ClassificationCh0, d.ClassificationCh1}
	}
	for _, s := range samples {
		b, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		cells = append(cells, string(b))
	}
	for _, v := range vals {
		cell, err := v.cell()
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatUint(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
