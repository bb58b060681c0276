// Package record decodes frame payloads into telemetry records.
//
// Two payload shapes exist and the shape in use is fixed by configuration;
// it is never inferred from the bytes. All integers are little-endian.
//
//	sample vector: u32 count, count × 3 bytes (b0 b1 b2, big-endian 24-bit)
//	score vector:  u32 count, count × float32
//
//	single-channel: u8 classification_active, u32 channel,
//	                inputs (sample vector), classification (score vector)
//	dual-channel:   inputs_ch0, inputs_ch1 (sample vectors),
//	                classification_ch0, classification_ch1 (score vectors)
package record

import (
	"fmt"
	"strings"
)

// Variant selects the payload schema.
type Variant int

const (
	// UnknownVariant is the zero value and is rejected by Decode.
	UnknownVariant Variant = iota
	SingleChannel
	DualChannel
)

func (v Variant) String() string {
	switch v {
	case SingleChannel:
		return "single"
	case DualChannel:
		return "dual"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant parses a configured variant name.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "single-channel", "single_channel":
		return SingleChannel, nil
	case "dual", "dual-channel", "dual_channel":
		return DualChannel, nil
	default:
		return UnknownVariant, fmt.Errorf("unknown record variant %q: expected single or dual", s)
	}
}

// RawSample holds the three big-endian bytes of one 24-bit ADC reading.
type RawSample [3]uint8

// Measurement returns the unsigned 24-bit reading.
func (s RawSample) Measurement() uint32 {
	return uint32(s[0])<<16 | uint32(s[1])<<8 | uint32(s[2])
}

// Single is the single-channel record shape.
type Single struct {
	ClassificationActive bool
	Channel              uint32
	Inputs               []RawSample
	Classification       []float32
}

// Dual is the dual-channel record shape.
type Dual struct {
	InputsCh0         []RawSample
	InputsCh1         []RawSample
	ClassificationCh0 []float32
	ClassificationCh1 []float32
}

// Record is one decoded payload. Exactly one of Single and Dual is set,
// matching Variant. Records own their slices and are not modified after
// decoding.
type Record struct {
	Variant Variant
	Single  *Single
	Dual    *Dual
}

// Channels returns the raw sample sequences in channel order.
func (r Record) Channels() [][]RawSample {
	switch r.Variant {
	case SingleChannel:
		if r.Single != nil {
			return [][]RawSample{r.Single.Inputs}
		}
	case DualChannel:
		if r.Dual != nil {
			return [][]RawSample{r.Dual.InputsCh0, r.Dual.InputsCh1}
		}
	}
	return nil
}

// Scores returns the classification sequences in channel order.
func (r Record) Scores() [][]float32 {
	switch r.Variant {
	case SingleChannel:
		if r.Single != nil {
			return [][]float32{r.Single.Classification}
		}
	case DualChannel:
		if r.Dual != nil {
			return [][]float32{r.Dual.ClassificationCh0, r.Dual.ClassificationCh1}
		}
	}
	return nil
}
