package record

import (
	"encoding/binary"
	"math"
)

// Encode serializes rec in the payload layout Decode expects. It is used by
// the capture generator and tests; the device is the only production writer.
func Encode(rec Record) []byte {
	var out []byte
	switch rec.Variant {
	case SingleChannel:
		s := rec.Single
		if s == nil {
			s = &Single{}
		}
		active := byte(0)
		if s.ClassificationActive {
			active = 1
		}
		out = append(out, active)
		out = binary.LittleEndian.AppendUint32(out, s.Channel)
		out = appendSamples(out, s.Inputs)
		out = appendScores(out, s.Classification)
	case DualChannel:
		d := rec.Dual
		if d == nil {
			d = &Dual{}
		}
		out = appendSamples(out, d.InputsCh0)
		out = appendSamples(out, d.InputsCh1)
		out = appendScores(out, d.ClassificationCh0)
		out = appendScores(out, d.ClassificationCh1)
	}
	return out
}

func appendSamples(out []byte, samples []RawSample) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(samples)))
	for _, s := range samples {
		out = append(out, s[:]...)
	}
	return out
}

func appendScores(out []byte, scores []float32) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(scores)))
	for _, f := range scores {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}
