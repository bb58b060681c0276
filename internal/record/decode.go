package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/telemetry.capture/internal/fault"
)

const (
	sampleSize = 3
	scoreSize  = 4
	countSize  = 4
)

var (
	// ErrDecode is matched by every error Decode returns.
	ErrDecode = errors.New("record: decode failed")

	ErrUnknownVariant = errors.New("unknown variant")
	ErrTruncated      = errors.New("payload truncated")
	ErrVectorTooLong  = errors.New("vector length exceeds remaining bytes")
	ErrTrailingBytes  = errors.New("unconsumed trailing bytes")
)

// Decode interprets payload according to variant. It never panics; any
// structural inconsistency is returned as a fault.DecodeError wrapping
// ErrDecode and one of the specific sentinels.
func Decode(payload []byte, variant Variant) (Record, error) {
	r := reader{buf: payload}

	var rec Record
	switch variant {
	case SingleChannel:
		s := &Single{}
		s.ClassificationActive = r.u8("classification_active") != 0
		s.Channel = r.u32("channel")
		s.Inputs = r.samples("inputs")
		s.Classification = r.scores("classification")
		rec = Record{Variant: SingleChannel, Single: s}
	case DualChannel:
		d := &Dual{}
		d.InputsCh0 = r.samples("inputs_ch0")
		d.InputsCh1 = r.samples("inputs_ch1")
		d.ClassificationCh0 = r.scores("classification_ch0")
		d.ClassificationCh1 = r.scores("classification_ch1")
		rec = Record{Variant: DualChannel, Dual: d}
	default:
		return Record{}, decodeError(fmt.Errorf("%w: %s", ErrUnknownVariant, variant))
	}

	if r.err != nil {
		return Record{}, decodeError(r.err)
	}
	if rest := len(r.buf) - r.off; rest != 0 {
		return Record{}, decodeError(fmt.Errorf("%w: %d bytes after offset %d", ErrTrailingBytes, rest, r.off))
	}
	return rec, nil
}

func decodeError(err error) error {
	return fault.New(fault.DecodeError, fmt.Errorf("%w: %w", ErrDecode, err))
}

// reader is a bounds-checked cursor. After the first error every read is a
// no-op returning zero values, so decoders can read unconditionally and check
// err once.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n uint64, field string) bool {
	if r.err != nil {
		return false
	}
	if n > uint64(len(r.buf)-r.off) {
		r.err = fmt.Errorf("%w: %s needs %d bytes at offset %d, %d left",
			ErrTruncated, field, n, r.off, len(r.buf)-r.off)
		return false
	}
	return true
}

func (r *reader) u8(field string) uint8 {
	if !r.need(1, field) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

// count reads a vector length and verifies the vector fits in what remains.
func (r *reader) count(field string, elemSize uint64) int {
	n := r.u32(field + " count")
	if r.err != nil {
		return 0
	}
	remaining := uint64(len(r.buf) - r.off)
	if uint64(n)*elemSize > remaining {
		r.err = fmt.Errorf("%w: %s claims %d elements (%d bytes) at offset %d, %d left",
			ErrVectorTooLong, field, n, uint64(n)*elemSize, r.off, remaining)
		return 0
	}
	return int(n)
}

func (r *reader) samples(field string) []RawSample {
	n := r.count(field, sampleSize)
	if r.err != nil {
		return nil
	}
	out := make([]RawSample, n)
	for i := range out {
		copy(out[i][:], r.buf[r.off:r.off+sampleSize])
		r.off += sampleSize
	}
	return out
}

func (r *reader) scores(field string) []float32 {
	n := r.count(field, scoreSize)
	if r.err != nil {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.buf[r.off:]))
		r.off += scoreSize
	}
	return out
}
