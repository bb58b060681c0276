// Package frame locates and extracts length-prefixed telemetry frames from an
// unbounded, possibly corrupted serial byte stream.
//
// Wire layout of one frame:
//
//	+------+------+----------------+---------------------+
//	| 0xAA | 0xAA | length (u32 LE)| payload (length B)  |
//	+------+------+----------------+---------------------+
//
// The Synchronizer only searches for the marker between frames. Once a length
// field has been accepted the payload is opaque, so marker bytes inside a
// payload never terminate or resynchronize the frame.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/banshee-data/telemetry.capture/internal/fault"
)

const (
	MarkerSize     = 2
	LengthSize     = 4
	MinPayloadSize = 24
	MaxPayloadSize = 1024

	// MaxUnsyncedBytes caps the buffer while no marker is present. Exceeding it
	// clears the buffer entirely.
	MaxUnsyncedBytes = 2048
)

// Marker is the two-byte synchronization sequence preceding every frame.
var Marker = []byte{0xAA, 0xAA}

var (
	ErrSyncLost      = errors.New("frame: no marker within buffer cap")
	ErrInvalidLength = errors.New("frame: length field out of range")
	ErrPayloadSize   = errors.New("frame: payload size out of range")
)

type syncState int

const (
	// hunting: looking for the next marker.
	hunting syncState = iota
	// aligned: the marker has been consumed and the buffer starts at a length
	// field (possibly incomplete).
	aligned
)

// Stats counts synchronizer activity since construction or the last Reset.
type Stats struct {
	Frames         uint64
	SyncLosses     uint64
	InvalidLengths uint64
	// DiscardedBytes counts bytes dropped as garbage, excluding markers and
	// frames that were emitted.
	DiscardedBytes uint64
}

// Synchronizer accumulates byte chunks and emits complete frame payloads.
// It is not safe for concurrent use; the capture loop is its only caller.
type Synchronizer struct {
	buf   []byte
	off   int // consumed prefix of buf
	state syncState
	stats Stats
}

// NewSynchronizer returns an empty Synchronizer.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{buf: make([]byte, 0, MaxUnsyncedBytes+MaxPayloadSize)}
}

// Feed appends chunk to the accumulation buffer and returns every payload that
// became complete, in arrival order, along with the recoverable faults
// (fault.SyncLoss, fault.FrameSizeInvalid) observed while scanning. Returned
// payloads are owned by the caller.
func (s *Synchronizer) Feed(chunk []byte) (payloads [][]byte, faults []error) {
	s.compact()
	s.buf = append(s.buf, chunk...)

	for {
		if s.state == hunting {
			pending := s.pending()
			m := bytes.Index(pending, Marker)
			if m < 0 {
				if len(pending) > MaxUnsyncedBytes {
					faults = append(faults, fault.New(fault.SyncLoss,
						fmt.Errorf("%w: dropped %d bytes", ErrSyncLost, len(pending))))
					s.stats.SyncLosses++
					s.discard(len(pending))
				}
				return payloads, faults
			}
			s.discard(m)
			s.consume(MarkerSize)
			s.state = aligned
		}

		pending := s.pending()
		if len(pending) < LengthSize {
			return payloads, faults
		}

		length := binary.LittleEndian.Uint32(pending[:LengthSize])
		if length < MinPayloadSize || length > MaxPayloadSize {
			faults = append(faults, fault.New(fault.FrameSizeInvalid,
				fmt.Errorf("%w: %d", ErrInvalidLength, length)))
			s.stats.InvalidLengths++
			s.discard(1)
			s.state = hunting
			continue
		}

		total := LengthSize + int(length)
		if len(pending) < total {
			return payloads, faults
		}

		payload := make([]byte, length)
		copy(payload, pending[LengthSize:total])
		s.consume(total)
		s.stats.Frames++
		s.state = hunting
		payloads = append(payloads, payload)
	}
}

// Buffered returns the number of bytes held awaiting a complete frame.
func (s *Synchronizer) Buffered() int {
	return len(s.buf) - s.off
}

// Stats returns a copy of the synchronizer counters.
func (s *Synchronizer) Stats() Stats {
	return s.stats
}

// Reset drops any buffered bytes and returns to marker hunting. Counters are
// cleared as well.
func (s *Synchronizer) Reset() {
	s.buf = s.buf[:0]
	s.off = 0
	s.state = hunting
	s.stats = Stats{}
}

func (s *Synchronizer) pending() []byte {
	return s.buf[s.off:]
}

// discard drops n garbage bytes from the front of the buffer.
func (s *Synchronizer) discard(n int) {
	s.stats.DiscardedBytes += uint64(n)
	s.consume(n)
}

// consume advances the read cursor. Memory is reclaimed lazily by compact so
// dropping a prefix never copies.
func (s *Synchronizer) consume(n int) {
	s.off += n
	if s.off >= len(s.buf) {
		s.buf = s.buf[:0]
		s.off = 0
	}
}

// compact moves the live tail to the front once the dead prefix is at least as
// large as it, keeping the amortized cost of each discard constant.
func (s *Synchronizer) compact() {
	if s.off == 0 || s.off < len(s.buf)-s.off {
		return
	}
	n := copy(s.buf, s.buf[s.off:])
	s.buf = s.buf[:n]
	s.off = 0
}

// Encode builds the wire representation of payload: marker, little-endian
// length and the payload bytes.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) < MinPayloadSize || len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadSize, len(payload))
	}
	out := make([]byte, 0, MarkerSize+LengthSize+len(payload))
	out = append(out, Marker...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...), nil
}
