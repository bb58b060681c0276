package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/telemetry.capture/internal/fault"
	"github.com/banshee-data/telemetry.capture/internal/fsutil"
)

// ReplaySource plays back a raw capture file as if it arrived on the link.
// Chunks are at most ChunkSize bytes and, when Interval is set, are spaced
// Interval apart.
type ReplaySource struct {
	f         io.ReadCloser
	name      string
	chunkSize int
	interval  time.Duration
	buf       []byte
	started   bool
}

// ReplayOption configures a ReplaySource.
type ReplayOption func(*ReplaySource)

// WithChunkSize limits the bytes returned per ReadChunk.
func WithChunkSize(n int) ReplayOption {
	return func(r *ReplaySource) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithInterval delays each chunk after the first by d.
func WithInterval(d time.Duration) ReplayOption {
	return func(r *ReplaySource) { r.interval = d }
}

// OpenReplay opens path on fsys for playback.
func OpenReplay(fsys fsutil.FileSystem, path string, opts ...ReplayOption) (*ReplaySource, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fault.New(fault.PortError, fmt.Errorf("open replay %s: %w", path, err))
	}
	return NewReplaySource(f, path, opts...), nil
}

// NewReplaySource plays back r.
func NewReplaySource(r io.ReadCloser, name string, opts ...ReplayOption) *ReplaySource {
	rs := &ReplaySource{f: r, name: name, chunkSize: ChunkSize}
	for _, o := range opts {
		o(rs)
	}
	rs.buf = make([]byte, rs.chunkSize)
	return rs
}

// ReadChunk returns the next chunk of the file, or io.EOF once exhausted.
func (r *ReplaySource) ReadChunk(ctx context.Context) ([]byte, error) {
	if r.interval > 0 && r.started {
		t := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.started = true
	n, err := r.f.Read(r.buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, r.buf[:n])
		return chunk, nil
	}
	switch {
	case err == nil:
		return []byte{}, nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, fault.New(fault.PortError, fmt.Errorf("read replay %s: %w", r.name, err))
	}
}

// Close closes the capture file.
func (r *ReplaySource) Close() error {
	return r.f.Close()
}
