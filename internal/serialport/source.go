package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/telemetry.capture/internal/fault"
	"github.com/banshee-data/telemetry.capture/internal/monitoring"
)

const (
	// DefaultReadTimeout bounds each ReadChunk call on a real port.
	DefaultReadTimeout = time.Second

	// ChunkSize is the largest chunk returned by a single read.
	ChunkSize = 4096
)

// Source yields raw bytes from the link. ReadChunk blocks for at most the
// configured read timeout and returns an empty chunk, not an error, when
// nothing arrived. io.EOF marks the end of a finite source.
type Source interface {
	ReadChunk(ctx context.Context) ([]byte, error)
	Close() error
}

// PortSource reads chunks from a SerialPorter.
type PortSource struct {
	port SerialPorter
	name string
	buf  []byte
}

// NewPortSource wraps port. When the port supports it the read timeout is
// applied so that reads return periodically and cancellation is observed.
func NewPortSource(port SerialPorter, name string, readTimeout time.Duration) (*PortSource, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if tp, ok := port.(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(readTimeout); err != nil {
			return nil, fault.New(fault.PortError, fmt.Errorf("set read timeout on %s: %w", name, err))
		}
	}
	return &PortSource{port: port, name: name, buf: make([]byte, ChunkSize)}, nil
}

// Open opens the device at path through factory and wraps it as a Source.
// Every failure is a fault.PortError.
func Open(factory SerialPortFactory, path string, opts PortOptions, readTimeout time.Duration) (*PortSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fault.New(fault.PortError, fmt.Errorf("serial options for %s: %w", path, err))
	}
	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, fault.New(fault.PortError, fmt.Errorf("open %s: %w", path, err))
	}
	src, err := NewPortSource(port, path, readTimeout)
	if err != nil {
		port.Close()
		return nil, err
	}
	monitoring.Logf("opened serial port %s (%s)", path, opts)
	return src, nil
}

// ReadChunk performs one read. The returned slice is owned by the caller.
func (s *PortSource) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := s.port.Read(s.buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, s.buf[:n])
		// bytes read alongside an error are delivered first
		return chunk, nil
	}
	if err == nil {
		return []byte{}, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	return nil, fault.New(fault.PortError, fmt.Errorf("read %s: %w", s.name, err))
}

// Close closes the underlying port.
func (s *PortSource) Close() error {
	return s.port.Close()
}
