// Package serialport provides the byte source for the capture pipeline: a
// serial device opened through go.bug.st/serial, or a replay of a recorded
// capture file for development.
package serialport

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.Reader
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortFactory defines an interface for creating serial ports.
type SerialPortFactory interface {
	// Open opens a serial port at the specified path with the given mode.
	Open(path string, mode *serial.Mode) (SerialPorter, error)
}

// RealSerialPortFactory opens hardware ports with go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns a factory for real serial devices.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens path with mode. A nil mode uses the default options.
func (f *RealSerialPortFactory) Open(path string, mode *serial.Mode) (SerialPorter, error) {
	if mode == nil {
		var err error
		mode, err = PortOptions{}.SerialMode()
		if err != nil {
			return nil, err
		}
	}
	return serial.Open(path, mode)
}
