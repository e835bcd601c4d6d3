// Package serial provides the byte transport a CAN29 bus runs over.
package serial

import (
	"errors"
	"io"
	"time"
)

// Port is the transport the bus dispatcher owns. This abstraction allows for
// different implementations:
// - Native serial (using github.com/tarm/serial)
// - In-memory pipe (for tests and the device simulator)
//
// Read returns whatever bytes are available; it may return 0, nil when the
// port's read timeout expires. Any error from Read or Write is a link fault.
type Port interface {
	io.ReadWriteCloser

	// Purge discards unread input and unsent output.
	Purge() error
}

// ErrClosed is returned by operations on a closed port.
var ErrClosed = errors.New("serial: port closed")

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string `yaml:"device"`

	// Baud rate
	Baud int `yaml:"baud"`

	// ReadTimeout bounds each Read so the receive loop can observe shutdown
	// (0 = blocking)
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// Defaults for CAN29 serial interfaces
const (
	DefaultBaud        = 57600
	DefaultReadTimeout = 100 * time.Millisecond
)

// DefaultConfig returns a default configuration for device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
	}
}
