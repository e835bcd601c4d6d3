//go:build !wasm

package bus

import (
	"fmt"

	"can29/host/serial"
)

// Open opens the serial device described by portCfg and starts a bus on it.
func Open(portCfg *serial.Config, cfg Config) (*Bus, error) {
	port, err := serial.Open(portCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	b := New(port, cfg)
	if err := b.Start(); err != nil {
		port.Close()
		return nil, err
	}
	return b, nil
}
