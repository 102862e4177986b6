package core

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// PeripheralPorter is the interface for a serial-attached peripheral port
// (stage, shutter or filter wheel controller). Implementations include real
// serial ports and in-memory mocks for tests.
type PeripheralPorter interface {
	io.ReadWriteCloser
}

// PortOptions holds the serial parameters for a peripheral controller.
type PortOptions struct {
	BaudRate int
	DataBits int
	StopBits serial.StopBits
	Parity   serial.Parity
}

// DefaultPortOptions matches the common configuration of ASCII stage
// controllers: 115200 8N1.
func DefaultPortOptions() PortOptions {
	return PortOptions{
		BaudRate: 115200,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
}

// Normalize fills zero values with defaults and validates the rest.
func (o *PortOptions) Normalize() error {
	def := DefaultPortOptions()
	if o.BaudRate == 0 {
		o.BaudRate = def.BaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = def.DataBits
	}
	if o.BaudRate < 0 {
		return fmt.Errorf("core: invalid baud rate %d", o.BaudRate)
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return fmt.Errorf("core: invalid data bits %d", o.DataBits)
	}
	return nil
}

// OpenPeripheralPort opens a real serial port for a peripheral controller.
func OpenPeripheralPort(device string, opts PortOptions) (PeripheralPorter, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: opts.StopBits,
		Parity:   opts.Parity,
	})
	if err != nil {
		return nil, fmt.Errorf("open peripheral port %q: %w", device, err)
	}
	return port, nil
}
