package transport

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

const DefaultReadTimeout = 500 * time.Millisecond

// SerialOpener opens real serial ports in 8N1 mode.
type SerialOpener struct {
	ReadTimeout time.Duration
}

func (o SerialOpener) Open(name string, baud int) (Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %s: %w", name, DescribeError(err), err)
	}

	timeout := o.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return port, nil
}

func (SerialOpener) List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	return ports, nil
}

// DescribeError turns a serial library error code into a short operator-facing
// reason. Errors that do not come from the serial library are described as
// generic I/O failures.
func DescribeError(err error) string {
	code, ok := portErrorCode(err)
	if !ok {
		return "i/o error"
	}
	switch code {
	case serial.PortNotFound:
		return "port not found"
	case serial.PortBusy:
		return "port busy"
	case serial.PermissionDenied:
		return "permission denied"
	case serial.InvalidSpeed:
		return "unsupported baud rate"
	case serial.PortClosed:
		return "port closed"
	case serial.InvalidSerialPort:
		return "not a serial port"
	case serial.ErrorEnumeratingPorts:
		return "cannot enumerate ports"
	default:
		return "serial error"
	}
}

// IsDisconnect reports whether err means the device went away, as opposed to
// a configuration or permission problem.
func IsDisconnect(err error) bool {
	code, ok := portErrorCode(err)
	if !ok {
		return false
	}
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}

func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var ptr *serial.PortError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code(), true
	}
	var val serial.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}
