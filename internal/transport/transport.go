// Package transport holds the byte-level adapters the core talks to: the
// serial link to the device and the TCP socket used by the broadcast server.
package transport

import "errors"

var (
	ErrClosed      = errors.New("transport is closed")
	ErrAlreadyOpen = errors.New("transport is already open")
)

// Port is an open byte stream to the device. Read returns (0, nil) when the
// read timeout elapses without data.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens ports by name and enumerates the ones present.
type Opener interface {
	Open(name string, baud int) (Port, error)
	List() ([]string, error)
}

// Listener is a server socket with a non-blocking accept: ok is false when no
// connection is pending.
type Listener interface {
	Accept() (conn Conn, ok bool, err error)
	Addr() string
	Close() error
}

// Conn is one accepted client.
type Conn interface {
	Send(p []byte) (int, error)
	Close() error
	ClientInfo() string
}

// ListenFunc creates a Listener bound to host:port.
type ListenFunc func(host string, port int) (Listener, error)
