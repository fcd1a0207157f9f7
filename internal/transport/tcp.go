package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	acceptWait   = 10 * time.Millisecond
	writeTimeout = 2 * time.Second
)

type tcpListener struct {
	l *net.TCPListener
}

// ListenTCP binds a TCP listener on host:port. Port 0 picks a free port.
func ListenTCP(host string, port int) (Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &tcpListener{l: l}, nil
}

func (t *tcpListener) Accept() (Conn, bool, error) {
	if err := t.l.SetDeadline(time.Now().Add(acceptWait)); err != nil {
		return nil, false, err
	}
	c, err := t.l.AcceptTCP()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, false, nil
		}
		return nil, false, err
	}
	_ = c.SetNoDelay(true)
	return &tcpConn{c: c}, true, nil
}

func (t *tcpListener) Addr() string { return t.l.Addr().String() }

func (t *tcpListener) Close() error { return t.l.Close() }

type tcpConn struct {
	c *net.TCPConn
}

func (t *tcpConn) Send(p []byte) (int, error) {
	if err := t.c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, err
	}
	return t.c.Write(p)
}

func (t *tcpConn) Close() error { return t.c.Close() }

func (t *tcpConn) ClientInfo() string { return t.c.RemoteAddr().String() }
