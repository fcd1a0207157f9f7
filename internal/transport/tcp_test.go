package transport_test

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/komcat/SiphogAdapter/internal/transport"
)

func TestListenTCP_AcceptAndSend(t *testing.T) {
	l, err := transport.ListenTCP("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer l.Close()

	conn, ok, err := l.Accept()
	if err != nil || ok || conn != nil {
		t.Fatalf("Accept with no client = %v, %v, %v", conn, ok, err)
	}

	client, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server transport.Conn
	deadline := time.Now().Add(2 * time.Second)
	for server == nil && time.Now().Before(deadline) {
		c, ok, err := l.Accept()
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if ok {
			server = c
		}
	}
	if server == nil {
		t.Fatal("client never accepted")
	}
	defer server.Close()

	if server.ClientInfo() != client.LocalAddr().String() {
		t.Errorf("ClientInfo = %q, want %q", server.ClientInfo(), client.LocalAddr())
	}

	if _, err := server.Send([]byte("1.000000,2.000000\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "1.000000,2.000000\n" {
		t.Errorf("line = %q", line)
	}
}

func TestListenTCP_AcceptAfterClose(t *testing.T) {
	l, err := transport.ListenTCP("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	_ = l.Close()

	if _, ok, err := l.Accept(); err == nil || ok {
		t.Errorf("Accept after Close = %v, %v, want error", ok, err)
	}
}

func TestListenTCP_PortInUse(t *testing.T) {
	l, err := transport.ListenTCP("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer l.Close()

	_, port, _ := net.SplitHostPort(l.Addr())
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("port %q: %v", port, err)
	}
	if _, err := transport.ListenTCP("127.0.0.1", p); err == nil {
		t.Error("second listener on the same port succeeded")
	}
}
