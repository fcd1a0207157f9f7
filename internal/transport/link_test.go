package transport_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/komcat/SiphogAdapter/internal/transport"
	"github.com/komcat/SiphogAdapter/internal/transport/transporttest"
)

type sink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *sink) write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(p)
}

func (s *sink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLink_ReadsIntoSink(t *testing.T) {
	opener := transporttest.NewOpener()
	port := opener.Add("/dev/ttyUSB0")

	var s sink
	link := transport.NewLink(opener, s.write)
	if err := link.Open("/dev/ttyUSB0", 691200); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close()

	if !link.IsOpen() || link.Name() != "/dev/ttyUSB0" || link.Baud() != 691200 {
		t.Fatalf("IsOpen=%v Name=%q Baud=%d", link.IsOpen(), link.Name(), link.Baud())
	}
	if port.Baud() != 691200 {
		t.Errorf("port opened at %d baud", port.Baud())
	}

	// More than one read chunk.
	payload := bytes.Repeat([]byte{0x01, 0x02, 0x03}, 200)
	port.Push(payload)

	eventually(t, "all bytes delivered", func() bool { return len(s.bytes()) == len(payload) })
	if !bytes.Equal(s.bytes(), payload) {
		t.Error("sink received different bytes")
	}
	if in, _ := link.Counters(); in != uint64(len(payload)) {
		t.Errorf("bytes in = %d, want %d", in, len(payload))
	}
}

func TestLink_WriteAndClose(t *testing.T) {
	opener := transporttest.NewOpener()
	port := opener.Add("COM3")
	link := transport.NewLink(opener, nil)

	if _, err := link.Write([]byte{1}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("write before open err = %v, want ErrClosed", err)
	}

	if err := link.Open("COM3", 115200); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := link.Open("COM3", 115200); !errors.Is(err, transport.ErrAlreadyOpen) {
		t.Errorf("second Open err = %v, want ErrAlreadyOpen", err)
	}

	if n, err := link.Write([]byte{0xC5, 0x50}); err != nil || n != 2 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if got := port.Writes(); len(got) != 1 || !bytes.Equal(got[0], []byte{0xC5, 0x50}) {
		t.Errorf("port writes = %v", got)
	}

	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if link.IsOpen() || !port.Closed() {
		t.Errorf("after Close IsOpen=%v port closed=%v", link.IsOpen(), port.Closed())
	}
	if _, err := link.Write([]byte{1}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("write after close err = %v, want ErrClosed", err)
	}
	if err := link.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLink_OpenFailure(t *testing.T) {
	opener := transporttest.NewOpener()
	link := transport.NewLink(opener, nil)

	if err := link.Open("missing", 9600); !errors.Is(err, transporttest.ErrNoSuchPort) {
		t.Fatalf("err = %v, want ErrNoSuchPort", err)
	}
	if link.IsOpen() {
		t.Error("link open after failed Open")
	}
}

func TestLink_ReadErrorReleasesPort(t *testing.T) {
	opener := transporttest.NewOpener()
	port := opener.Add("ttyACM0")

	errCh := make(chan error, 1)
	link := transport.NewLink(opener, nil, transport.WithErrorHandler(func(err error) { errCh <- err }))
	if err := link.Open("ttyACM0", 691200); err != nil {
		t.Fatalf("Open: %v", err)
	}

	unplugged := errors.New("device unplugged")
	port.FailRead(unplugged)

	select {
	case err := <-errCh:
		if !errors.Is(err, unplugged) {
			t.Errorf("handler err = %v, want wrapped unplugged", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error handler not called")
	}

	eventually(t, "link closed", func() bool { return !link.IsOpen() })
	if !port.Closed() {
		t.Error("port not released after read error")
	}

	// The link can be reopened after a failure.
	if err := link.Open("ttyACM0", 691200); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if opener.Opens() != 2 {
		t.Errorf("opens = %d, want 2", opener.Opens())
	}
}

func TestDescribeError(t *testing.T) {
	if got := transport.DescribeError(errors.New("eio")); got != "i/o error" {
		t.Errorf("DescribeError = %q", got)
	}
	if transport.IsDisconnect(errors.New("eio")) {
		t.Error("plain error reported as disconnect")
	}
}
