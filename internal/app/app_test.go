package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/komcat/SiphogAdapter/internal/config"
	"github.com/komcat/SiphogAdapter/internal/transport/transporttest"
)

func pickFreeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		AppEnv:           "prod",
		HTTPAddr:         pickFreeAddr(t),
		SerialPort:       "/dev/ttyUSB0",
		SerialBaud:       691200,
		SledCurrentMA:    150,
		TemperatureC:     25,
		BroadcastEnabled: true,
		BroadcastHost:    "127.0.0.1",
		BroadcastPort:    65432,
		ChartMaxPoints:   100,
		ExportDir:        t.TempDir(),
		Uplink:           config.UplinkNone,
	}
}

func waitForOK(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", url)
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	opener := transporttest.NewOpener()
	port := opener.Add(cfg.SerialPort)
	listener := transporttest.NewListener("fake:65432")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, hardware{opener: opener, listen: listener.Listen()})
	}()

	base := "http://" + cfg.HTTPAddr
	waitForOK(t, base+"/healthz")

	resp, err := http.Get(base + "/api/v1/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var body struct {
		Device struct {
			Connected bool   `json:"connected"`
			Port      string `json:"port"`
		} `json:"device"`
		Server struct {
			State string `json:"state"`
		} `json:"server"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Device.Connected || body.Device.Port != cfg.SerialPort {
		t.Errorf("device = %+v", body.Device)
	}
	if body.Server.State != "listening" {
		t.Errorf("server state = %q", body.Server.State)
	}
	if port.Baud() != cfg.SerialBaud {
		t.Errorf("opened at %d baud", port.Baud())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	if !port.Closed() {
		t.Error("serial port left open after shutdown")
	}
}

func TestRun_MissingDeviceKeepsServing(t *testing.T) {
	cfg := testConfig(t)
	cfg.BroadcastEnabled = false
	opener := transporttest.NewOpener()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, hardware{opener: opener}) }()

	waitForOK(t, "http://"+cfg.HTTPAddr+"/healthz")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestRun_HTTPListenFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.SerialPort = ""

	l, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), cfg, hardware{opener: transporttest.NewOpener(), listen: transporttest.NewListener("fake:1").Listen()})
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected listen error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}
