package tcp

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ipv7net/mesh/pkg/errors"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/transport"
)

type recorder struct {
	mu           sync.Mutex
	packets      [][]byte
	froms        []string
	connected    []string
	disconnected []string
}

func (r *recorder) onPacket(data []byte, from string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, data)
	r.froms = append(r.froms, from)
}

func (r *recorder) PeerConnected(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, endpoint)
}

func (r *recorder) PeerDisconnected(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, endpoint)
}

func (r *recorder) wait(t *testing.T, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		ok := pred()
		r.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func startTransport(t *testing.T, rec *recorder) *Transport {
	t.Helper()
	logger, err := logging.NewDefaultLogger(logging.ComponentTransport)
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}

	tr := New(Config{ListenAddr: "127.0.0.1:0"}, logger)
	if rec != nil {
		tr.SetPacketHandler(rec.onPacket)
		tr.SetConnHandler(rec)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestSendReceive(t *testing.T) {
	recA, recB := &recorder{}, &recorder{}
	a := startTransport(t, recA)
	b := startTransport(t, recB)

	ctx := context.Background()
	payload := []byte("framed over tcp")
	if err := b.Send(ctx, payload, a.LocalEndpoints()[0]); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	recA.wait(t, "inbound packet", func() bool { return len(recA.packets) == 1 })
	recA.mu.Lock()
	got, from := recA.packets[0], recA.froms[0]
	recA.mu.Unlock()
	if !bytes.Equal(got, payload) {
		t.Errorf("Expected payload to survive framing, got %q", got)
	}

	// Reply over the same inbound connection.
	if err := a.Send(ctx, []byte("reply"), from); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	recB.wait(t, "reply packet", func() bool { return len(recB.packets) == 1 })
	recB.mu.Lock()
	defer recB.mu.Unlock()
	if string(recB.packets[0]) != "reply" {
		t.Errorf("Expected reply payload, got %q", recB.packets[0])
	}
	if recB.froms[0] != a.LocalEndpoints()[0] {
		t.Errorf("Expected reply from %s, got %s", a.LocalEndpoints()[0], recB.froms[0])
	}
}

func TestLargeFrame(t *testing.T) {
	rec := &recorder{}
	a := startTransport(t, rec)
	b := startTransport(t, nil)

	payload := bytes.Repeat([]byte{0xAB}, 16*1024)
	if err := b.Send(context.Background(), payload, a.LocalEndpoints()[0]); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	rec.wait(t, "large frame", func() bool { return len(rec.packets) == 1 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !bytes.Equal(rec.packets[0], payload) {
		t.Errorf("Expected 16KiB frame to survive")
	}
}

func TestConnEvents(t *testing.T) {
	recA, recB := &recorder{}, &recorder{}
	a := startTransport(t, recA)
	b := startTransport(t, recB)

	if err := b.Send(context.Background(), []byte("x"), a.LocalEndpoints()[0]); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	recB.wait(t, "dial event", func() bool { return len(recB.connected) == 1 })
	recA.wait(t, "accept event", func() bool { return len(recA.connected) == 1 })

	b.Close()
	recA.wait(t, "disconnect event", func() bool { return len(recA.disconnected) == 1 })
}

func TestSendRejectsForeignScheme(t *testing.T) {
	a := startTransport(t, nil)
	err := a.Send(context.Background(), []byte("x"), "mem://other")
	if !errors.IsTransport(err) {
		t.Errorf("Expected Transport error for foreign scheme, got %v", err)
	}
}

func TestSendUnreachable(t *testing.T) {
	a := startTransport(t, nil)
	b := startTransport(t, nil)
	dead := b.LocalEndpoints()[0]
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Send(ctx, []byte("x"), dead); !errors.IsPeerUnreachable(err) {
		t.Errorf("Expected PeerUnreachable for dead endpoint, got %v", err)
	}
}

func TestSendRejectsOversizeFrame(t *testing.T) {
	a := startTransport(t, nil)
	err := a.Send(context.Background(), make([]byte, transport.MaxFrameSize+1), "tcp://127.0.0.1:1")
	if !errors.IsTransport(err) {
		t.Errorf("Expected Transport error for oversize frame, got %v", err)
	}
}
