//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipv7net/mesh/pkg/config"
	"github.com/ipv7net/mesh/pkg/gateway"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/node"
	"github.com/ipv7net/mesh/pkg/transport/memory"
)

// freePort reserves an ephemeral localhost port and releases it for the
// gateway to claim.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// startGateway serves a node's diagnostics API on a real listener and
// shuts it down with the test.
func startGateway(t *testing.T, n *node.Node) string {
	t.Helper()

	addr := freePort(t)
	logger, err := logging.NewColoredLogger(logging.ComponentGateway, false)
	require.NoError(t, err)

	gw, err := gateway.New(logger, &config.GatewayConfig{Enabled: true, ListenAddr: addr}, n)
	require.NoError(t, err)
	require.NotNil(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := gw.Start(ctx); err != nil {
			t.Errorf("gateway terminated: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	base := "http://" + addr
	waitUntil(t, 5*time.Second, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "gateway never came up")

	return base
}

func getDocument(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc
}

func TestE2E_Gateway_StatusOverRealListener(t *testing.T) {
	hub := memory.NewHub()
	a := startNode(t, hub, "a")
	b := startNode(t, hub, "b")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.ConnectToPeer(ctx, "mem://b"))
	waitUntil(t, 5*time.Second, func() bool { return hasPeer(a, b.Address()) },
		"nodes never met")

	base := startGateway(t, a)

	status := getDocument(t, base+"/v1/status")
	require.Contains(t, status, "server")
	require.Contains(t, status, "node")
	require.Contains(t, status, "system")

	nodeDoc, ok := status["node"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "running", nodeDoc["state"])
	assert.Equal(t, a.Address().String(), nodeDoc["address"])
	assert.Equal(t, float64(1), nodeDoc["peers"])

	peersDoc := getDocument(t, base+"/v1/peers")
	assert.Equal(t, float64(1), peersDoc["count"])

	addrDoc := getDocument(t, base+"/v1/address")
	assert.Equal(t, a.Address().String(), addrDoc["address"])
}

func TestE2E_Gateway_SendInjectsPacket(t *testing.T) {
	hub := memory.NewHub()
	a := startNode(t, hub, "a")
	b := startNode(t, hub, "b")

	got := &collector{}
	b.OnMessage(got.deliver)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.ConnectToPeer(ctx, "mem://b"))
	waitUntil(t, 5*time.Second, func() bool { return hasPeer(a, b.Address()) },
		"nodes never met")

	base := startGateway(t, a)

	payload := "over the wire"
	body, err := json.Marshal(map[string]any{
		"destination":    b.Address().String(),
		"payload_base64": base64.StdEncoding.EncodeToString([]byte(payload)),
	})
	require.NoError(t, err)

	resp, err := http.Post(base+"/v1/send", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	waitUntil(t, 5*time.Second, func() bool { return got.has(payload) },
		"injected packet never delivered")

	from, ok := got.sourceOf(payload)
	require.True(t, ok)
	assert.True(t, from.Equal(a.Address()))
}

func TestE2E_Gateway_ErrorsCarryCodes(t *testing.T) {
	hub := memory.NewHub()
	a := startNode(t, hub, "a")

	base := startGateway(t, a)

	body := []byte(`{"destination": "not-an-address", "payload_base64": "aGk="}`)
	resp, err := http.Post(base+"/v1/send", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "ADDR_MALFORMED", doc["code"])
	assert.NotEmpty(t, fmt.Sprint(doc["error"]))
}
