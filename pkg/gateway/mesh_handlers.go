package gateway

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/address"
	"github.com/ipv7net/mesh/pkg/httputil"
	"github.com/ipv7net/mesh/pkg/logging"
	"github.com/ipv7net/mesh/pkg/node"
)

// peerEntry is the JSON rendering of one peer table row.
type peerEntry struct {
	Address      address.Address `json:"address"`
	LastSeen     time.Time       `json:"last_seen"`
	Capabilities string          `json:"capabilities"`
	Endpoints    []string        `json:"endpoints"`
	Reputation   int             `json:"reputation"`
	Geohash      string          `json:"geohash,omitempty"`
}

// peersHandler handles GET /v1/peers. ?limit=N caps the list size.
func (g *Gateway) peersHandler(w http.ResponseWriter, r *http.Request) {
	peers := g.node.GetPeers()
	if limit := httputil.QueryParamInt(r, "limit", 0); limit > 0 && limit < len(peers) {
		peers = peers[:limit]
	}

	entries := make([]peerEntry, 0, len(peers))
	for _, p := range peers {
		entries = append(entries, peerEntry{
			Address:      p.Address,
			LastSeen:     p.LastSeen,
			Capabilities: p.Capabilities.String(),
			Endpoints:    p.Endpoints,
			Reputation:   p.Reputation,
			Geohash:      p.Geohash,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"count": len(entries),
		"peers": entries,
	})
}

// routesHandler handles GET /v1/routes.
func (g *Gateway) routesHandler(w http.ResponseWriter, r *http.Request) {
	routes := g.node.GetRoutes()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"count":  len(routes),
		"routes": routes,
	})
}

// addressHandler handles GET /v1/address. The raw form is included so the
// exact 20 wire bytes can be pasted into other tooling.
func (g *Gateway) addressHandler(w http.ResponseWriter, r *http.Request) {
	addr := g.node.Address()
	raw := addr.Serialize()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"address":    addr.String(),
		"node_id":    addr.NodeID().String(),
		"proximity":  addr.Proximity(),
		"raw_base64": httputil.EncodeBase64(raw[:]),
		"endpoints":  g.node.LocalEndpoints(),
	})
}

// sendHandler handles POST /v1/send {destination, payload_base64, ack}.
// The destination is an address in base58 string form.
func (g *Gateway) sendHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Destination string `json:"destination"`
		PayloadB64  string `json:"payload_base64"`
		Ack         bool   `json:"ack"`
	}
	if err := httputil.DecodeJSONStrict(r, &body); err != nil || body.Destination == "" {
		httputil.WriteError(w, http.StatusBadRequest, "invalid body: expected {destination,payload_base64}")
		return
	}

	dst, err := address.Parse(body.Destination)
	if err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	payload, err := httputil.DecodeBase64(body.PayloadB64)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid base64 payload")
		return
	}

	opts := node.SendOptions{RequestAck: body.Ack}
	if err := g.node.SendWithOptions(r.Context(), dst, payload, opts); err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "Send failed",
			zap.String("destination", dst.ShortString()),
			zap.Error(err))
		httputil.WriteErrorFrom(w, err)
		return
	}

	httputil.WriteSuccessWithData(w, map[string]any{
		"destination": dst.String(),
		"bytes":       len(payload),
	})
}

// connectHandler handles POST /v1/connect {endpoint}. It announces this
// node to the peer at the given transport endpoint.
func (g *Gateway) connectHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Endpoint string `json:"endpoint"`
	}
	if err := httputil.DecodeJSONStrict(r, &body); err != nil || body.Endpoint == "" {
		httputil.WriteError(w, http.StatusBadRequest, "invalid body: expected {endpoint}")
		return
	}

	if err := g.node.ConnectToPeer(r.Context(), body.Endpoint); err != nil {
		httputil.WriteErrorFrom(w, err)
		return
	}
	httputil.WriteSuccess(w)
}
