package gateway

import (
	"net/http"
	"time"

	"github.com/ipv7net/mesh/pkg/httputil"
)

// healthResponse is the JSON structure used by healthHandler.
type healthResponse struct {
	Status    string    `json:"status"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		State:     g.node.State().String(),
		StartedAt: g.startedAt,
		Uptime:    time.Since(g.startedAt).String(),
	})
}

// statusHandler aggregates gateway uptime, the node's counters and the
// sampled system usage gauges.
func (g *Gateway) statusHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"server": map[string]any{
			"started_at": g.startedAt,
			"uptime":     time.Since(g.startedAt).String(),
		},
		"node":   g.node.GetStats(),
		"system": g.sys.snapshot(),
	})
}
