package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/logging"
)

// Routes returns the handler with all endpoints and middleware configured.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(g.requestLogger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", g.healthHandler)
		r.Get("/v1/status", g.statusHandler)
		r.Get("/v1/address", g.addressHandler)
		r.Get("/v1/peers", g.peersHandler)
		r.Get("/v1/routes", g.routesHandler)
		r.Post("/v1/send", g.sendHandler)
		r.Post("/v1/connect", g.connectHandler)
	})

	// The event stream holds its connection open past any REST deadline.
	r.Get("/v1/events", g.eventsHandler)

	return r
}

// requestLogger logs basic request info and duration.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.logger.ComponentInfo(logging.ComponentGateway, "request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("duration", time.Since(start).String()),
		)
	})
}
