// Package gatewayhttp wires the forwarding pipeline and gateway state into
// HTTP routers: one per client-facing dialect, plus an admin router serving
// health, stats, metrics, and live status.
package gatewayhttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/flemzord/llmgate/internal/forward"
	"github.com/flemzord/llmgate/internal/gwconfig"
)

// permissiveCORS mirrors back any Origin with no credential restrictions,
// so any client-side SDK (browser-based or not) can reach the gateway
// directly without a proxy of its own.
func permissiveCORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// NewDialectRouter builds the chi router for one client-facing dialect
// listener. Every path under it is forwarded through pipeline; the dialect
// itself, not the request path, decides which providers are eligible.
func NewDialectRouter(pipeline *forward.Pipeline, api gwconfig.ApiType) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(permissiveCORS())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if pipeline.ListenerEnabled(api) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pipeline.ServeDialect(w, r, api)
	}))

	return r
}
