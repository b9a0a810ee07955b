package gatewayhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/llmgate/internal/forward"
	"github.com/flemzord/llmgate/internal/gwconfig"
	"github.com/flemzord/llmgate/internal/statusevents"
)

// AdminDeps are the pieces the admin router needs beyond the forwarding
// pipeline: the live status bus to rebroadcast over the websocket endpoint,
// and the config path so validated edits can be persisted.
type AdminDeps struct {
	Pipeline   *forward.Pipeline
	Bus        *statusevents.Bus
	ConfigPath string
	Logger     *slog.Logger
}

// NewAdminRouter builds the admin listener: health, JSON stats, Prometheus
// metrics, a live status websocket, and read/validate/reload of the config
// file.
func NewAdminRouter(deps AdminDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(permissiveCORS())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		cfg := deps.Pipeline.Config()
		resp := map[string]any{
			"anthropic_enabled": cfg.AnthropicEnabled,
			"responses_enabled": cfg.ResponsesEnabled,
			"chat_enabled":      cfg.ChatEnabled,
			"fallback_enabled":  cfg.FallbackEnabled,
			"cache_enabled":     cfg.CacheEnabled,
			"provider_count":    len(cfg.Providers),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))

	r.Get("/ws/status", func(w http.ResponseWriter, r *http.Request) {
		serveStatusWebSocket(w, r, deps.Bus, logger)
	})

	r.Route("/config", func(cr chi.Router) {
		cr.Get("/", func(w http.ResponseWriter, r *http.Request) {
			cfg := deps.Pipeline.Config()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(redactedConfig(cfg))
		})
		cr.Post("/validate", func(w http.ResponseWriter, r *http.Request) {
			var cfg gwconfig.GatewayConfig
			if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
				http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
				return
			}
			if err := gwconfig.Validate(cfg); err != nil {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
		cr.Post("/reload", func(w http.ResponseWriter, r *http.Request) {
			cfg, err := gwconfig.Load(deps.ConfigPath)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if err := gwconfig.Validate(cfg); err != nil {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			deps.Pipeline.UpdateConfig(cfg)
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}

func redactedConfig(cfg gwconfig.GatewayConfig) gwconfig.GatewayConfig {
	out := cfg
	out.Providers = make([]gwconfig.Provider, len(cfg.Providers))
	for i, p := range cfg.Providers {
		p.APIKey = ""
		out.Providers[i] = p
	}
	return out
}

func serveStatusWebSocket(w http.ResponseWriter, r *http.Request, bus *statusevents.Bus, logger *slog.Logger) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("admin: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson(writeCtx, conn, ev)
			cancel()
			if err != nil {
				logger.Debug("admin: websocket write failed, closing", "error", err)
				return
			}
		}
	}
}

func wsjson(ctx context.Context, conn *websocket.Conn, ev statusevents.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
