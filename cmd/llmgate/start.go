package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flemzord/llmgate/internal/breaker"
	"github.com/flemzord/llmgate/internal/cache"
	"github.com/flemzord/llmgate/internal/cron"
	"github.com/flemzord/llmgate/internal/dblog"
	"github.com/flemzord/llmgate/internal/forward"
	"github.com/flemzord/llmgate/internal/gatewayhttp"
	"github.com/flemzord/llmgate/internal/gwconfig"
	"github.com/flemzord/llmgate/internal/security"
	"github.com/flemzord/llmgate/internal/statusevents"
	"github.com/flemzord/llmgate/internal/stats"
)

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway's dialect and admin listeners",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				resolved, err := resolveConfigPath()
				if err != nil {
					return err
				}
				cfgPath = resolved
			}
			return run(cfgPath)
		},
	}
	return cmd
}

func run(cfgPath string) error {
	cfg, err := gwconfig.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := gwconfig.Validate(cfg); err != nil {
		return err
	}

	credentials := security.NewCredentialStore()
	redactor := security.NewRedactor()
	for _, p := range cfg.Providers {
		if p.APIKey != "" {
			credentials.Set(p.ID, p.APIKey)
		}
	}
	redactor.SyncCredentials(credentials)

	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(security.NewRedactingHandler(baseHandler, redactor))
	slog.SetDefault(logger)

	dataDir := defaultDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	cacheMgr := cache.NewManager(cfg.CacheMaxEntries, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	statsMgr := stats.NewManager(dataDir, logger)
	breakerTrk := breaker.NewTracker(time.Duration(cfg.CircuitBreakerCooldownSeconds) * time.Second)
	bus := statusevents.NewBus()

	store, err := dblog.Open(filepath.Join(dataDir, "requests.db"))
	if err != nil {
		return fmt.Errorf("opening request log: %w", err)
	}
	defer store.Close()

	pipeline := forward.New(cfg, cacheMgr, statsMgr, breakerTrk, bus, credentials, store, logger)

	scheduler := cron.NewScheduler(logger)
	if err := scheduler.RegisterJob(cron.NewCacheJanitorJob(cacheMgr)); err != nil {
		return err
	}
	if err := scheduler.RegisterJob(cron.NewRequestLogPruneJob(store, 30*24*time.Hour)); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	servers := buildServers(cfg, pipeline, bus, cfgPath, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			logger.Info("llmgate: listener starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("llmgate: listener failed", "addr", srv.Addr, "error", err)
			}
		}(srv)
	}

	<-ctx.Done()
	logger.Info("llmgate: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	_ = scheduler.Stop(shutdownCtx)
	wg.Wait()
	return nil
}

func buildServers(cfg gwconfig.GatewayConfig, pipeline *forward.Pipeline, bus *statusevents.Bus, cfgPath string, logger *slog.Logger) []*http.Server {
	var servers []*http.Server

	listener := func(enabled bool, port int, api gwconfig.ApiType) {
		if !enabled {
			return
		}
		servers = append(servers, &http.Server{
			Addr:    net.JoinHostPort("0.0.0.0", fmt.Sprintf("%d", port)),
			Handler: gatewayhttp.NewDialectRouter(pipeline, api),
		})
	}
	listener(cfg.AnthropicEnabled, cfg.AnthropicPort, gwconfig.ApiTypeAnthropic)
	listener(cfg.ResponsesEnabled, cfg.ResponsesPort, gwconfig.ApiTypeOpenAIResponses)
	listener(cfg.ChatEnabled, cfg.ChatPort, gwconfig.ApiTypeOpenAIChat)

	adminPort := adminPortFor(cfg)
	servers = append(servers, &http.Server{
		Addr: net.JoinHostPort("0.0.0.0", fmt.Sprintf("%d", adminPort)),
		Handler: gatewayhttp.NewAdminRouter(gatewayhttp.AdminDeps{
			Pipeline:   pipeline,
			Bus:        bus,
			ConfigPath: cfgPath,
			Logger:     logger,
		}),
	})

	return servers
}

// adminPortFor picks a port one above the highest configured dialect port,
// keeping the admin listener out of the way of any of the three dialects
// without requiring its own config field for the common case.
func adminPortFor(cfg gwconfig.GatewayConfig) int {
	highest := cfg.AnthropicPort
	for _, p := range []int{cfg.ResponsesPort, cfg.ChatPort} {
		if p > highest {
			highest = p
		}
	}
	return highest + 1
}
