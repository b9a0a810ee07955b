// Package stats aggregates per-request telemetry into rolling latency
// percentiles, a recent-request ring buffer, and hourly activity buckets,
// persisting the aggregate to a JSON sidecar after every recorded request.
package stats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	maxLatencySamples  = 100
	maxRecentRequests  = 50
	maxHourlyBuckets   = 24
	unhealthyThreshold = 3
)

// RequestLog records the outcome of one forwarded attempt.
type RequestLog struct {
	ID           string `json:"id"`
	Timestamp    int64  `json:"timestamp"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Status       int    `json:"status"`
	DurationMS   int64  `json:"duration_ms"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Path         string `json:"path"`
	ClientAgent  string `json:"client_agent"`
	APIType      string `json:"api_type"`
	Cached       bool   `json:"cached"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ProviderStats aggregates telemetry for a single provider.
type ProviderStats struct {
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`

	TotalRequests      uint64 `json:"total_requests"`
	SuccessfulRequests uint64 `json:"successful_requests"`
	FailedRequests     uint64 `json:"failed_requests"`

	AvgLatencyMS float64 `json:"avg_latency_ms"`
	MinLatencyMS int64   `json:"min_latency_ms"`
	MaxLatencyMS int64   `json:"max_latency_ms"`
	P50LatencyMS int64   `json:"p50_latency_ms"`
	P95LatencyMS int64   `json:"p95_latency_ms"`
	P99LatencyMS int64   `json:"p99_latency_ms"`

	TotalInputTokens  uint64 `json:"total_input_tokens"`
	TotalOutputTokens uint64 `json:"total_output_tokens"`
	TotalCost         float64 `json:"total_cost"`

	LastSuccessAt       int64  `json:"last_success_at,omitempty"`
	LastFailureAt       int64  `json:"last_failure_at,omitempty"`
	LastErrorMessage    string `json:"last_error_message,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	IsHealthy           bool   `json:"is_healthy"`

	latencySamples []int64
}

func newProviderStats(id, name string) *ProviderStats {
	return &ProviderStats{
		ProviderID:   id,
		ProviderName: name,
		IsHealthy:    true,
	}
}

func (p *ProviderStats) recordRequest(success bool, latencyMS int64, inputTokens, outputTokens int, cost float64, timestamp int64, errMsg string) {
	p.TotalRequests++

	if success {
		p.SuccessfulRequests++
		p.LastSuccessAt = timestamp
		p.ConsecutiveFailures = 0
		p.IsHealthy = true

		p.latencySamples = append(p.latencySamples, latencyMS)
		if len(p.latencySamples) > maxLatencySamples {
			p.latencySamples = p.latencySamples[1:]
		}
		p.updateLatencyStats()
	} else {
		p.FailedRequests++
		p.LastFailureAt = timestamp
		p.LastErrorMessage = errMsg
		p.ConsecutiveFailures++
		if p.ConsecutiveFailures >= unhealthyThreshold {
			p.IsHealthy = false
		}
	}

	p.TotalInputTokens += uint64(inputTokens)
	p.TotalOutputTokens += uint64(outputTokens)
	p.TotalCost += cost
}

func (p *ProviderStats) updateLatencyStats() {
	if len(p.latencySamples) == 0 {
		return
	}
	sorted := append([]int64(nil), p.latencySamples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	var sum int64
	for _, v := range sorted {
		sum += v
	}

	p.MinLatencyMS = sorted[0]
	p.MaxLatencyMS = sorted[n-1]
	p.AvgLatencyMS = float64(sum) / float64(n)
	p.P50LatencyMS = sorted[n/2]
	p.P95LatencyMS = sorted[percentileIndex(n, 0.95)]
	p.P99LatencyMS = sorted[percentileIndex(n, 0.99)]
}

// percentileIndex mirrors the original tool's clamp-to-last-element
// behavior: (n*q) truncated, capped at n-1 so p99 never indexes past the
// end of a small sample set.
func percentileIndex(n int, q float64) int {
	idx := int(float64(n) * q)
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// SuccessRate returns the percentage of successful requests, or 100 if no
// requests have been recorded yet.
func (p *ProviderStats) SuccessRate() float64 {
	if p.TotalRequests == 0 {
		return 100
	}
	return float64(p.SuccessfulRequests) / float64(p.TotalRequests) * 100
}

// HourlyStat is one hour-aligned activity bucket.
type HourlyStat struct {
	Timestamp    int64   `json:"timestamp"`
	Requests     uint32  `json:"requests"`
	InputTokens  uint32  `json:"input_tokens"`
	OutputTokens uint32  `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// GatewayStats is the full aggregate persisted to the JSON sidecar.
type GatewayStats struct {
	TotalRequests     uint64  `json:"total_requests"`
	TotalInputTokens  uint64  `json:"total_input_tokens"`
	TotalOutputTokens uint64  `json:"total_output_tokens"`
	TotalCost         float64 `json:"total_cost"`
	CacheHits         uint64  `json:"cache_hits"`
	CacheMisses       uint64  `json:"cache_misses"`

	AnthropicRequests uint64 `json:"anthropic_requests"`
	ResponsesRequests uint64 `json:"responses_requests"`
	ChatRequests      uint64 `json:"chat_requests"`

	ProviderStats map[string]*ProviderStats `json:"provider_stats"`
	RecentRequests []RequestLog             `json:"recent_requests"`
	HourlyActivity []HourlyStat             `json:"hourly_activity"`
}

func newGatewayStats() *GatewayStats {
	return &GatewayStats{ProviderStats: make(map[string]*ProviderStats)}
}

// Manager owns the gateway's aggregate stats and persists them to a JSON
// sidecar file after every recorded request.
type Manager struct {
	mu       sync.Mutex
	stats    *GatewayStats
	filePath string
	logger   *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewManager creates a Manager backed by <dataDir>/gateway_stats.json,
// loading any existing sidecar. A missing or corrupt sidecar falls back to
// an empty aggregate, matching the original tool's best-effort load.
func NewManager(dataDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	path := filepath.Join(dataDir, "gateway_stats.json")

	stats := newGatewayStats()
	if data, err := os.ReadFile(path); err == nil {
		loaded := newGatewayStats()
		if jsonErr := json.Unmarshal(data, loaded); jsonErr == nil {
			stats = loaded
			if stats.ProviderStats == nil {
				stats.ProviderStats = make(map[string]*ProviderStats)
			}
		} else {
			logger.Warn("stats: discarding unreadable sidecar", "path", path, "error", jsonErr)
		}
	}

	return &Manager{
		stats:    stats,
		filePath: path,
		logger:   logger,
		now:      time.Now,
	}
}

// Snapshot returns a deep copy of the current aggregate.
func (m *Manager) Snapshot() GatewayStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := *m.stats
	out.ProviderStats = make(map[string]*ProviderStats, len(m.stats.ProviderStats))
	for k, v := range m.stats.ProviderStats {
		cp := *v
		out.ProviderStats[k] = &cp
	}
	out.RecentRequests = append([]RequestLog(nil), m.stats.RecentRequests...)
	out.HourlyActivity = append([]HourlyStat(nil), m.stats.HourlyActivity...)
	return out
}

// RecordRequest folds log into the aggregate — global counters, the
// per-dialect counter, the named provider's ProviderStats, the 50-entry
// recent-request ring (newest first), and the 24-entry hourly bucket list —
// then persists the whole aggregate to the JSON sidecar. Persistence
// failures are logged, not returned: stats are best-effort and must never
// fail the request they describe.
func (m *Manager) RecordRequest(log RequestLog) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.TotalRequests++
	s.TotalInputTokens += uint64(log.InputTokens)
	s.TotalOutputTokens += uint64(log.OutputTokens)
	s.TotalCost += log.Cost

	switch log.APIType {
	case "anthropic":
		s.AnthropicRequests++
	case "responses":
		s.ResponsesRequests++
	case "chat":
		s.ChatRequests++
	}

	isSuccess := log.Status >= 200 && log.Status < 300
	ps, ok := s.ProviderStats[log.Provider]
	if !ok {
		ps = newProviderStats(log.Provider, log.Provider)
		s.ProviderStats[log.Provider] = ps
	}

	errMsg := ""
	if !isSuccess {
		errMsg = log.ErrorMessage
		if errMsg == "" {
			errMsg = fmt.Sprintf("HTTP %d", log.Status)
		}
	}
	ps.recordRequest(isSuccess, log.DurationMS, log.InputTokens, log.OutputTokens, log.Cost, log.Timestamp, errMsg)

	s.RecentRequests = append([]RequestLog{log}, s.RecentRequests...)
	if len(s.RecentRequests) > maxRecentRequests {
		s.RecentRequests = s.RecentRequests[:maxRecentRequests]
	}

	hourTS := (log.Timestamp / 3600) * 3600
	if n := len(s.HourlyActivity); n > 0 && s.HourlyActivity[n-1].Timestamp == hourTS {
		last := &s.HourlyActivity[n-1]
		last.Requests++
		last.InputTokens += uint32(log.InputTokens)
		last.OutputTokens += uint32(log.OutputTokens)
		last.Cost += log.Cost
	} else {
		s.HourlyActivity = append(s.HourlyActivity, HourlyStat{
			Timestamp:    hourTS,
			Requests:     1,
			InputTokens:  uint32(log.InputTokens),
			OutputTokens: uint32(log.OutputTokens),
			Cost:         log.Cost,
		})
	}
	if len(s.HourlyActivity) > maxHourlyBuckets {
		s.HourlyActivity = s.HourlyActivity[1:]
	}

	m.persistLocked()
}

// RecordCacheHit increments the cache hit counter.
func (m *Manager) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.CacheHits++
	m.persistLocked()
}

// RecordCacheMiss increments the cache miss counter.
func (m *Manager) RecordCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.CacheMisses++
	m.persistLocked()
}

// ResetProviderHealth marks providerName healthy with zero consecutive
// failures, called when the circuit breaker's global-exhaustion reset
// clears every provider's cooldown.
func (m *Manager) ResetProviderHealth(providerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.stats.ProviderStats[providerName]; ok {
		ps.IsHealthy = true
		ps.ConsecutiveFailures = 0
	}
}

func (m *Manager) persistLocked() {
	data, err := json.MarshalIndent(m.stats, "", "  ")
	if err != nil {
		m.logger.Error("stats: failed to encode sidecar", "error", err)
		return
	}
	if dir := filepath.Dir(m.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			m.logger.Error("stats: failed to create sidecar dir", "error", err)
			return
		}
	}
	if err := os.WriteFile(m.filePath, data, 0o644); err != nil {
		m.logger.Error("stats: failed to write sidecar", "path", m.filePath, "error", err)
	}
}
