// Package forward implements the gateway's core request pipeline: cache
// lookup, provider selection against the circuit breaker, request
// forwarding with header sanitation and auth injection, dialect
// translation for claude_code_proxy providers, and stats/status recording.
package forward

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/llmgate/internal/breaker"
	"github.com/flemzord/llmgate/internal/cache"
	"github.com/flemzord/llmgate/internal/dblog"
	"github.com/flemzord/llmgate/internal/gwconfig"
	"github.com/flemzord/llmgate/internal/security"
	"github.com/flemzord/llmgate/internal/statusevents"
	"github.com/flemzord/llmgate/internal/stats"
	"github.com/flemzord/llmgate/internal/translate"
)

// fallbackStatuses are upstream response codes that trigger moving on to
// the next candidate provider instead of returning the response to the
// client.
var fallbackStatuses = map[int]bool{401: true, 402: true, 403: true, 410: true, 429: true}

func shouldFallback(status int) bool {
	return status >= 500 || fallbackStatuses[status]
}

// hopByHopHeaders are never copied from the inbound request onto the
// outbound one, or from the upstream response onto the client response.
var hopByHopHeaders = map[string]bool{
	"Host":              true,
	"Authorization":     true,
	"Content-Length":    true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
}

// Pipeline owns everything one dialect listener needs to serve a request:
// the hot-reloadable config, the shared cache/stats/breaker/status
// singletons, and the HTTP client used to reach upstream providers.
type Pipeline struct {
	mu  sync.RWMutex
	cfg gwconfig.GatewayConfig

	cache       *cache.Manager
	statsMgr    *stats.Manager
	breakerTrk  *breaker.Tracker
	bus         *statusevents.Bus
	credentials *security.CredentialStore
	requestLog  *dblog.Store
	client      *http.Client
	logger      *slog.Logger
}

// New creates a Pipeline. client may be nil, in which case a client with
// reasonable proxy timeouts is created. requestLog may be nil, in which
// case requests are not persisted to durable storage.
func New(cfg gwconfig.GatewayConfig, cacheMgr *cache.Manager, statsMgr *stats.Manager, breakerTrk *breaker.Tracker, bus *statusevents.Bus, creds *security.CredentialStore, requestLog *dblog.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Pipeline{
		cfg:         cfg,
		cache:       cacheMgr,
		statsMgr:    statsMgr,
		breakerTrk:  breakerTrk,
		bus:         bus,
		credentials: creds,
		requestLog:  requestLog,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
			},
		},
		logger: logger,
	}
}

// recordLog records a completed request in the stats sidecar and, if
// configured, the durable SQLite log.
func (p *Pipeline) recordLog(ctx context.Context, log stats.RequestLog) {
	p.statsMgr.RecordRequest(log)
	if p.requestLog == nil {
		return
	}
	if err := p.requestLog.Insert(ctx, log); err != nil {
		p.logger.Warn("failed to persist request log", "error", err, "provider", log.Provider)
	}
}

// UpdateConfig hot-swaps the pipeline's configuration.
func (p *Pipeline) UpdateConfig(cfg gwconfig.GatewayConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// Config returns a snapshot of the current configuration.
func (p *Pipeline) Config() gwconfig.GatewayConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// ListenerEnabled reports whether the listener for api is currently enabled.
func (p *Pipeline) ListenerEnabled(api gwconfig.ApiType) bool {
	cfg := p.Config()
	switch api {
	case gwconfig.ApiTypeAnthropic:
		return cfg.AnthropicEnabled
	case gwconfig.ApiTypeOpenAIResponses:
		return cfg.ResponsesEnabled
	case gwconfig.ApiTypeOpenAIChat:
		return cfg.ChatEnabled
	default:
		return false
	}
}

// ServeDialect handles one inbound client request for the given dialect.
func (p *Pipeline) ServeDialect(w http.ResponseWriter, r *http.Request, api gwconfig.ApiType) {
	start := time.Now()
	cfg := p.Config()

	if !p.ListenerEnabled(api) {
		http.Error(w, "Gateway is disabled", http.StatusServiceUnavailable)
		return
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > maxBody {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	pathWithQuery := r.URL.Path
	if r.URL.RawQuery != "" {
		pathWithQuery += "?" + r.URL.RawQuery
	}
	userAgent := r.Header.Get("User-Agent")
	if userAgent == "" {
		userAgent = "unknown"
	}

	cacheKey := cache.Key(pathWithQuery, body)
	if cfg.CacheEnabled && p.cache != nil {
		if entry, ok := p.cache.Get(cacheKey); ok {
			p.statsMgr.RecordCacheHit()
			p.recordLog(r.Context(), stats.RequestLog{
				ID:          uuid.NewString(),
				Timestamp:   time.Now().Unix(),
				Model:       requestModel(body),
				Status:      entry.Status,
				DurationMS:  time.Since(start).Milliseconds(),
				Path:        pathWithQuery,
				ClientAgent: userAgent,
				APIType:     apiTypeStatsKey(api),
				Cached:      true,
			})
			writeCached(w, entry)
			return
		}
		p.statsMgr.RecordCacheMiss()
	}

	candidates := cfg.ProvidersForAPIType(api)
	if len(candidates) == 0 {
		http.Error(w, "No active providers for this API type", http.StatusServiceUnavailable)
		return
	}

	ids := make([]string, len(candidates))
	byID := make(map[string]gwconfig.Provider, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
		byID[c.ID] = c
	}
	available := p.breakerTrk.SelectAvailable(ids, func(id string) {
		if prov, ok := byID[id]; ok {
			p.statsMgr.ResetProviderHealth(prov.Name)
		}
	})

	inputTokens := estimateInputTokens(body)

	for _, id := range available {
		provider := byID[id]
		handled := p.attempt(r.Context(), w, provider, api, r, pathWithQuery, cacheKey, body, inputTokens, start, userAgent, cfg)
		if handled {
			return
		}
		if !cfg.FallbackEnabled {
			return
		}
	}

	http.Error(w, "All providers failed", http.StatusBadGateway)
}

// attempt forwards one request to a single provider candidate. It returns
// true if the client response has been fully written (success, or a
// terminal failure that should not fall back further).
func (p *Pipeline) attempt(ctx context.Context, w http.ResponseWriter, provider gwconfig.Provider, api gwconfig.ApiType, r *http.Request, pathWithQuery, cacheKey string, body []byte, inputTokens int, start time.Time, userAgent string, cfg gwconfig.GatewayConfig) bool {
	p.bus.Publish(statusevents.Event{ProviderID: provider.ID, Status: statusevents.StatusPending, APIType: string(api)})

	translateReq := api == gwconfig.ApiTypeAnthropic && provider.ClaudeCodeProxy
	outboundPath := pathWithQuery
	outboundBody := body
	requestedModel := requestModel(body)

	if translateReq {
		translated, err := translate.AnthropicToOpenAIChatRequest(body, provider.MappedModel)
		if err != nil {
			p.recordFailure(ctx, provider, api, start, inputTokens, "/v1/chat/completions", userAgent, http.StatusBadRequest, err.Error())
			http.Error(w, "translation failed: "+err.Error(), http.StatusBadGateway)
			return true
		}
		outboundBody = translated
		outboundPath = "/v1/chat/completions"
	}

	targetURL := strings.TrimRight(provider.BaseURL, "/") + outboundPath

	// outboundCtx is bounded by a timer rather than a fixed deadline so the
	// same window enforces both the initial send and, for streaming
	// responses, inactivity between chunks: streamResponse resets the timer
	// on every chunk it reads.
	outboundCtx := ctx
	inactivityWindow := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	var inactivityTimer *time.Timer
	if inactivityWindow > 0 {
		var cancel context.CancelFunc
		outboundCtx, cancel = context.WithCancel(ctx)
		inactivityTimer = time.AfterFunc(inactivityWindow, cancel)
		defer inactivityTimer.Stop()
		defer cancel()
	}

	outReq, err := http.NewRequestWithContext(outboundCtx, r.Method, targetURL, newBodyReader(outboundBody))
	if err != nil {
		p.recordFailure(ctx, provider, api, start, inputTokens, outboundPath, userAgent, http.StatusBadGateway, err.Error())
		return false
	}
	copyHeaders(outReq.Header, r.Header)
	injectAuth(outReq, provider, api, translateReq)

	resp, err := p.client.Do(outReq)
	if err != nil {
		p.breakerTrk.MarkFailed(provider.ID)
		p.recordFailure(ctx, provider, api, start, inputTokens, outboundPath, userAgent, http.StatusBadGateway, err.Error())
		p.bus.Publish(statusevents.Event{ProviderID: provider.ID, Status: statusevents.StatusError, APIType: string(api)})
		if !cfg.FallbackEnabled {
			http.Error(w, "upstream connection failed: "+err.Error(), http.StatusBadGateway)
			return true
		}
		return false
	}
	defer resp.Body.Close()

	if shouldFallback(resp.StatusCode) {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.breakerTrk.MarkFailed(provider.ID)
		p.recordFailure(ctx, provider, api, start, inputTokens, outboundPath, userAgent, resp.StatusCode, truncateError(errBody))
		p.bus.Publish(statusevents.Event{ProviderID: provider.ID, Status: statusevents.StatusError, APIType: string(api)})
		if !cfg.FallbackEnabled {
			copyResponseHeaders(w.Header(), resp.Header)
			w.WriteHeader(resp.StatusCode)
			_, _ = w.Write(errBody)
			return true
		}
		return false
	}

	p.breakerTrk.MarkHealthy(provider.ID)
	p.bus.Publish(statusevents.Event{ProviderID: provider.ID, Status: statusevents.StatusSuccess, APIType: string(api)})

	isStream := strings.Contains(resp.Header.Get("Content-Type"), "stream")
	duration := time.Since(start)

	if isStream {
		p.streamResponse(ctx, w, resp, translateReq, requestedModel, provider, api, start, inputTokens, outboundPath, userAgent, inactivityTimer, inactivityWindow)
		return true
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		respBody = nil
	}
	outputTokens := estimateOutputTokens(respBody)

	finalBody := respBody
	if translateReq {
		if converted, convErr := translate.OpenAIChatResponseToAnthropic(respBody, requestedModel, "msg_"+uuid.NewString()); convErr == nil {
			finalBody = converted
		}
	}

	if cfg.CacheEnabled && p.cache != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.cache.Set(cacheKey, resp.StatusCode, headersToEntries(resp.Header), finalBody)
	}

	p.recordLog(ctx, stats.RequestLog{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().Unix(),
		Provider:     provider.Name,
		Model:        requestedModel,
		Status:       resp.StatusCode,
		DurationMS:   duration.Milliseconds(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost(provider, inputTokens, outputTokens),
		Path:         outboundPath,
		ClientAgent:  userAgent,
		APIType:      apiTypeStatsKey(api),
	})

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(finalBody)
	return true
}

func (p *Pipeline) streamResponse(ctx context.Context, w http.ResponseWriter, resp *http.Response, translateResp bool, requestedModel string, provider gwconfig.Provider, api gwconfig.ApiType, start time.Time, inputTokens int, outboundPath, userAgent string, inactivityTimer *time.Timer, inactivityWindow time.Duration) {
	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	flusher, canFlush := w.(http.Flusher)

	resetInactivity := func() {
		if inactivityTimer != nil {
			inactivityTimer.Reset(inactivityWindow)
		}
	}

	if !translateResp {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				_, _ = w.Write(buf[:n])
				resetInactivity()
				if canFlush {
					flusher.Flush()
				}
			}
			if rerr != nil {
				break
			}
		}
	} else {
		translator := translate.NewSSETranslator(uuid.NewString(), requestedModel)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			resetInactivity()
			for _, ev := range translator.TranslateLine(scanner.Text()) {
				_, _ = io.WriteString(w, ev)
			}
			if canFlush {
				flusher.Flush()
			}
			if translator.Done() {
				break
			}
		}
	}

	p.recordLog(ctx, stats.RequestLog{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().Unix(),
		Provider:    provider.Name,
		Model:       requestedModel,
		Status:      resp.StatusCode,
		DurationMS:  time.Since(start).Milliseconds(),
		InputTokens: inputTokens,
		Path:        outboundPath,
		ClientAgent: userAgent,
		APIType:     apiTypeStatsKey(api),
	})
}

func (p *Pipeline) recordFailure(ctx context.Context, provider gwconfig.Provider, api gwconfig.ApiType, start time.Time, inputTokens int, path, userAgent string, status int, errMsg string) {
	p.recordLog(ctx, stats.RequestLog{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().Unix(),
		Provider:     provider.Name,
		Status:       status,
		DurationMS:   time.Since(start).Milliseconds(),
		InputTokens:  inputTokens,
		Path:         path,
		ClientAgent:  userAgent,
		APIType:      apiTypeStatsKey(api),
		ErrorMessage: truncateError([]byte(errMsg)),
	})
}

func apiTypeStatsKey(api gwconfig.ApiType) string {
	switch api {
	case gwconfig.ApiTypeAnthropic:
		return "anthropic"
	case gwconfig.ApiTypeOpenAIResponses:
		return "responses"
	case gwconfig.ApiTypeOpenAIChat:
		return "chat"
	default:
		return ""
	}
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func injectAuth(req *http.Request, provider gwconfig.Provider, clientAPI gwconfig.ApiType, translated bool) {
	if provider.APIKey == "" {
		return
	}
	// The dialect actually spoken on the wire to this provider: if we
	// translated, we are always speaking OpenAI Chat to it regardless of
	// what the client asked for.
	upstreamDialect := clientAPI
	if translated {
		upstreamDialect = gwconfig.ApiTypeOpenAIChat
	}
	if upstreamDialect == gwconfig.ApiTypeAnthropic {
		req.Header.Set("x-api-key", provider.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	} else {
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}
}

func headersToEntries(h http.Header) []cache.Header {
	var out []cache.Header
	for name, values := range h {
		for _, v := range values {
			out = append(out, cache.Header{Name: name, Value: v})
		}
	}
	return out
}

func writeCached(w http.ResponseWriter, e cache.Entry) {
	for _, h := range e.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return strings.NewReader(string(body))
}

func truncateError(msg []byte) string {
	const maxLen = 500
	s := strings.TrimSpace(string(msg))
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

func requestModel(body []byte) string {
	var v struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return "unknown"
	}
	if v.Model == "" {
		return "unknown"
	}
	return v.Model
}

// estimateInputTokens applies the gateway's documented crude heuristic:
// one token per four characters of message content, falling back to raw
// body length when the body isn't parseable JSON.
func estimateInputTokens(body []byte) int {
	var req struct {
		Messages []struct {
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return len(body) / 4
	}
	chars := 0
	for _, m := range req.Messages {
		chars += contentCharCount(m.Content)
	}
	if chars == 0 && len(req.Messages) == 0 {
		return len(body) / 4
	}
	return chars / 4
}

func contentCharCount(raw json.RawMessage) int {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return len(s)
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &blocks) == nil {
		total := 0
		for _, b := range blocks {
			total += len(b.Text)
		}
		return total
	}
	return 0
}

// estimateOutputTokens prefers an upstream-reported usage block when
// present, falling back to the char/4 heuristic over the response body.
func estimateOutputTokens(body []byte) int {
	var resp struct {
		Usage struct {
			CompletionTokens int `json:"completion_tokens"`
			OutputTokens     int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err == nil {
		if resp.Usage.CompletionTokens > 0 {
			return resp.Usage.CompletionTokens
		}
		if resp.Usage.OutputTokens > 0 {
			return resp.Usage.OutputTokens
		}
	}
	return len(body) / 4
}

func cost(provider gwconfig.Provider, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*provider.InputPricePer1K + float64(outputTokens)/1000*provider.OutputPricePer1K
}
