package cron

import (
	"context"
	"time"
)

// CacheEvictor is the subset of cache.Manager the janitor job needs. Kept
// as an interface here (rather than importing the cache package directly)
// so this package stays dependency-free of the rest of the gateway.
type CacheEvictor interface {
	EvictExpired() int
}

// CacheJanitorJob periodically sweeps expired entries out of the response
// cache. The cache also sweeps lazily on a full Set, so this job exists to
// bound memory for caches that fill up slowly and then go idle.
type CacheJanitorJob struct {
	cache CacheEvictor
}

// NewCacheJanitorJob creates a job that evicts expired cache entries every
// tick of its schedule.
func NewCacheJanitorJob(cache CacheEvictor) *CacheJanitorJob {
	return &CacheJanitorJob{cache: cache}
}

func (j *CacheJanitorJob) Name() string { return "cache-janitor" }

func (j *CacheJanitorJob) Schedule() string { return "* * * * *" }

func (j *CacheJanitorJob) Run(_ context.Context) error {
	j.cache.EvictExpired()
	return nil
}

// RequestLogPruner is the subset of dblog.Store the prune job needs.
type RequestLogPruner interface {
	PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// RequestLogPruneJob deletes durable request-log rows older than its
// retention window, keeping the SQLite database from growing unbounded on
// a long-running gateway.
type RequestLogPruneJob struct {
	store     RequestLogPruner
	retention time.Duration
}

// NewRequestLogPruneJob creates a job that prunes rows older than retention
// once a day.
func NewRequestLogPruneJob(store RequestLogPruner, retention time.Duration) *RequestLogPruneJob {
	return &RequestLogPruneJob{store: store, retention: retention}
}

func (j *RequestLogPruneJob) Name() string { return "request-log-prune" }

func (j *RequestLogPruneJob) Schedule() string { return "0 3 * * *" }

func (j *RequestLogPruneJob) Run(ctx context.Context) error {
	_, err := j.store.PruneOlderThan(ctx, j.retention)
	return err
}
