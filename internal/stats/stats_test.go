package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerWithNoSidecarStartsEmpty(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	snap := m.Snapshot()
	assert.Zero(t, snap.TotalRequests)
}

func TestRecordRequestUpdatesGlobalsAndProvider(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	m.RecordRequest(RequestLog{
		ID: "1", Timestamp: 1000, Provider: "openai-main", Status: 200,
		DurationMS: 120, InputTokens: 10, OutputTokens: 20, Cost: 0.05, APIType: "chat",
	})

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.ChatRequests)
	ps := snap.ProviderStats["openai-main"]
	require.NotNil(t, ps)
	assert.EqualValues(t, 1, ps.SuccessfulRequests)
	assert.True(t, ps.IsHealthy)
	assert.EqualValues(t, 120, ps.P50LatencyMS)
}

func TestRecordRequestMarksUnhealthyAfterThreeFailures(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	for i := 0; i < 3; i++ {
		m.RecordRequest(RequestLog{Provider: "flaky", Status: 500, Timestamp: int64(i)})
	}

	ps := m.Snapshot().ProviderStats["flaky"]
	require.NotNil(t, ps)
	assert.False(t, ps.IsHealthy)
	assert.Equal(t, 3, ps.ConsecutiveFailures)
	assert.Equal(t, "HTTP 500", ps.LastErrorMessage)
}

func TestRecordRequestSuccessResetsConsecutiveFailures(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	m.RecordRequest(RequestLog{Provider: "p", Status: 500, Timestamp: 1})
	m.RecordRequest(RequestLog{Provider: "p", Status: 500, Timestamp: 2})
	m.RecordRequest(RequestLog{Provider: "p", Status: 200, Timestamp: 3})

	ps := m.Snapshot().ProviderStats["p"]
	assert.True(t, ps.IsHealthy)
	assert.Zero(t, ps.ConsecutiveFailures)
}

func TestRecentRequestsCapAtFiftyNewestFirst(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	for i := 0; i < 60; i++ {
		m.RecordRequest(RequestLog{ID: string(rune('a' + i%26)), Provider: "p", Status: 200, Timestamp: int64(i)})
	}

	recent := m.Snapshot().RecentRequests
	require.Len(t, recent, 50)
	assert.EqualValues(t, 59, recent[0].Timestamp, "newest request must be at the front")
}

func TestHourlyActivityBucketsByHourAndCapsAtTwentyFour(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	for h := 0; h < 30; h++ {
		m.RecordRequest(RequestLog{Provider: "p", Status: 200, Timestamp: int64(h) * 3600})
		m.RecordRequest(RequestLog{Provider: "p", Status: 200, Timestamp: int64(h)*3600 + 100})
	}

	buckets := m.Snapshot().HourlyActivity
	require.Len(t, buckets, 24)
	assert.EqualValues(t, 2, buckets[len(buckets)-1].Requests)
}

func TestResetProviderHealthClearsUnhealthyFlag(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	for i := 0; i < 3; i++ {
		m.RecordRequest(RequestLog{Provider: "p", Status: 500, Timestamp: int64(i)})
	}
	require.False(t, m.Snapshot().ProviderStats["p"].IsHealthy)

	m.ResetProviderHealth("p")
	assert.True(t, m.Snapshot().ProviderStats["p"].IsHealthy)
	assert.Zero(t, m.Snapshot().ProviderStats["p"].ConsecutiveFailures)
}

func TestRecordRequestPersistsSidecarAfterEveryCall(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)
	m.RecordRequest(RequestLog{Provider: "p", Status: 200, Timestamp: 1})

	data, err := os.ReadFile(filepath.Join(dir, "gateway_stats.json"))
	require.NoError(t, err)

	var persisted GatewayStats
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.EqualValues(t, 1, persisted.TotalRequests)
}

func TestSuccessRateDefaultsTo100WithNoRequests(t *testing.T) {
	ps := newProviderStats("x", "x")
	assert.Equal(t, 100.0, ps.SuccessRate())
}
