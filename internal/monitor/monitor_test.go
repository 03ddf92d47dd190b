// File: internal/monitor/monitor_test.go
package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
	"github.com/nkoudela/scout-cli/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		HealthCheckInterval: 30 * time.Second,
		LatencyExcellentMs:  100,
		LatencyGoodMs:       300,
		LatencyFairMs:       1000,
		LossExcellentPct:    1,
		LossGoodPct:         3,
		LossFairPct:         8,
		LatencyAlertMs:      2000,
		LossAlertPct:        10,
		ErrorAlertCount:     5,
		HistoryWindow:       24 * time.Hour,
	}
}

func newTestMonitor(t *testing.T) (*Monitor, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewMonitor(testMonitorConfig(), zap.NewNop(), WithClock(clock.Now)), clock
}

func TestRegisterAndUpdate(t *testing.T) {
	m, clock := newTestMonitor(t)

	rec := m.Register("user-1", "https://app.example.com")
	assert.Equal(t, schemas.ConnectionConnected, rec.Status)
	assert.Equal(t, schemas.QualityExcellent, rec.Quality)

	clock.Advance(time.Second)
	require.NoError(t, m.UpdateActivity(rec.ID, 50, 0.5, 0))

	got, err := m.GetConnection(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.LatencyMs)
	assert.True(t, got.LastActivity.After(got.ConnectedAt))

	assert.ErrorIs(t, m.UpdateActivity("no-such-id", 0, 0, 0), ErrConnectionNotFound)
}

func TestQualityTiers(t *testing.T) {
	m, _ := newTestMonitor(t)
	rec := m.Register("user-1", "https://app.example.com")

	tests := []struct {
		name    string
		latency float64
		loss    float64
		want    schemas.ConnectionQuality
	}{
		{"excellent", 50, 0.5, schemas.QualityExcellent},
		{"good", 200, 2, schemas.QualityGood},
		{"fair", 800, 5, schemas.QualityFair},
		{"poor latency", 1500, 0, schemas.QualityPoor},
		{"poor loss", 50, 9, schemas.QualityPoor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, m.UpdateActivity(rec.ID, tt.latency, tt.loss, 0))
			got, err := m.GetConnection(rec.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Quality)
		})
	}
}

func TestAlertsAreDeduplicated(t *testing.T) {
	m, _ := newTestMonitor(t)
	rec := m.Register("user-1", "https://app.example.com")

	// Repeated breaches of the same threshold raise a single alert.
	for i := 0; i < 3; i++ {
		require.NoError(t, m.UpdateActivity(rec.ID, 5000, 0, 0))
	}
	alerts := m.Alerts(false)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertHighLatency, alerts[0].Type)
	assert.Equal(t, schemas.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, rec.ID, alerts[0].ConnectionID)

	// The condition clearing resolves the alert; a new breach fires again.
	require.NoError(t, m.UpdateActivity(rec.ID, 50, 0, 0))
	assert.Empty(t, m.Alerts(false))

	require.NoError(t, m.UpdateActivity(rec.ID, 5000, 0, 0))
	assert.Len(t, m.Alerts(false), 1)
	assert.Len(t, m.Alerts(true), 2)
}

func TestErrorThresholdAlert(t *testing.T) {
	m, _ := newTestMonitor(t)
	rec := m.Register("user-1", "https://app.example.com")

	require.NoError(t, m.UpdateActivity(rec.ID, 50, 0, 4))
	assert.Empty(t, m.Alerts(false))

	require.NoError(t, m.UpdateActivity(rec.ID, 50, 0, 1))
	alerts := m.Alerts(false)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertErrorThreshold, alerts[0].Type)
	assert.Equal(t, schemas.SeverityCritical, alerts[0].Severity)
}

func TestResolveAlert(t *testing.T) {
	m, _ := newTestMonitor(t)
	rec := m.Register("user-1", "https://app.example.com")

	require.NoError(t, m.UpdateActivity(rec.ID, 0, 50, 0))
	alerts := m.Alerts(false)
	require.Len(t, alerts, 1)

	require.NoError(t, m.ResolveAlert(alerts[0].ID))
	assert.Empty(t, m.Alerts(false))

	// Resolving twice is a no-op; unknown ids fail.
	assert.NoError(t, m.ResolveAlert(alerts[0].ID))
	assert.ErrorIs(t, m.ResolveAlert("no-such-id"), ErrAlertNotFound)
}

func TestDisconnect(t *testing.T) {
	m, _ := newTestMonitor(t)
	rec := m.Register("user-1", "https://app.example.com")

	require.NoError(t, m.UpdateActivity(rec.ID, 5000, 0, 0))
	require.Len(t, m.Alerts(false), 1)

	require.NoError(t, m.Disconnect(rec.ID))

	_, err := m.GetConnection(rec.ID)
	assert.ErrorIs(t, err, ErrConnectionNotFound)
	// Open alerts for the connection are resolved on teardown.
	assert.Empty(t, m.Alerts(false))

	assert.ErrorIs(t, m.Disconnect(rec.ID), ErrConnectionNotFound)
}

func TestCheckHealth(t *testing.T) {
	t.Run("healthy with quiet connections", func(t *testing.T) {
		m, _ := newTestMonitor(t)
		m.Register("user-1", "https://app.example.com")

		sample := m.CheckHealth()
		assert.Equal(t, schemas.HealthHealthy, sample.Status)
		assert.Equal(t, 1, sample.ActiveConnections)
	})

	t.Run("degraded with an unresolved alert", func(t *testing.T) {
		m, _ := newTestMonitor(t)
		rec := m.Register("user-1", "https://app.example.com")
		require.NoError(t, m.UpdateActivity(rec.ID, 5000, 0, 0))

		sample := m.CheckHealth()
		assert.Equal(t, schemas.HealthDegraded, sample.Status)
		assert.Equal(t, 1, sample.UnresolvedAlerts)
	})

	t.Run("unhealthy with a critical alert", func(t *testing.T) {
		m, _ := newTestMonitor(t)
		rec := m.Register("user-1", "https://app.example.com")
		require.NoError(t, m.UpdateActivity(rec.ID, 50, 0, 10))

		sample := m.CheckHealth()
		assert.Equal(t, schemas.HealthUnhealthy, sample.Status)
	})
}

func TestHistoryWindow(t *testing.T) {
	m, clock := newTestMonitor(t)

	m.CheckHealth()
	clock.Advance(23 * time.Hour)
	m.CheckHealth()
	clock.Advance(2 * time.Hour)
	m.CheckHealth()

	// The first sample is now 25h old and falls out of the 24h window.
	history := m.History()
	require.Len(t, history, 2)
	assert.True(t, history[0].Timestamp.Before(history[1].Timestamp))
}

func TestStartStop(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	m := NewMonitor(cfg, zap.NewNop())

	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	m.Stop()

	assert.NotEmpty(t, m.History())
}
