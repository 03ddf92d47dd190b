// File: internal/monitor/monitor.go
// Description: Tracks per-connection health metrics, derives quality tiers,
// raises threshold alerts, and keeps a rolling window of health samples.
package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
	"github.com/nkoudela/scout-cli/internal/config"
)

var (
	// ErrConnectionNotFound means the connection id is unknown or already closed.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrAlertNotFound means the alert id is unknown.
	ErrAlertNotFound = errors.New("alert not found")
)

// Alert type vocabulary. One unresolved alert per (connection, type) pair.
const (
	AlertHighLatency    = "high_latency"
	AlertPacketLoss     = "packet_loss"
	AlertErrorThreshold = "error_threshold"
)

// Monitor owns the connection registry, the alert table, and the health
// history. All shared state lives behind the mutex.
type Monitor struct {
	cfg    config.MonitorConfig
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	connections map[string]*schemas.ConnectionRecord
	alerts      map[string]*schemas.Alert
	// open maps "type|connectionID" to an unresolved alert id for dedup.
	open    map[string]string
	history []schemas.HealthSample

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a connection monitor. Call Start to begin periodic
// health checks and Stop on shutdown.
func NewMonitor(cfg config.MonitorConfig, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		cfg:         cfg,
		logger:      logger.Named("connection_monitor"),
		now:         time.Now,
		connections: make(map[string]*schemas.ConnectionRecord),
		alerts:      make(map[string]*schemas.Alert),
		open:        make(map[string]string),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the periodic health check.
func (m *Monitor) Start() {
	interval := m.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckHealth()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the health-check goroutine. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Register records a new connection on first contact.
func (m *Monitor) Register(userID, origin string) *schemas.ConnectionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec := &schemas.ConnectionRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		Origin:       origin,
		ConnectedAt:  now,
		LastActivity: now,
		Status:       schemas.ConnectionConnected,
		Quality:      schemas.QualityExcellent,
	}
	m.connections[rec.ID] = rec

	m.logger.Info("Connection registered",
		zap.String("connection_id", rec.ID),
		zap.String("user_id", userID),
		zap.String("origin", origin))

	out := *rec
	return &out
}

// UpdateActivity merges new metrics into a connection, recomputes its quality
// tier, and re-evaluates alert thresholds.
func (m *Monitor) UpdateActivity(connectionID string, latencyMs, packetLoss float64, errorDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.connections[connectionID]
	if !ok {
		return ErrConnectionNotFound
	}

	rec.LastActivity = m.now()
	rec.LatencyMs = latencyMs
	rec.PacketLoss = packetLoss
	rec.ErrorCount += errorDelta
	rec.Quality = m.deriveQuality(latencyMs, packetLoss)

	m.evaluateAlertsLocked(rec)
	return nil
}

// MarkStatus sets a connection's status without touching its metrics.
func (m *Monitor) MarkStatus(connectionID string, status schemas.ConnectionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.connections[connectionID]
	if !ok {
		return ErrConnectionNotFound
	}
	rec.Status = status
	rec.LastActivity = m.now()
	return nil
}

// Disconnect destroys a connection record and resolves its open alerts.
func (m *Monitor) Disconnect(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connections[connectionID]; !ok {
		return ErrConnectionNotFound
	}
	delete(m.connections, connectionID)

	now := m.now()
	for key, alertID := range m.open {
		alert := m.alerts[alertID]
		if alert != nil && alert.ConnectionID == connectionID {
			alert.Resolved = true
			alert.ResolvedAt = &now
			delete(m.open, key)
		}
	}

	m.logger.Info("Connection closed", zap.String("connection_id", connectionID))
	return nil
}

// GetConnection returns a copy of a connection record.
func (m *Monitor) GetConnection(connectionID string) (*schemas.ConnectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.connections[connectionID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	out := *rec
	return &out, nil
}

// Connections returns copies of all active connection records.
func (m *Monitor) Connections() []schemas.ConnectionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]schemas.ConnectionRecord, 0, len(m.connections))
	for _, rec := range m.connections {
		out = append(out, *rec)
	}
	return out
}

// Alerts returns the alert table, optionally including resolved entries.
func (m *Monitor) Alerts(includeResolved bool) []schemas.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]schemas.Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if !includeResolved && alert.Resolved {
			continue
		}
		out = append(out, *alert)
	}
	return out
}

// ResolveAlert marks an alert resolved so the same condition can fire again.
func (m *Monitor) ResolveAlert(alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	if alert.Resolved {
		return nil
	}
	alert.Resolved = true
	now := m.now()
	alert.ResolvedAt = &now
	delete(m.open, alert.Type+"|"+alert.ConnectionID)
	return nil
}

// CheckHealth samples the active-connection count, error rate, and unresolved
// alerts into an overall status, and appends it to the rolling history.
func (m *Monitor) CheckHealth() schemas.HealthSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	totalErrors := 0
	for _, rec := range m.connections {
		totalErrors += rec.ErrorCount
	}
	errorRate := 0.0
	if len(m.connections) > 0 {
		errorRate = float64(totalErrors) / float64(len(m.connections))
	}

	unresolved := 0
	critical := false
	for _, alert := range m.alerts {
		if alert.Resolved {
			continue
		}
		unresolved++
		if alert.Severity == schemas.SeverityCritical {
			critical = true
		}
	}

	status := schemas.HealthHealthy
	switch {
	case critical || (m.cfg.ErrorAlertCount > 0 && errorRate >= float64(m.cfg.ErrorAlertCount)):
		status = schemas.HealthUnhealthy
	case unresolved > 0:
		status = schemas.HealthDegraded
	}

	sample := schemas.HealthSample{
		Timestamp:         now,
		Status:            status,
		ActiveConnections: len(m.connections),
		ErrorRate:         errorRate,
		UnresolvedAlerts:  unresolved,
	}
	m.history = append(m.history, sample)
	m.pruneHistoryLocked(now)

	if status != schemas.HealthHealthy {
		m.logger.Warn("Health check",
			zap.String("status", string(status)),
			zap.Int("active_connections", sample.ActiveConnections),
			zap.Float64("error_rate", errorRate),
			zap.Int("unresolved_alerts", unresolved))
	}
	return sample
}

// History returns the retained health samples, oldest first.
func (m *Monitor) History() []schemas.HealthSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]schemas.HealthSample, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Monitor) deriveQuality(latencyMs, packetLoss float64) schemas.ConnectionQuality {
	switch {
	case latencyMs < m.cfg.LatencyExcellentMs && packetLoss < m.cfg.LossExcellentPct:
		return schemas.QualityExcellent
	case latencyMs < m.cfg.LatencyGoodMs && packetLoss < m.cfg.LossGoodPct:
		return schemas.QualityGood
	case latencyMs < m.cfg.LatencyFairMs && packetLoss < m.cfg.LossFairPct:
		return schemas.QualityFair
	default:
		return schemas.QualityPoor
	}
}

// thresholdRule maps one metric breach to an alert. Rules are evaluated on
// every activity update; new checks are added as rows.
type thresholdRule struct {
	alertType string
	severity  schemas.AlertSeverity
	breached  func(cfg config.MonitorConfig, rec *schemas.ConnectionRecord) bool
	message   func(rec *schemas.ConnectionRecord) string
}

var thresholdRules = []thresholdRule{
	{
		alertType: AlertHighLatency,
		severity:  schemas.SeverityMedium,
		breached: func(cfg config.MonitorConfig, rec *schemas.ConnectionRecord) bool {
			return cfg.LatencyAlertMs > 0 && rec.LatencyMs >= cfg.LatencyAlertMs
		},
		message: func(rec *schemas.ConnectionRecord) string {
			return fmt.Sprintf("latency %.0fms exceeds threshold", rec.LatencyMs)
		},
	},
	{
		alertType: AlertPacketLoss,
		severity:  schemas.SeverityHigh,
		breached: func(cfg config.MonitorConfig, rec *schemas.ConnectionRecord) bool {
			return cfg.LossAlertPct > 0 && rec.PacketLoss >= cfg.LossAlertPct
		},
		message: func(rec *schemas.ConnectionRecord) string {
			return fmt.Sprintf("packet loss %.1f%% exceeds threshold", rec.PacketLoss)
		},
	},
	{
		alertType: AlertErrorThreshold,
		severity:  schemas.SeverityCritical,
		breached: func(cfg config.MonitorConfig, rec *schemas.ConnectionRecord) bool {
			return cfg.ErrorAlertCount > 0 && rec.ErrorCount >= cfg.ErrorAlertCount
		},
		message: func(rec *schemas.ConnectionRecord) string {
			return fmt.Sprintf("error count %d exceeds threshold", rec.ErrorCount)
		},
	},
}

// evaluateAlertsLocked raises at most one unresolved alert per rule per
// connection. Conditions that cleared are resolved so they can fire again.
func (m *Monitor) evaluateAlertsLocked(rec *schemas.ConnectionRecord) {
	now := m.now()
	for _, rule := range thresholdRules {
		key := rule.alertType + "|" + rec.ID
		openID, isOpen := m.open[key]

		if !rule.breached(m.cfg, rec) {
			if isOpen {
				if alert := m.alerts[openID]; alert != nil {
					alert.Resolved = true
					alert.ResolvedAt = &now
				}
				delete(m.open, key)
			}
			continue
		}
		if isOpen {
			continue
		}

		alert := &schemas.Alert{
			ID:           uuid.NewString(),
			Type:         rule.alertType,
			Severity:     rule.severity,
			Message:      rule.message(rec),
			ConnectionID: rec.ID,
			UserID:       rec.UserID,
			CreatedAt:    now,
		}
		m.alerts[alert.ID] = alert
		m.open[key] = alert.ID

		m.logger.Warn("Alert raised",
			zap.String("alert_id", alert.ID),
			zap.String("type", alert.Type),
			zap.String("severity", string(alert.Severity)),
			zap.String("connection_id", rec.ID),
			zap.String("message", alert.Message))
	}
}

func (m *Monitor) pruneHistoryLocked(now time.Time) {
	window := m.cfg.HistoryWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(m.history) && m.history[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		m.history = append(m.history[:0], m.history[idx:]...)
	}
}
