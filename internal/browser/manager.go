// File: internal/browser/manager.go
// Description: Bounded pool of browser instances and their tabs. Enforces
// hard caps, reclaims idle instances, and guarantees teardown on release.
package browser

import (
	"context"
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
	// ErrPoolExhausted means the concurrent-instance cap is reached.
	ErrPoolExhausted = errors.New("browser pool exhausted")
	// ErrTabLimitExceeded means the per-instance tab cap is reached.
	ErrTabLimitExceeded = errors.New("tab limit exceeded")
	// ErrInstanceNotFound means the instance id is unknown or closed.
	ErrInstanceNotFound = errors.New("browser instance not found")
	// ErrTabNotFound means the tab id is unknown or closed.
	ErrTabNotFound = errors.New("tab not found")
)

// managedTab pairs a live page with its bookkeeping snapshot.
type managedTab struct {
	info schemas.TabInfo
	page Page
}

// managedInstance owns one browser process and its tabs. The per-instance
// mutex makes the reclaim sweep safe against in-flight operations.
type managedInstance struct {
	mu       sync.Mutex
	info     schemas.InstanceInfo
	instance Instance
	tabs     map[string]*managedTab
	closed   bool
}

// Manager is the browser resource pool.
type Manager struct {
	cfg    config.BrowserConfig
	driver Driver
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	instances map[string]*managedInstance

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a browser pool over the given driver. Call Start to
// begin idle reclamation and Shutdown on exit.
func NewManager(cfg config.BrowserConfig, driver Driver, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:       cfg,
		driver:    driver,
		logger:    logger.Named("browser_manager"),
		now:       time.Now,
		instances: make(map[string]*managedInstance),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the idle-instance reclaim sweep.
func (m *Manager) Start() {
	interval := m.cfg.ReclaimInterval
	if interval <= 0 {
		interval = time.Minute
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reclaimIdle()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Shutdown stops the reclaim sweep and closes every instance.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.CloseInstance(id)
	}
}

// CreateInstance launches a new browser instance, rejecting immediately when
// the pool is at capacity. The slot is reserved before the launch so two
// concurrent calls cannot both squeeze past the cap.
func (m *Manager) CreateInstance(ctx context.Context) (*schemas.InstanceInfo, error) {
	now := m.now()
	mi := &managedInstance{
		info: schemas.InstanceInfo{
			ID:           uuid.NewString(),
			CreatedAt:    now,
			LastActivity: now,
			Status:       schemas.InstanceActive,
			UserAgent:    m.cfg.UserAgent,
			Args:         m.cfg.Args,
		},
		tabs: make(map[string]*managedTab),
	}

	m.mu.Lock()
	if len(m.instances) >= m.cfg.MaxInstances {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d instances at cap", ErrPoolExhausted, m.cfg.MaxInstances)
	}
	m.instances[mi.info.ID] = mi
	m.mu.Unlock()

	instance, err := m.driver.Launch(ctx, LaunchOptions{
		Headless:       m.cfg.Headless,
		UserAgent:      m.cfg.UserAgent,
		ViewportWidth:  m.cfg.ViewportWidth,
		ViewportHeight: m.cfg.ViewportHeight,
		Args:           m.cfg.Args,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.instances, mi.info.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("launching instance: %w", err)
	}

	mi.mu.Lock()
	mi.instance = instance
	mi.mu.Unlock()

	m.logger.Info("Browser instance created", zap.String("instance_id", mi.info.ID))
	out := mi.info
	return &out, nil
}

// CreateTab opens a tab on an instance, optionally navigating it. The tab
// cap is checked under the instance lock.
func (m *Manager) CreateTab(ctx context.Context, instanceID, url string) (*schemas.TabInfo, error) {
	mi, err := m.lookup(instanceID)
	if err != nil {
		return nil, err
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.closed || mi.instance == nil {
		return nil, ErrInstanceNotFound
	}
	if len(mi.tabs) >= m.cfg.MaxTabsPerInstance {
		return nil, fmt.Errorf("%w: %d tabs at cap on instance %s",
			ErrTabLimitExceeded, m.cfg.MaxTabsPerInstance, instanceID)
	}

	page, err := mi.instance.NewTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening tab: %w", err)
	}

	tab := &managedTab{
		info: schemas.TabInfo{ID: uuid.NewString(), Status: schemas.TabLoading},
		page: page,
	}

	if url != "" {
		navCtx := ctx
		if m.cfg.NavigationTimeout > 0 {
			var cancel context.CancelFunc
			navCtx, cancel = context.WithTimeout(ctx, m.cfg.NavigationTimeout)
			defer cancel()
		}
		if err := page.Navigate(navCtx, url); err != nil {
			tab.info.Status = schemas.TabError
			m.logger.Warn("Tab navigation failed",
				zap.String("instance_id", instanceID),
				zap.String("url", url),
				zap.Error(err))
		} else {
			tab.info.Status = schemas.TabLoaded
			tab.info.URL = url
			if title, err := page.Title(ctx); err == nil {
				tab.info.Title = title
			}
		}
	} else {
		tab.info.Status = schemas.TabLoaded
	}

	mi.tabs[tab.info.ID] = tab
	mi.info.TabCount = len(mi.tabs)
	mi.info.LastActivity = m.now()
	mi.info.Status = schemas.InstanceActive

	out := tab.info
	return &out, nil
}

// Page returns the live page handle for a tab and refreshes the instance's
// activity timestamp.
func (m *Manager) Page(instanceID, tabID string) (Page, error) {
	mi, err := m.lookup(instanceID)
	if err != nil {
		return nil, err
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.closed {
		return nil, ErrInstanceNotFound
	}
	tab, ok := mi.tabs[tabID]
	if !ok {
		return nil, ErrTabNotFound
	}
	mi.info.LastActivity = m.now()
	return tab.page, nil
}

// CloseTab destroys a tab. Closing an unknown tab is a no-op; the underlying
// page is always released even when already gone.
func (m *Manager) CloseTab(instanceID, tabID string) error {
	mi, err := m.lookup(instanceID)
	if err != nil {
		return err
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()
	tab, ok := mi.tabs[tabID]
	if !ok {
		return nil
	}
	delete(mi.tabs, tabID)
	mi.info.TabCount = len(mi.tabs)
	mi.info.LastActivity = m.now()
	if len(mi.tabs) == 0 {
		mi.info.Status = schemas.InstanceIdle
	}
	return tab.page.Close()
}

// CloseInstance tears down an instance and every tab it owns. Idempotent:
// closing an unknown or already-closed instance returns nil.
func (m *Manager) CloseInstance(instanceID string) error {
	m.mu.Lock()
	mi, ok := m.instances[instanceID]
	if ok {
		delete(m.instances, instanceID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.closed {
		return nil
	}
	mi.closed = true
	mi.info.Status = schemas.InstanceClosed

	// Tabs go first, then the process. Errors don't stop the teardown.
	var firstErr error
	for id, tab := range mi.tabs {
		if err := tab.page.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(mi.tabs, id)
	}
	mi.info.TabCount = 0
	if mi.instance != nil {
		if err := mi.instance.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.logger.Info("Browser instance closed", zap.String("instance_id", instanceID))
	return firstErr
}

// Instances returns snapshots of all managed instances.
func (m *Manager) Instances() []schemas.InstanceInfo {
	m.mu.Lock()
	list := make([]*managedInstance, 0, len(m.instances))
	for _, mi := range m.instances {
		list = append(list, mi)
	}
	m.mu.Unlock()

	out := make([]schemas.InstanceInfo, 0, len(list))
	for _, mi := range list {
		mi.mu.Lock()
		out = append(out, mi.info)
		mi.mu.Unlock()
	}
	return out
}

// GetStats summarizes the pool.
func (m *Manager) GetStats() schemas.PoolStats {
	stats := schemas.PoolStats{
		MaxInstances: m.cfg.MaxInstances,
		MaxTabs:      m.cfg.MaxTabsPerInstance,
	}
	for _, info := range m.Instances() {
		stats.Instances++
		stats.ActiveTabs += info.TabCount
		created := info.CreatedAt
		if stats.OldestInstance == nil || created.Before(*stats.OldestInstance) {
			stats.OldestInstance = &created
		}
		if stats.NewestInstance == nil || created.After(*stats.NewestInstance) {
			stats.NewestInstance = &created
		}
	}
	return stats
}

func (m *Manager) lookup(instanceID string) (*managedInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi, ok := m.instances[instanceID]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return mi, nil
}

// reclaimIdle closes instances whose last activity exceeds the idle timeout.
func (m *Manager) reclaimIdle() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	var stale []string
	for _, info := range m.Instances() {
		if info.LastActivity.Before(cutoff) {
			stale = append(stale, info.ID)
		}
	}
	for _, id := range stale {
		m.logger.Info("Reclaiming idle browser instance", zap.String("instance_id", id))
		if err := m.CloseInstance(id); err != nil {
			m.logger.Warn("Idle reclaim failed", zap.String("instance_id", id), zap.Error(err))
		}
	}
}
