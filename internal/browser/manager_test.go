// File: internal/browser/manager_test.go
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
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

// mockDriver launches mockInstances and counts launches/closes.
type mockDriver struct {
	launchErr error
	launches  atomic.Int32
	closes    atomic.Int32
}

func (d *mockDriver) Launch(_ context.Context, _ LaunchOptions) (Instance, error) {
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	d.launches.Add(1)
	return &mockInstance{driver: d}, nil
}

type mockInstance struct {
	driver *mockDriver
	tabErr error
	closed atomic.Bool
}

func (i *mockInstance) NewTab(_ context.Context) (Page, error) {
	if i.tabErr != nil {
		return nil, i.tabErr
	}
	return &mockPage{}, nil
}

func (i *mockInstance) Close() error {
	if i.closed.CompareAndSwap(false, true) {
		i.driver.closes.Add(1)
	}
	return nil
}

type mockPage struct {
	navigateErr error
	closed      atomic.Bool
	navigated   []string
	mu          sync.Mutex
}

func (p *mockPage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navigateErr != nil {
		return p.navigateErr
	}
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *mockPage) URL(_ context.Context) (string, error)   { return "", nil }
func (p *mockPage) Title(_ context.Context) (string, error) { return "Mock Page", nil }
func (p *mockPage) HTML(_ context.Context) (string, error)  { return "<html></html>", nil }
func (p *mockPage) Click(_ context.Context, _ string) error { return nil }
func (p *mockPage) Fill(_ context.Context, _, _ string) error {
	return nil
}
func (p *mockPage) Evaluate(_ context.Context, _ string, _ any) error { return nil }
func (p *mockPage) Screenshot(_ context.Context) ([]byte, error)      { return nil, nil }
func (p *mockPage) Close() error {
	p.closed.Store(true)
	return nil
}

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		Headless:           true,
		MaxInstances:       3,
		MaxTabsPerInstance: 2,
		IdleTimeout:        5 * time.Minute,
		ReclaimInterval:    time.Minute,
		NavigationTimeout:  10 * time.Second,
	}
}

func newTestManager(t *testing.T, cfg config.BrowserConfig) (*Manager, *mockDriver) {
	t.Helper()
	driver := &mockDriver{}
	m := NewManager(cfg, driver, zap.NewNop())
	t.Cleanup(m.Shutdown)
	return m, driver
}

func TestCreateInstance(t *testing.T) {
	t.Run("launches up to the cap", func(t *testing.T) {
		m, driver := newTestManager(t, testBrowserConfig())

		for i := 0; i < 3; i++ {
			info, err := m.CreateInstance(context.Background())
			require.NoError(t, err)
			assert.Equal(t, schemas.InstanceActive, info.Status)
		}
		assert.Equal(t, int32(3), driver.launches.Load())

		_, err := m.CreateInstance(context.Background())
		assert.ErrorIs(t, err, ErrPoolExhausted)
	})

	t.Run("launch failure releases the reserved slot", func(t *testing.T) {
		m, driver := newTestManager(t, testBrowserConfig())
		driver.launchErr = errors.New("browser binary missing")

		_, err := m.CreateInstance(context.Background())
		require.Error(t, err)

		driver.launchErr = nil
		_, err = m.CreateInstance(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, m.GetStats().Instances)
	})

	t.Run("concurrent creates respect a cap of one", func(t *testing.T) {
		cfg := testBrowserConfig()
		cfg.MaxInstances = 1
		m, _ := newTestManager(t, cfg)

		results := make(chan error, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.CreateInstance(context.Background())
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var ok, exhausted int
		for err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrPoolExhausted):
				exhausted++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, exhausted)
	})
}

func TestCreateTab(t *testing.T) {
	t.Run("opens and navigates a tab", func(t *testing.T) {
		m, _ := newTestManager(t, testBrowserConfig())

		inst, err := m.CreateInstance(context.Background())
		require.NoError(t, err)

		tab, err := m.CreateTab(context.Background(), inst.ID, "https://example.com")
		require.NoError(t, err)
		assert.Equal(t, schemas.TabLoaded, tab.Status)
		assert.Equal(t, "https://example.com", tab.URL)
		assert.Equal(t, "Mock Page", tab.Title)
	})

	t.Run("enforces the per-instance tab cap", func(t *testing.T) {
		m, _ := newTestManager(t, testBrowserConfig())

		inst, err := m.CreateInstance(context.Background())
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err := m.CreateTab(context.Background(), inst.ID, "")
			require.NoError(t, err)
		}
		_, err = m.CreateTab(context.Background(), inst.ID, "")
		assert.ErrorIs(t, err, ErrTabLimitExceeded)

		// Closing a tab frees a slot.
		tabs := m.Instances()[0].TabCount
		require.Equal(t, 2, tabs)
	})

	t.Run("unknown instance", func(t *testing.T) {
		m, _ := newTestManager(t, testBrowserConfig())
		_, err := m.CreateTab(context.Background(), "no-such-id", "")
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})
}

func TestCloseTabAndInstance(t *testing.T) {
	m, driver := newTestManager(t, testBrowserConfig())

	inst, err := m.CreateInstance(context.Background())
	require.NoError(t, err)
	tab, err := m.CreateTab(context.Background(), inst.ID, "")
	require.NoError(t, err)

	require.NoError(t, m.CloseTab(inst.ID, tab.ID))
	// Closing again is a no-op.
	require.NoError(t, m.CloseTab(inst.ID, tab.ID))
	assert.Equal(t, 0, m.GetStats().ActiveTabs)

	require.NoError(t, m.CloseInstance(inst.ID))
	require.NoError(t, m.CloseInstance(inst.ID))
	assert.Equal(t, 0, m.GetStats().Instances)
	assert.Equal(t, int32(1), driver.closes.Load())

	// Operations against the closed instance fail typed.
	_, err = m.CreateTab(context.Background(), inst.ID, "")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestGetStats(t *testing.T) {
	m, _ := newTestManager(t, testBrowserConfig())

	stats := m.GetStats()
	assert.Equal(t, 0, stats.Instances)
	assert.Equal(t, 3, stats.MaxInstances)
	assert.Nil(t, stats.OldestInstance)

	first, err := m.CreateInstance(context.Background())
	require.NoError(t, err)
	_, err = m.CreateInstance(context.Background())
	require.NoError(t, err)
	_, err = m.CreateTab(context.Background(), first.ID, "")
	require.NoError(t, err)

	stats = m.GetStats()
	assert.Equal(t, 2, stats.Instances)
	assert.Equal(t, 1, stats.ActiveTabs)
	require.NotNil(t, stats.OldestInstance)
	require.NotNil(t, stats.NewestInstance)
	assert.False(t, stats.NewestInstance.Before(*stats.OldestInstance))
}

func TestIdleReclaim(t *testing.T) {
	clock := struct {
		mu  sync.Mutex
		now time.Time
	}{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	nowFn := func() time.Time {
		clock.mu.Lock()
		defer clock.mu.Unlock()
		return clock.now
	}

	cfg := testBrowserConfig()
	driver := &mockDriver{}
	m := NewManager(cfg, driver, zap.NewNop(), WithClock(nowFn))
	t.Cleanup(m.Shutdown)

	stale, err := m.CreateInstance(context.Background())
	require.NoError(t, err)

	clock.mu.Lock()
	clock.now = clock.now.Add(6 * time.Minute)
	clock.mu.Unlock()

	fresh, err := m.CreateInstance(context.Background())
	require.NoError(t, err)

	m.reclaimIdle()

	ids := make([]string, 0, 2)
	for _, info := range m.Instances() {
		ids = append(ids, info.ID)
	}
	assert.NotContains(t, ids, stale.ID)
	assert.Contains(t, ids, fresh.ID)
	assert.Equal(t, int32(1), driver.closes.Load())
}

func TestShutdownClosesEverything(t *testing.T) {
	driver := &mockDriver{}
	m := NewManager(testBrowserConfig(), driver, zap.NewNop())
	m.Start()

	for i := 0; i < 3; i++ {
		_, err := m.CreateInstance(context.Background())
		require.NoError(t, err)
	}

	m.Shutdown()
	assert.Equal(t, 0, m.GetStats().Instances)
	assert.Equal(t, int32(3), driver.closes.Load())
}
