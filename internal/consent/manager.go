// File: internal/consent/manager.go
// Description: Issues, validates, and expires time-boxed permission grants
// that authorize an origin to use automation capabilities on a user's behalf.
package consent

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
	// ErrUnknownAction rejects requests for actions outside the allow-listed vocabulary.
	ErrUnknownAction = errors.New("unknown consent action")
	// ErrTooManyPending enforces the per-user pending-request bound.
	ErrTooManyPending = errors.New("too many pending consent requests")
	// ErrRequestNotFound means the request id is unknown.
	ErrRequestNotFound = errors.New("consent request not found")
	// ErrNotPending means the request already left the pending state.
	ErrNotPending = errors.New("consent request is not pending")
	// ErrRequestExpired means the request passed its expiry before a decision.
	ErrRequestExpired = errors.New("consent request expired")
	// ErrGrantNotFound means the grant id is unknown or already purged.
	ErrGrantNotFound = errors.New("consent grant not found")
	// ErrGrantExpired means the grant passed its expiry.
	ErrGrantExpired = errors.New("consent grant expired")
	// ErrOriginMismatch means the grant was issued for a different origin.
	ErrOriginMismatch = errors.New("grant origin mismatch")
	// ErrActionMismatch means the grant was issued for a different action.
	ErrActionMismatch = errors.New("grant action mismatch")
	// ErrPermissionDenied means a required permission is missing from the grant.
	ErrPermissionDenied = errors.New("permission not granted")
)

// Stats summarizes the manager's tables for the HTTP surface.
type Stats struct {
	PendingRequests int `json:"pending_requests"`
	GrantedRequests int `json:"granted_requests"`
	DeniedRequests  int `json:"denied_requests"`
	ExpiredRequests int `json:"expired_requests"`
	ActiveGrants    int `json:"active_grants"`
}

// Manager owns the consent request and grant tables. All access goes through
// its methods; a periodic sweep proactively expires stale pending requests
// and purges expired grants to bound memory.
type Manager struct {
	cfg    config.ConsentConfig
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	requests    map[string]*schemas.ConsentRequest
	grants      map[string]*schemas.ConsentGrant
	actions     map[string]struct{}
	permissions map[string]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a time source. Used by tests to simulate expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a consent manager. Call Start to begin the expiry sweep
// and Stop on shutdown.
func NewManager(cfg config.ConsentConfig, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:         cfg,
		logger:      logger.Named("consent_manager"),
		now:         time.Now,
		requests:    make(map[string]*schemas.ConsentRequest),
		grants:      make(map[string]*schemas.ConsentGrant),
		actions:     make(map[string]struct{}, len(cfg.AllowedActions)),
		permissions: make(map[string]struct{}, len(cfg.AllowedPermissions)),
		stopCh:      make(chan struct{}),
	}
	for _, a := range cfg.AllowedActions {
		m.actions[a] = struct{}{}
	}
	for _, p := range cfg.AllowedPermissions {
		m.permissions[p] = struct{}{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the periodic expiry sweep.
func (m *Manager) Start() {
	interval := m.cfg.SweepInterval
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
				m.sweep()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the sweep goroutine. Safe to call multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// CreateRequest registers a new pending consent request. It rejects unknown
// actions and enforces the per-user pending bound.
func (m *Manager) CreateRequest(userID, origin, action string) (*schemas.ConsentRequest, error) {
	if _, ok := m.actions[action]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	pending := 0
	for _, req := range m.requests {
		if req.UserID != userID {
			continue
		}
		// Lazy expiry so stale requests never count against the bound.
		if req.Status == schemas.ConsentPending && now.After(req.ExpiresAt) {
			req.Status = schemas.ConsentExpired
		}
		if req.Status == schemas.ConsentPending {
			pending++
		}
	}
	if pending >= m.cfg.MaxPendingPerUser {
		return nil, fmt.Errorf("%w: user %s has %d pending", ErrTooManyPending, userID, pending)
	}

	req := &schemas.ConsentRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		Origin:      origin,
		Action:      action,
		RequestedAt: now,
		ExpiresAt:   now.Add(m.cfg.Expiry()),
		Status:      schemas.ConsentPending,
	}
	m.requests[req.ID] = req

	m.logger.Info("Consent request created",
		zap.String("request_id", req.ID),
		zap.String("user_id", userID),
		zap.String("origin", origin),
		zap.String("action", action))

	out := *req
	return &out, nil
}

// Grant transitions a pending request to granted and issues a grant carrying
// the requested permissions filtered down to the allow-listed vocabulary.
// Granting a request past its expiry fails and marks the request expired.
func (m *Manager) Grant(requestID string, permissions []string) (*schemas.ConsentGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != schemas.ConsentPending {
		return nil, fmt.Errorf("%w: status is %s", ErrNotPending, req.Status)
	}
	now := m.now()
	if now.After(req.ExpiresAt) {
		req.Status = schemas.ConsentExpired
		return nil, ErrRequestExpired
	}

	granted := make([]string, 0, len(permissions))
	for _, p := range permissions {
		if _, ok := m.permissions[p]; ok {
			granted = append(granted, p)
		}
	}

	grant := &schemas.ConsentGrant{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Origin:      req.Origin,
		Action:      req.Action,
		Permissions: granted,
		GrantedAt:   now,
		ExpiresAt:   now.Add(m.cfg.Expiry()),
	}
	m.grants[grant.ID] = grant
	req.Status = schemas.ConsentGranted

	m.logger.Info("Consent granted",
		zap.String("request_id", requestID),
		zap.String("grant_id", grant.ID),
		zap.Strings("permissions", granted))

	out := *grant
	return &out, nil
}

// Deny transitions a pending request to denied.
func (m *Manager) Deny(requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status != schemas.ConsentPending {
		return fmt.Errorf("%w: status is %s", ErrNotPending, req.Status)
	}
	if m.now().After(req.ExpiresAt) {
		req.Status = schemas.ConsentExpired
		return ErrRequestExpired
	}
	req.Status = schemas.ConsentDenied
	m.logger.Info("Consent denied", zap.String("request_id", requestID))
	return nil
}

// ValidateGrant checks that a grant exists, is unexpired, matches the exact
// (origin, action) pair, and covers every required permission. Expired grants
// are deleted lazily here.
func (m *Manager) ValidateGrant(grantID, origin, action string, required []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	grant, ok := m.grants[grantID]
	if !ok {
		return ErrGrantNotFound
	}
	if m.now().After(grant.ExpiresAt) {
		delete(m.grants, grantID)
		return ErrGrantExpired
	}
	if grant.Origin != origin {
		return ErrOriginMismatch
	}
	if grant.Action != action {
		return ErrActionMismatch
	}

	held := make(map[string]struct{}, len(grant.Permissions))
	for _, p := range grant.Permissions {
		held[p] = struct{}{}
	}
	for _, p := range required {
		if _, ok := held[p]; !ok {
			return fmt.Errorf("%w: %q", ErrPermissionDenied, p)
		}
	}
	return nil
}

// GetRequest returns a copy of a request, lazily expiring it if stale.
func (m *Manager) GetRequest(requestID string) (*schemas.ConsentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status == schemas.ConsentPending && m.now().After(req.ExpiresAt) {
		req.Status = schemas.ConsentExpired
	}
	out := *req
	return &out, nil
}

// Stats reports the current table counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	now := m.now()
	for _, req := range m.requests {
		status := req.Status
		if status == schemas.ConsentPending && now.After(req.ExpiresAt) {
			status = schemas.ConsentExpired
		}
		switch status {
		case schemas.ConsentPending:
			s.PendingRequests++
		case schemas.ConsentGranted:
			s.GrantedRequests++
		case schemas.ConsentDenied:
			s.DeniedRequests++
		case schemas.ConsentExpired:
			s.ExpiredRequests++
		}
	}
	s.ActiveGrants = len(m.grants)
	return s
}

// sweep proactively expires stale pending requests and purges expired grants.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	expiredRequests, purgedGrants := 0, 0

	for _, req := range m.requests {
		if req.Status == schemas.ConsentPending && now.After(req.ExpiresAt) {
			req.Status = schemas.ConsentExpired
			expiredRequests++
		}
	}
	for id, grant := range m.grants {
		if now.After(grant.ExpiresAt) {
			delete(m.grants, id)
			purgedGrants++
		}
	}

	if expiredRequests > 0 || purgedGrants > 0 {
		m.logger.Debug("Consent sweep finished",
			zap.Int("expired_requests", expiredRequests),
			zap.Int("purged_grants", purgedGrants))
	}
}
