// File: internal/origin/validator.go
// Description: Trust gate admitting or rejecting inbound requests by origin,
// protocol, and port, with a bounded violation log for abuse reporting.
package origin

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/internal/config"
)

// ErrOriginRejected is returned for every origin the validator refuses.
// Callers discriminate with errors.Is; the wrapped message carries the reason.
var ErrOriginRejected = errors.New("origin rejected")

// Violation records one rejected origin for abuse-pattern reporting.
type Violation struct {
	Origin string    `json:"origin"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Stats aggregates the retained violation log.
type Stats struct {
	Total    int            `json:"total"`
	ByReason map[string]int `json:"by_reason"`
	ByOrigin map[string]int `json:"by_origin"`
}

// Validator is a static/dynamic allow-list gate. All mutable state is owned
// here and guarded by the mutex; the violation log is a bounded ring that
// drops the oldest entry past the configured cap.
type Validator struct {
	logger *zap.Logger

	mu         sync.Mutex
	exact      map[string]struct{}
	wildcards  []wildcardEntry
	protocols  map[string]struct{}
	ports      map[string]struct{}
	strictMode bool
	cap        int
	violations []Violation
}

type wildcardEntry struct {
	scheme string
	domain string // bare domain the subdomain must end with
	port   string
}

// NewValidator builds a validator from configuration.
func NewValidator(cfg config.OriginConfig, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		logger:     logger.Named("origin_validator"),
		protocols:  toSet(cfg.AllowedProtocols),
		ports:      toSet(cfg.AllowedPorts),
		strictMode: cfg.StrictMode,
		cap:        cfg.ViolationLogCap,
	}
	v.setAllowedLocked(cfg.AllowedOrigins)
	return v
}

// Validate parses the origin and checks it against the allow-list.
// Every rejection is recorded in the violation log.
func (v *Validator) Validate(origin string) error {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return v.reject(origin, "malformed origin")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	scheme := strings.ToLower(u.Scheme)
	if _, ok := v.protocols[scheme]; !ok {
		return v.rejectLocked(origin, fmt.Sprintf("protocol %q not allowed", scheme))
	}

	port := u.Port()
	if _, ok := v.ports[port]; !ok {
		return v.rejectLocked(origin, fmt.Sprintf("port %q not allowed", port))
	}

	normalized := scheme + "://" + strings.ToLower(u.Host)
	if _, ok := v.exact[normalized]; ok {
		return nil
	}

	if !v.strictMode {
		host := strings.ToLower(u.Hostname())
		for _, w := range v.wildcards {
			if w.scheme != scheme || w.port != port {
				continue
			}
			if host == w.domain || strings.HasSuffix(host, "."+w.domain) {
				return nil
			}
		}
	}

	return v.rejectLocked(origin, "origin not in allow-list")
}

// UpdateAllowList replaces the allowed origin set at runtime.
func (v *Validator) UpdateAllowList(origins []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setAllowedLocked(origins)
	v.logger.Info("Origin allow-list updated", zap.Int("entries", len(origins)))
}

// SetStrictMode toggles wildcard-subdomain matching at runtime.
func (v *Validator) SetStrictMode(strict bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.strictMode = strict
}

// Violations returns a copy of the retained violation log, oldest first.
func (v *Validator) Violations() []Violation {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Violation, len(v.violations))
	copy(out, v.violations)
	return out
}

// ViolationStats aggregates the retained violations by reason and origin.
func (v *Validator) ViolationStats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := Stats{
		Total:    len(v.violations),
		ByReason: make(map[string]int),
		ByOrigin: make(map[string]int),
	}
	for _, viol := range v.violations {
		s.ByReason[viol.Reason]++
		s.ByOrigin[viol.Origin]++
	}
	return s
}

func (v *Validator) setAllowedLocked(origins []string) {
	v.exact = make(map[string]struct{}, len(origins))
	v.wildcards = v.wildcards[:0]
	for _, o := range origins {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && strings.HasPrefix(u.Hostname(), "*.") {
			v.wildcards = append(v.wildcards, wildcardEntry{
				scheme: u.Scheme,
				domain: strings.TrimPrefix(u.Hostname(), "*."),
				port:   u.Port(),
			})
			continue
		}
		v.exact[o] = struct{}{}
	}
}

func (v *Validator) reject(origin, reason string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rejectLocked(origin, reason)
}

func (v *Validator) rejectLocked(origin, reason string) error {
	v.violations = append(v.violations, Violation{Origin: origin, Reason: reason, At: time.Now()})
	if v.cap > 0 && len(v.violations) > v.cap {
		// Drop the oldest entries past the cap.
		v.violations = v.violations[len(v.violations)-v.cap:]
	}
	v.logger.Warn("Origin rejected", zap.String("origin", origin), zap.String("reason", reason))
	return fmt.Errorf("%w: %s", ErrOriginRejected, reason)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, s := range values {
		set[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return set
}
