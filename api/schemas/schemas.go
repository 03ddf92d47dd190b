// api/schemas/schemas.go
package schemas

import "time"

// InstanceStatus describes the lifecycle state of a managed browser instance.
type InstanceStatus string

const (
	InstanceActive InstanceStatus = "active"
	InstanceIdle   InstanceStatus = "idle"
	InstanceClosed InstanceStatus = "closed"
)

// TabStatus describes the load state of a tab owned by a browser instance.
type TabStatus string

const (
	TabLoading TabStatus = "loading"
	TabLoaded  TabStatus = "loaded"
	TabError   TabStatus = "error"
)

// InstanceInfo is a read-only snapshot of a managed browser instance.
type InstanceInfo struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Status       InstanceStatus `json:"status"`
	TabCount     int            `json:"tab_count"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Args         []string       `json:"args,omitempty"`
}

// TabInfo is a read-only snapshot of a tab.
type TabInfo struct {
	ID     string    `json:"id"`
	URL    string    `json:"url"`
	Title  string    `json:"title"`
	Status TabStatus `json:"status"`
}

// PoolStats summarizes the resource manager's bookkeeping.
type PoolStats struct {
	Instances      int       `json:"instances"`
	ActiveTabs     int       `json:"active_tabs"`
	MaxInstances   int       `json:"max_instances"`
	MaxTabs        int       `json:"max_tabs_per_instance"`
	OldestInstance *time.Time `json:"oldest_instance,omitempty"`
	NewestInstance *time.Time `json:"newest_instance,omitempty"`
}

// DetectionMethod identifies which classification strategy produced a candidate.
type DetectionMethod string

const (
	MethodPatternProbe  DetectionMethod = "pattern-probe"
	MethodContentScan   DetectionMethod = "content-scan"
	MethodLinkTraversal DetectionMethod = "link-traversal"
	MethodFooterScan    DetectionMethod = "footer-scan"
)

// PageType classifies the role a discovered page plays on the target site.
type PageType string

const (
	PageContact PageType = "contact"
	PageAbout   PageType = "about"
	PageSupport PageType = "support"
	PageInquiry PageType = "inquiry"
	PageOther   PageType = "other"
)

// DetectionCandidate is a scored guess that a URL is the target contact page.
// Candidates are transient: produced per classification run, deduplicated by
// normalized URL and ranked descending by confidence.
type DetectionCandidate struct {
	URL            string          `json:"url"`
	Title          string          `json:"title,omitempty"`
	Confidence     int             `json:"confidence"`
	Method         DetectionMethod `json:"method"`
	HasForm        bool            `json:"has_form"`
	HasContactInfo bool            `json:"has_contact_info"`
	PageType       PageType        `json:"page_type"`
}

// ChallengeType enumerates the automated-access defenses the detector knows.
type ChallengeType string

const (
	ChallengeRecaptcha  ChallengeType = "recaptcha"
	ChallengeHcaptcha   ChallengeType = "hcaptcha"
	ChallengeCloudflare ChallengeType = "cloudflare"
	ChallengeGeneric    ChallengeType = "generic"
	ChallengeNone       ChallengeType = "none"
)

// DefenseChallenge describes a detected anti-automation measure.
type DefenseChallenge struct {
	Type             ChallengeType `json:"type"`
	MatchedSelectors []string      `json:"matched_selectors,omitempty"`
	IframeURLs       []string      `json:"iframe_urls,omitempty"`
	Confidence       int           `json:"confidence"`
}

// DefenseStatus is the terminal state of a defense-response attempt.
type DefenseStatus string

const (
	DefenseSolved   DefenseStatus = "solved"
	DefenseTimedOut DefenseStatus = "timed-out"
	DefenseBypassed DefenseStatus = "bypassed"
)

// DefenseOutcome reports how a challenge was handled. The responder always
// produces an outcome; a challenge that never cleared is reported with
// DefenseTimedOut, never as an error to the caller.
type DefenseOutcome struct {
	Challenge DefenseChallenge `json:"challenge"`
	Status    DefenseStatus    `json:"status"`
	Attempts  int              `json:"attempts"`
	Elapsed   time.Duration    `json:"elapsed"`
	// Screenshot of the page as the challenge was encountered, for audit.
	Screenshot []byte `json:"screenshot,omitempty"`
}

// ConsentStatus is the state of a consent request.
type ConsentStatus string

const (
	ConsentPending ConsentStatus = "pending"
	ConsentGranted ConsentStatus = "granted"
	ConsentDenied  ConsentStatus = "denied"
	ConsentExpired ConsentStatus = "expired"
)

// ConsentRequest asks for permission to run an allow-listed action for an
// origin on a user's behalf. Requests past ExpiresAt transition to expired on
// next access, never silently.
type ConsentRequest struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Origin      string        `json:"origin"`
	Action      string        `json:"action"`
	RequestedAt time.Time     `json:"requested_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Status      ConsentStatus `json:"status"`
}

// ConsentGrant is a time-boxed authorization tying a user, origin, and action
// to a permission set. A grant is usable only for the exact (origin, action)
// pair it was issued for and only while unexpired.
type ConsentGrant struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Origin      string    `json:"origin"`
	Action      string    `json:"action"`
	Permissions []string  `json:"permissions"`
	GrantedAt   time.Time `json:"granted_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ConnectionStatus is the state of a monitored connection.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionError        ConnectionStatus = "error"
	ConnectionTimeout      ConnectionStatus = "timeout"
)

// ConnectionQuality is derived from latency and packet-loss thresholds.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityFair      ConnectionQuality = "fair"
	QualityPoor      ConnectionQuality = "poor"
)

// ConnectionRecord tracks the health of a single automation connection.
type ConnectionRecord struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Origin       string            `json:"origin"`
	ConnectedAt  time.Time         `json:"connected_at"`
	LastActivity time.Time         `json:"last_activity"`
	Status       ConnectionStatus  `json:"status"`
	Quality      ConnectionQuality `json:"quality"`
	LatencyMs    float64           `json:"latency_ms"`
	PacketLoss   float64           `json:"packet_loss"`
	ErrorCount   int               `json:"error_count"`
}

// AlertSeverity ranks how urgent an alert is.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is raised when a connection crosses a monitored threshold.
type Alert struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Severity     AlertSeverity `json:"severity"`
	Message      string        `json:"message"`
	ConnectionID string        `json:"connection_id,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	Resolved     bool          `json:"resolved"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}

// HealthStatus is the monitor's overall verdict.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthSample is one periodic health-check observation. Samples are retained
// for a rolling 24-hour window.
type HealthSample struct {
	Timestamp         time.Time    `json:"timestamp"`
	Status            HealthStatus `json:"status"`
	ActiveConnections int          `json:"active_connections"`
	ErrorRate         float64      `json:"error_rate"`
	UnresolvedAlerts  int          `json:"unresolved_alerts"`
}

// PageAnalysis is the content classifier's judgment for a page excerpt.
type PageAnalysis struct {
	Confidence     int      `json:"confidence"`
	HasContactForm bool     `json:"has_contact_form"`
	HasContactInfo bool     `json:"has_contact_info"`
	PageType       PageType `json:"page_type"`
	ContentSummary string   `json:"content_summary,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
}

// Link is an anchor extracted from a page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// FormField describes a single input inside a form, with an inferred role
// (name, email, phone, subject, message) used for auto-fill.
type FormField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Label    string `json:"label,omitempty"`
	Role     string `json:"role,omitempty"`
	Required bool   `json:"required"`
}

// FormInfo describes a form found on a page.
type FormInfo struct {
	Action string      `json:"action"`
	Method string      `json:"method"`
	Fields []FormField `json:"fields"`
}

// ContactDetails holds the structured facts extracted from a rendered page.
type ContactDetails struct {
	Emails      []string          `json:"emails,omitempty"`
	Phones      []string          `json:"phones,omitempty"`
	Links       []Link            `json:"links,omitempty"`
	SocialLinks []string          `json:"social_links,omitempty"`
	Forms       []FormInfo        `json:"forms,omitempty"`
	Tables      [][]string        `json:"tables,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AutomationResult is the end-to-end outcome of one automation run.
type AutomationResult struct {
	Target    string              `json:"target"`
	Candidate *DetectionCandidate `json:"candidate,omitempty"`
	Defense   *DefenseOutcome     `json:"defense,omitempty"`
	Contact   *ContactDetails     `json:"contact,omitempty"`
	Submitted bool                `json:"submitted"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
	Error     string              `json:"error,omitempty"`
}
