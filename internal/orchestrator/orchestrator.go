// File: internal/orchestrator/orchestrator.go
// Description: Drives one automation request end to end. It is injected with
// fully configured components via interfaces, making it decoupled and testable.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
	"github.com/nkoudela/scout-cli/internal/browser"
	"github.com/nkoudela/scout-cli/internal/classifier"
	"github.com/nkoudela/scout-cli/internal/defense"
)

// ActionContactAutomation is the consent action this pipeline runs under.
const ActionContactAutomation = "contact_automation"

// Request is one automation job.
type Request struct {
	UserID    string
	Origin    string
	GrantID   string
	TargetURL string
	SiteName  string
	Message   Message
	Submit    bool
}

// Message carries the values used to fill a located contact form.
type Message struct {
	Name    string
	Email   string
	Phone   string
	Subject string
	Body    string
}

// Component contracts. The concrete implementations live in their own
// packages; the orchestrator only needs these slices of them.
type (
	// OriginGate admits or rejects the caller's origin.
	OriginGate interface {
		Validate(origin string) error
	}
	// ConsentGate checks a grant covers the action and permissions.
	ConsentGate interface {
		ValidateGrant(grantID, origin, action string, required []string) error
	}
	// BrowserPool hands out instances and tabs.
	BrowserPool interface {
		CreateInstance(ctx context.Context) (*schemas.InstanceInfo, error)
		CreateTab(ctx context.Context, instanceID, url string) (*schemas.TabInfo, error)
		Page(instanceID, tabID string) (browser.Page, error)
		CloseInstance(instanceID string) error
	}
	// PageClassifier locates the contact page.
	PageClassifier interface {
		Classify(ctx context.Context, target classifier.Target) ([]schemas.DetectionCandidate, error)
	}
	// ChallengeDetector inspects the DOM for automation defenses.
	ChallengeDetector interface {
		Detect(html string) (*schemas.DefenseChallenge, error)
	}
	// ChallengeResponder clears or bypasses a detected defense.
	ChallengeResponder interface {
		Respond(ctx context.Context, page defense.Page, challenge *schemas.DefenseChallenge) *schemas.DefenseOutcome
	}
	// ContactExtractor parses page HTML into structured contact facts.
	ContactExtractor interface {
		Extract(html string) (*schemas.ContactDetails, error)
	}
	// ConnectionMonitor records per-run health metrics.
	ConnectionMonitor interface {
		Register(userID, origin string) *schemas.ConnectionRecord
		UpdateActivity(connectionID string, latencyMs, packetLoss float64, errorDelta int) error
		Disconnect(connectionID string) error
	}
	// ResultSink persists finished runs. A nil sink is valid.
	ResultSink interface {
		SaveResult(ctx context.Context, id string, result *schemas.AutomationResult) error
	}
)

// successMarkers verify a submission landed. Matched case-insensitively
// against the post-submit DOM.
var successMarkers = []string{
	"thank you",
	"thanks for",
	"message sent",
	"message received",
	"we'll get back",
	"we will get back",
	"vielen dank",
	"erfolgreich gesendet",
}

// Orchestrator owns the automation control flow.
type Orchestrator struct {
	origins    OriginGate
	consent    ConsentGate
	pool       BrowserPool
	classifier PageClassifier
	detector   ChallengeDetector
	responder  ChallengeResponder
	extractor  ContactExtractor
	monitor    ConnectionMonitor
	sink       ResultSink
	logger     *zap.Logger
}

// New wires an orchestrator. The sink may be nil.
func New(
	origins OriginGate,
	consent ConsentGate,
	pool BrowserPool,
	pageClassifier PageClassifier,
	detector ChallengeDetector,
	responder ChallengeResponder,
	contactExtractor ContactExtractor,
	monitor ConnectionMonitor,
	sink ResultSink,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		origins:    origins,
		consent:    consent,
		pool:       pool,
		classifier: pageClassifier,
		detector:   detector,
		responder:  responder,
		extractor:  contactExtractor,
		monitor:    monitor,
		sink:       sink,
		logger:     logger.Named("orchestrator"),
	}
}

// Run executes one automation request. Policy rejections and resource
// exhaustion come back as typed errors; a missing contact page and failed
// submissions are outcomes reported inside the result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*schemas.AutomationResult, error) {
	result := &schemas.AutomationResult{
		Target:    req.TargetURL,
		StartedAt: time.Now(),
	}
	defer func() { result.Duration = time.Since(result.StartedAt) }()

	// Policy gates run before any resource is acquired.
	if err := o.origins.Validate(req.Origin); err != nil {
		return nil, fmt.Errorf("origin gate: %w", err)
	}
	if err := o.consent.ValidateGrant(req.GrantID, req.Origin, ActionContactAutomation, requiredPermissions(req)); err != nil {
		return nil, fmt.Errorf("consent gate: %w", err)
	}

	conn := o.monitor.Register(req.UserID, req.Origin)
	defer func() {
		if err := o.monitor.Disconnect(conn.ID); err != nil {
			o.logger.Debug("Connection already gone", zap.Error(err))
		}
	}()

	instance, err := o.pool.CreateInstance(ctx)
	if err != nil {
		o.recordError(conn.ID)
		return nil, fmt.Errorf("acquiring browser: %w", err)
	}
	defer func() {
		if err := o.pool.CloseInstance(instance.ID); err != nil {
			o.logger.Warn("Instance teardown failed",
				zap.String("instance_id", instance.ID), zap.Error(err))
		}
	}()

	// Locate the contact page before spending a tab on it.
	candidates, err := o.classifier.Classify(ctx, classifier.Target{
		BaseURL:  req.TargetURL,
		SiteName: req.SiteName,
	})
	if err != nil {
		if errors.Is(err, classifier.ErrNoCandidate) {
			result.Error = "no contact page found"
			o.persist(ctx, result)
			return result, nil
		}
		o.recordError(conn.ID)
		return nil, fmt.Errorf("classifying target: %w", err)
	}
	best := candidates[0]
	result.Candidate = &best

	navStart := time.Now()
	tab, err := o.pool.CreateTab(ctx, instance.ID, best.URL)
	if err != nil {
		o.recordError(conn.ID)
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	latencyMs := float64(time.Since(navStart).Milliseconds())
	if err := o.monitor.UpdateActivity(conn.ID, latencyMs, 0, 0); err != nil {
		o.logger.Debug("Activity update failed", zap.Error(err))
	}

	// The pool keeps failed tabs around for inspection; a tab that never
	// loaded must not be mistaken for a page with no contact info.
	if tab.Status == schemas.TabError {
		o.recordError(conn.ID)
		result.Error = fmt.Sprintf("navigation failed for %s", best.URL)
		o.persist(ctx, result)
		return result, nil
	}

	page, err := o.pool.Page(instance.ID, tab.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving tab: %w", err)
	}

	html, err := page.HTML(ctx)
	if err != nil {
		o.recordError(conn.ID)
		return nil, fmt.Errorf("reading page: %w", err)
	}

	// Challenges are handled fail-open: the run continues either way.
	challenge, err := o.detector.Detect(html)
	if err != nil {
		o.logger.Warn("Challenge detection failed", zap.Error(err))
		challenge = &schemas.DefenseChallenge{Type: schemas.ChallengeNone}
	}
	var challengeShot []byte
	if challenge.Type != schemas.ChallengeNone {
		if shot, err := page.Screenshot(ctx); err != nil {
			o.logger.Debug("Challenge screenshot failed", zap.Error(err))
		} else {
			challengeShot = shot
		}
	}
	result.Defense = o.responder.Respond(ctx, page, challenge)
	result.Defense.Screenshot = challengeShot
	if result.Defense.Status == schemas.DefenseSolved {
		// The cleared page may differ from the challenge interstitial.
		if refreshed, err := page.HTML(ctx); err == nil {
			html = refreshed
		}
	}

	contact, err := o.extractor.Extract(html)
	if err != nil {
		o.recordError(conn.ID)
		return nil, fmt.Errorf("extracting contact details: %w", err)
	}
	result.Contact = contact

	if req.Submit {
		submitted, err := o.fillAndSubmit(ctx, page, contact, req.Message)
		if err != nil {
			// A failed submission is reported, not fatal.
			o.recordError(conn.ID)
			result.Error = fmt.Sprintf("form submission failed: %v", err)
		}
		result.Submitted = submitted
	}

	o.persist(ctx, result)
	o.logger.Info("Automation run finished",
		zap.String("target", req.TargetURL),
		zap.String("contact_url", best.URL),
		zap.Bool("submitted", result.Submitted),
		zap.Duration("duration", time.Since(result.StartedAt)))
	return result, nil
}

// fillAndSubmit types the message into the first contact form by field role,
// submits it, and looks for a success marker in the resulting DOM.
func (o *Orchestrator) fillAndSubmit(ctx context.Context, page browser.Page, contact *schemas.ContactDetails, msg Message) (bool, error) {
	if len(contact.Forms) == 0 {
		return false, errors.New("no form on page")
	}
	form := contact.Forms[0]

	values := map[string]string{
		"name":    msg.Name,
		"email":   msg.Email,
		"phone":   msg.Phone,
		"subject": msg.Subject,
		"message": msg.Body,
	}

	filled := 0
	for _, field := range form.Fields {
		value := values[field.Role]
		if value == "" || field.Name == "" {
			continue
		}
		selector := fmt.Sprintf("[name=%q]", field.Name)
		if err := page.Fill(ctx, selector, value); err != nil {
			return false, fmt.Errorf("filling %s: %w", field.Name, err)
		}
		filled++
	}
	if filled == 0 {
		return false, errors.New("no fillable fields matched")
	}

	if err := page.Click(ctx, "form [type='submit'], form button"); err != nil {
		return false, fmt.Errorf("submitting form: %w", err)
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return false, fmt.Errorf("reading post-submit page: %w", err)
	}
	lower := strings.ToLower(html)
	for _, marker := range successMarkers {
		if strings.Contains(lower, marker) {
			return true, nil
		}
	}
	return false, errors.New("no success marker after submit")
}

func (o *Orchestrator) recordError(connectionID string) {
	if err := o.monitor.UpdateActivity(connectionID, 0, 0, 1); err != nil {
		o.logger.Debug("Error metric update failed", zap.Error(err))
	}
}

func (o *Orchestrator) persist(ctx context.Context, result *schemas.AutomationResult) {
	if o.sink == nil {
		return
	}
	if err := o.sink.SaveResult(ctx, uuid.NewString(), result); err != nil {
		o.logger.Warn("Result persistence failed", zap.Error(err))
	}
}

// requiredPermissions maps a request to the consent permissions it needs.
func requiredPermissions(req Request) []string {
	perms := []string{"navigate", "read_content"}
	if req.Submit {
		perms = append(perms, "fill_forms", "submit_forms")
	}
	return perms
}
