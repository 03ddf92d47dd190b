// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
	"github.com/nkoudela/scout-cli/internal/browser"
	"github.com/nkoudela/scout-cli/internal/classifier"
	"github.com/nkoudela/scout-cli/internal/defense"
	"github.com/nkoudela/scout-cli/internal/origin"
)

// --- Fakes ---

type fakeOrigins struct{ err error }

func (f *fakeOrigins) Validate(string) error { return f.err }

type fakeConsent struct {
	err      error
	required []string
}

func (f *fakeConsent) ValidateGrant(_, _, _ string, required []string) error {
	f.required = required
	return f.err
}

type fakePage struct {
	mu         sync.Mutex
	html       string
	submitHTML string
	filled     map[string]string
	clicks     []string
	fillErr    error
}

func newFakePage(html, submitHTML string) *fakePage {
	return &fakePage{html: html, submitHTML: submitHTML, filled: map[string]string{}}
}

func (p *fakePage) Navigate(context.Context, string) error     { return nil }
func (p *fakePage) URL(context.Context) (string, error)        { return "", nil }
func (p *fakePage) Title(context.Context) (string, error)      { return "", nil }
func (p *fakePage) Screenshot(context.Context) ([]byte, error) { return []byte("png-bytes"), nil }
func (p *fakePage) Close() error                               { return nil }

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	if p.submitHTML != "" {
		p.html = p.submitHTML
	}
	return nil
}

func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fillErr != nil {
		return p.fillErr
	}
	p.filled[selector] = value
	return nil
}

func (p *fakePage) Evaluate(context.Context, string, any) error { return nil }

type fakePool struct {
	page        *fakePage
	instanceErr error
	tabErr      error
	tabStatus   schemas.TabStatus
	closed      []string
}

func (f *fakePool) CreateInstance(context.Context) (*schemas.InstanceInfo, error) {
	if f.instanceErr != nil {
		return nil, f.instanceErr
	}
	return &schemas.InstanceInfo{ID: "inst-1"}, nil
}

func (f *fakePool) CreateTab(_ context.Context, _, url string) (*schemas.TabInfo, error) {
	if f.tabErr != nil {
		return nil, f.tabErr
	}
	status := f.tabStatus
	if status == "" {
		status = schemas.TabLoaded
	}
	return &schemas.TabInfo{ID: "tab-1", URL: url, Status: status}, nil
}

func (f *fakePool) Page(string, string) (browser.Page, error) { return f.page, nil }

func (f *fakePool) CloseInstance(instanceID string) error {
	f.closed = append(f.closed, instanceID)
	return nil
}

type fakeClassifier struct {
	candidates []schemas.DetectionCandidate
	err        error
}

func (f *fakeClassifier) Classify(context.Context, classifier.Target) ([]schemas.DetectionCandidate, error) {
	return f.candidates, f.err
}

type fakeDetector struct {
	challenge *schemas.DefenseChallenge
	err       error
}

func (f *fakeDetector) Detect(string) (*schemas.DefenseChallenge, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.challenge != nil {
		return f.challenge, nil
	}
	return &schemas.DefenseChallenge{Type: schemas.ChallengeNone}, nil
}

type fakeResponder struct{ status schemas.DefenseStatus }

func (f *fakeResponder) Respond(_ context.Context, _ defense.Page, challenge *schemas.DefenseChallenge) *schemas.DefenseOutcome {
	status := f.status
	if status == "" {
		status = schemas.DefenseBypassed
	}
	return &schemas.DefenseOutcome{Challenge: *challenge, Status: status}
}

type fakeExtractor struct {
	contact *schemas.ContactDetails
	err     error
}

func (f *fakeExtractor) Extract(string) (*schemas.ContactDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.contact != nil {
		return f.contact, nil
	}
	return &schemas.ContactDetails{}, nil
}

type fakeMonitor struct {
	mu           sync.Mutex
	registered   int
	disconnected []string
	errorCount   int
}

func (f *fakeMonitor) Register(userID, origin string) *schemas.ConnectionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	return &schemas.ConnectionRecord{ID: "conn-1", UserID: userID, Origin: origin}
}

func (f *fakeMonitor) UpdateActivity(_ string, _, _ float64, errorDelta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorCount += errorDelta
	return nil
}

func (f *fakeMonitor) Disconnect(connectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, connectionID)
	return nil
}

type fakeSink struct {
	mu    sync.Mutex
	saved []*schemas.AutomationResult
}

func (f *fakeSink) SaveResult(_ context.Context, _ string, result *schemas.AutomationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, result)
	return nil
}

// --- Harness ---

type harness struct {
	origins    *fakeOrigins
	consent    *fakeConsent
	pool       *fakePool
	classifier *fakeClassifier
	detector   *fakeDetector
	responder  *fakeResponder
	extractor  *fakeExtractor
	monitor    *fakeMonitor
	sink       *fakeSink
	orch       *Orchestrator
}

const contactFormHTML = `<html><body><h1>Contact us</h1>
<form action="/send" method="post">
  <input type="text" name="name">
  <input type="email" name="email">
  <textarea name="message"></textarea>
  <button type="submit">Send</button>
</form></body></html>`

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		origins: &fakeOrigins{},
		consent: &fakeConsent{},
		pool:    &fakePool{page: newFakePage(contactFormHTML, "<html><body>Thank you for your message.</body></html>")},
		classifier: &fakeClassifier{candidates: []schemas.DetectionCandidate{{
			URL:        "https://acme.example/contact",
			Confidence: 85,
			Method:     schemas.MethodPatternProbe,
			PageType:   schemas.PageContact,
			HasForm:    true,
		}}},
		detector:  &fakeDetector{},
		responder: &fakeResponder{},
		extractor: &fakeExtractor{contact: &schemas.ContactDetails{
			Emails: []string{"hello@acme.example"},
			Forms: []schemas.FormInfo{{
				Action: "/send",
				Method: "post",
				Fields: []schemas.FormField{
					{Name: "name", Type: "text", Role: "name"},
					{Name: "email", Type: "email", Role: "email"},
					{Name: "message", Type: "textarea", Role: "message"},
				},
			}},
		}},
		monitor: &fakeMonitor{},
		sink:    &fakeSink{},
	}
	h.orch = New(h.origins, h.consent, h.pool, h.classifier, h.detector,
		h.responder, h.extractor, h.monitor, h.sink, zap.NewNop())
	return h
}

func testRequest() Request {
	return Request{
		UserID:    "user-1",
		Origin:    "https://app.example",
		GrantID:   "grant-1",
		TargetURL: "https://acme.example",
		SiteName:  "Acme GmbH",
		Message: Message{
			Name:  "Jordan Smith",
			Email: "jordan@sender.example",
			Body:  "Hello, I have a question about your services.",
		},
		Submit: true,
	}
}

// --- Tests ---

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t)

	result, err := h.orch.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.True(t, result.Submitted)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.Candidate)
	assert.Equal(t, "https://acme.example/contact", result.Candidate.URL)
	require.NotNil(t, result.Contact)
	assert.Equal(t, []string{"hello@acme.example"}, result.Contact.Emails)
	require.NotNil(t, result.Defense)
	assert.Equal(t, schemas.DefenseBypassed, result.Defense.Status)

	assert.Equal(t, "Jordan Smith", h.pool.page.filled[`[name="name"]`])
	assert.Equal(t, "jordan@sender.example", h.pool.page.filled[`[name="email"]`])
	assert.NotEmpty(t, h.pool.page.filled[`[name="message"]`])

	assert.Equal(t, []string{"inst-1"}, h.pool.closed)
	assert.Equal(t, []string{"conn-1"}, h.monitor.disconnected)
	require.Len(t, h.sink.saved, 1)
	assert.True(t, h.sink.saved[0].Submitted)
}

func TestRunPolicyGates(t *testing.T) {
	t.Run("rejected origin stops before any resource", func(t *testing.T) {
		h := newHarness(t)
		h.origins.err = origin.ErrOriginRejected

		_, err := h.orch.Run(context.Background(), testRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, origin.ErrOriginRejected)
		assert.Zero(t, h.monitor.registered)
		assert.Empty(t, h.pool.closed)
		assert.Empty(t, h.sink.saved)
	})

	t.Run("invalid grant stops before any resource", func(t *testing.T) {
		h := newHarness(t)
		grantErr := errors.New("grant expired")
		h.consent.err = grantErr

		_, err := h.orch.Run(context.Background(), testRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, grantErr)
		assert.Zero(t, h.monitor.registered)
	})

	t.Run("submit requests form permissions", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.orch.Run(context.Background(), testRequest())
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]string{"navigate", "read_content", "fill_forms", "submit_forms"},
			h.consent.required)
	})

	t.Run("read-only run requests fewer permissions", func(t *testing.T) {
		h := newHarness(t)
		req := testRequest()
		req.Submit = false

		_, err := h.orch.Run(context.Background(), req)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"navigate", "read_content"}, h.consent.required)
	})
}

func TestRunNoContactPage(t *testing.T) {
	h := newHarness(t)
	h.classifier.candidates = nil
	h.classifier.err = classifier.ErrNoCandidate

	result, err := h.orch.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "no contact page found", result.Error)
	assert.False(t, result.Submitted)
	assert.Nil(t, result.Candidate)

	// The miss is still an outcome worth recording.
	require.Len(t, h.sink.saved, 1)
	assert.Equal(t, []string{"inst-1"}, h.pool.closed)
}

func TestRunResourceExhaustion(t *testing.T) {
	h := newHarness(t)
	h.pool.instanceErr = browser.ErrPoolExhausted

	_, err := h.orch.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrPoolExhausted)
	assert.Equal(t, 1, h.monitor.errorCount)
	assert.Equal(t, []string{"conn-1"}, h.monitor.disconnected)
}

func TestRunReleasesInstanceOnTabFailure(t *testing.T) {
	h := newHarness(t)
	h.pool.tabErr = browser.ErrTabLimitExceeded

	_, err := h.orch.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, []string{"inst-1"}, h.pool.closed)
	assert.Equal(t, []string{"conn-1"}, h.monitor.disconnected)
}

func TestRunNavigationFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.pool.tabStatus = schemas.TabError

	result, err := h.orch.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Contains(t, result.Error, "navigation failed")
	assert.Nil(t, result.Contact)
	assert.False(t, result.Submitted)
	assert.Equal(t, 1, h.monitor.errorCount)

	// The failure is persisted and the resources come back.
	require.Len(t, h.sink.saved, 1)
	assert.Equal(t, []string{"inst-1"}, h.pool.closed)
	assert.Equal(t, []string{"conn-1"}, h.monitor.disconnected)
}

func TestRunUnclearedDefenseStillExtracts(t *testing.T) {
	h := newHarness(t)
	h.detector.challenge = &schemas.DefenseChallenge{
		Type:       schemas.ChallengeRecaptcha,
		Confidence: 100,
	}
	h.responder.status = schemas.DefenseTimedOut

	result, err := h.orch.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, schemas.DefenseTimedOut, result.Defense.Status)
	assert.Equal(t, []byte("png-bytes"), result.Defense.Screenshot)
	require.NotNil(t, result.Contact)
	assert.Equal(t, []string{"hello@acme.example"}, result.Contact.Emails)
}

func TestRunDetectionErrorIsFailOpen(t *testing.T) {
	h := newHarness(t)
	h.detector.err = errors.New("malformed DOM")

	result, err := h.orch.Run(context.Background(), testRequest())
	require.NoError(t, err)
	require.NotNil(t, result.Defense)
	assert.Equal(t, schemas.ChallengeNone, result.Defense.Challenge.Type)
	assert.True(t, result.Submitted)
}

func TestRunSubmissionFailures(t *testing.T) {
	t.Run("no form on page", func(t *testing.T) {
		h := newHarness(t)
		h.extractor.contact = &schemas.ContactDetails{Emails: []string{"hello@acme.example"}}

		result, err := h.orch.Run(context.Background(), testRequest())
		require.NoError(t, err)
		assert.False(t, result.Submitted)
		assert.Contains(t, result.Error, "no form on page")
		assert.Equal(t, 1, h.monitor.errorCount)
	})

	t.Run("missing success marker", func(t *testing.T) {
		h := newHarness(t)
		h.pool.page.submitHTML = "<html><body>An error occurred.</body></html>"

		result, err := h.orch.Run(context.Background(), testRequest())
		require.NoError(t, err)
		assert.False(t, result.Submitted)
		assert.True(t, strings.Contains(result.Error, "success marker"))
	})

	t.Run("fill failure is reported", func(t *testing.T) {
		h := newHarness(t)
		h.pool.page.fillErr = errors.New("element not found")

		result, err := h.orch.Run(context.Background(), testRequest())
		require.NoError(t, err)
		assert.False(t, result.Submitted)
		assert.Contains(t, result.Error, "form submission failed")
	})
}
