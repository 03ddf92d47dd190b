// File: internal/defense/detector.go
// Description: Inspects rendered DOM for anti-automation challenges using
// data-described vendor rules plus a generic lexical fallback.
package defense

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
)

// vendorRule describes one challenge vendor. Detection is purely additive:
// each matched selector or iframe pattern contributes one hit. New vendors
// are added as rows, not branches.
type vendorRule struct {
	challengeType  schemas.ChallengeType
	selectors      []string
	iframePatterns []string
}

// vendorRules is ordered; ties on confidence resolve to the earlier entry.
var vendorRules = []vendorRule{
	{
		challengeType: schemas.ChallengeRecaptcha,
		selectors: []string{
			".g-recaptcha",
			"#g-recaptcha",
			"iframe[src*='recaptcha']",
			"textarea[name='g-recaptcha-response']",
			"script[src*='recaptcha/api.js']",
		},
		iframePatterns: []string{
			"google.com/recaptcha",
			"recaptcha.net",
		},
	},
	{
		challengeType: schemas.ChallengeHcaptcha,
		selectors: []string{
			".h-captcha",
			"#h-captcha",
			"iframe[src*='hcaptcha']",
			"textarea[name='h-captcha-response']",
			"script[src*='hcaptcha.com']",
		},
		iframePatterns: []string{
			"hcaptcha.com",
		},
	},
	{
		challengeType: schemas.ChallengeCloudflare,
		selectors: []string{
			"#challenge-form",
			"#challenge-running",
			"#cf-challenge-running",
			".cf-turnstile",
			"iframe[src*='challenges.cloudflare.com']",
		},
		iframePatterns: []string{
			"challenges.cloudflare.com",
			"cloudflare.com/cdn-cgi/challenge",
		},
	},
}

// genericTerms is the lexical fallback when no vendor rule matched.
var genericTerms = []string{
	"captcha",
	"verify you are human",
	"are you a robot",
	"security check",
	"challenge-platform",
	"bot detection",
}

const (
	confidencePerHit = 25
	confidenceCap    = 100
)

// Detector scores page DOM against the vendor rule table.
type Detector struct {
	logger *zap.Logger
}

// NewDetector creates a challenge detector.
func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger.Named("defense_detector")}
}

// Detect scores the page against every vendor rule and returns the
// max-confidence match, falling back to a generic lexical scan. A page with
// no signals yields ChallengeNone at confidence 0.
func (d *Detector) Detect(html string) (*schemas.DefenseChallenge, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing page html: %w", err)
	}

	iframeSrcs := collectIframeSrcs(doc)

	best := &schemas.DefenseChallenge{Type: schemas.ChallengeNone}
	for _, rule := range vendorRules {
		candidate := scoreVendor(doc, iframeSrcs, rule)
		if candidate.Confidence > best.Confidence {
			best = candidate
		}
	}

	if best.Confidence == 0 {
		if generic := scoreGeneric(html); generic.Confidence > 0 {
			best = generic
		}
	}

	if best.Type != schemas.ChallengeNone {
		d.logger.Info("Defense challenge detected",
			zap.String("type", string(best.Type)),
			zap.Int("confidence", best.Confidence),
			zap.Strings("selectors", best.MatchedSelectors))
	}
	return best, nil
}

func scoreVendor(doc *goquery.Document, iframeSrcs []string, rule vendorRule) *schemas.DefenseChallenge {
	challenge := &schemas.DefenseChallenge{Type: rule.challengeType}

	hits := 0
	for _, selector := range rule.selectors {
		if doc.Find(selector).Length() > 0 {
			hits++
			challenge.MatchedSelectors = append(challenge.MatchedSelectors, selector)
		}
	}
	for _, pattern := range rule.iframePatterns {
		for _, src := range iframeSrcs {
			if strings.Contains(src, pattern) {
				hits++
				challenge.IframeURLs = append(challenge.IframeURLs, src)
				break
			}
		}
	}

	challenge.Confidence = capConfidence(hits)
	return challenge
}

var nonWord = regexp.MustCompile(`\s+`)

func scoreGeneric(html string) *schemas.DefenseChallenge {
	normalized := nonWord.ReplaceAllString(strings.ToLower(html), " ")

	challenge := &schemas.DefenseChallenge{Type: schemas.ChallengeGeneric}
	hits := 0
	for _, term := range genericTerms {
		if strings.Contains(normalized, term) {
			hits++
			challenge.MatchedSelectors = append(challenge.MatchedSelectors, term)
		}
	}
	if hits == 0 {
		return &schemas.DefenseChallenge{Type: schemas.ChallengeNone}
	}
	challenge.Confidence = capConfidence(hits)
	return challenge
}

func collectIframeSrcs(doc *goquery.Document) []string {
	var srcs []string
	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			srcs = append(srcs, strings.ToLower(src))
		}
	})
	return srcs
}

func capConfidence(hits int) int {
	confidence := hits * confidencePerHit
	if confidence > confidenceCap {
		return confidenceCap
	}
	return confidence
}
