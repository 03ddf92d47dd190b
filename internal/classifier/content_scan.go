// File: internal/classifier/content_scan.go
// Description: Fetches the landing page, tests for contact vocabulary, and
// defers to the pluggable content classifier for a confidence judgment. The
// classifier is optional; a keyword/form heuristic covers its absence.
package classifier

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
)

// excerptLimit bounds how much page text is handed to the content classifier.
const excerptLimit = 4000

type contentScanStrategy struct {
	client     *http.Client
	classifier schemas.ContentClassifier
	logger     *zap.Logger
}

func newContentScanStrategy(client *http.Client, classifier schemas.ContentClassifier, logger *zap.Logger) *contentScanStrategy {
	return &contentScanStrategy{
		client:     client,
		classifier: classifier,
		logger:     logger.Named("content_scan"),
	}
}

func (s *contentScanStrategy) Name() schemas.DetectionMethod {
	return schemas.MethodContentScan
}

func (s *contentScanStrategy) Detect(ctx context.Context, target Target) ([]schemas.DetectionCandidate, error) {
	body, err := fetchPage(ctx, s.client, target.BaseURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	text := doc.Text()
	keywordHits := countKeywordHits(text)
	if keywordHits == 0 {
		return nil, nil
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	hasForm := doc.Find("form").Length() > 0
	hasContactInfo := contactInfoPattern.MatchString(body)

	candidate := schemas.DetectionCandidate{
		URL:            target.BaseURL,
		Title:          title,
		Method:         schemas.MethodContentScan,
		HasForm:        hasForm,
		HasContactInfo: hasContactInfo,
	}

	if analysis := s.analyze(ctx, target, title, text); analysis != nil {
		candidate.Confidence = analysis.Confidence
		candidate.PageType = analysis.PageType
		candidate.HasForm = candidate.HasForm || analysis.HasContactForm
		candidate.HasContactInfo = candidate.HasContactInfo || analysis.HasContactInfo
	} else {
		candidate.Confidence = heuristicConfidence(keywordHits, hasForm, hasContactInfo)
		candidate.PageType = inferPageType(target.BaseURL, title)
	}

	return []schemas.DetectionCandidate{candidate}, nil
}

// analyze calls the content classifier, swallowing its failures. Absence or
// error of the classifier never fails the strategy.
func (s *contentScanStrategy) analyze(ctx context.Context, target Target, title, text string) *schemas.PageAnalysis {
	if s.classifier == nil {
		return nil
	}
	excerpt := clampExcerpt(text)
	analysis, err := s.classifier.AnalyzeContactPage(ctx, schemas.AnalyzeInput{
		URL:            target.BaseURL,
		Title:          title,
		ContentExcerpt: excerpt,
		SubjectName:    target.SiteName,
	})
	if err != nil {
		s.logger.Warn("Content classifier unavailable, using heuristic", zap.Error(err))
		return nil
	}
	return analysis
}

// clampExcerpt bounds the text at excerptLimit bytes without splitting a
// multi-byte rune at the cut.
func clampExcerpt(text string) string {
	if len(text) <= excerptLimit {
		return text
	}
	cut := excerptLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// heuristicConfidence is the fallback scoring when no classifier is wired.
func heuristicConfidence(keywordHits int, hasForm, hasContactInfo bool) int {
	confidence := 30
	if keywordHits > 4 {
		keywordHits = 4
	}
	confidence += keywordHits * 10
	if hasForm {
		confidence += 15
	}
	if hasContactInfo {
		confidence += 10
	}
	if confidence > 95 {
		confidence = 95
	}
	return confidence
}
