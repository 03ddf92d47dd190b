// File: internal/classifier/link_traversal.go
// Description: Enumerates contact-vocabulary anchors on the landing page,
// fetches a bounded top-N, and verifies each body before accepting it.
package classifier

import (
	"context"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
)

const (
	traversalFormConfidence = 75
	traversalInfoConfidence = 60
)

type linkTraversalStrategy struct {
	client *http.Client
	maxN   int
	logger *zap.Logger
}

func newLinkTraversalStrategy(client *http.Client, maxCandidates int, logger *zap.Logger) *linkTraversalStrategy {
	if maxCandidates <= 0 {
		maxCandidates = 5
	}
	return &linkTraversalStrategy{
		client: client,
		maxN:   maxCandidates,
		logger: logger.Named("link_traversal"),
	}
}

func (s *linkTraversalStrategy) Name() schemas.DetectionMethod {
	return schemas.MethodLinkTraversal
}

func (s *linkTraversalStrategy) Detect(ctx context.Context, target Target) ([]schemas.DetectionCandidate, error) {
	body, err := fetchPage(ctx, s.client, target.BaseURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	links := collectContactLinks(doc.Selection, target.BaseURL, s.maxN)
	return verifyLinks(ctx, s.client, links, schemas.MethodLinkTraversal, s.logger), nil
}

// collectContactLinks returns up to maxN same-host URLs whose anchor text or
// href matches the contact vocabulary.
func collectContactLinks(scope *goquery.Selection, baseURL string, maxN int) []string {
	seen := make(map[string]struct{})
	var links []string

	scope.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !contactLinkPattern.MatchString(href) && !contactLinkPattern.MatchString(a.Text()) {
			return true
		}
		resolved, ok := resolveURL(baseURL, href)
		if !ok || !sameHost(baseURL, resolved) {
			return true
		}
		key := normalizeURL(resolved)
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		links = append(links, resolved)
		return len(links) < maxN
	})
	return links
}

// verifyLinks fetches each URL and accepts it only when the body shows a form
// or inline contact facts. Per-link failures are logged, never fatal.
func verifyLinks(ctx context.Context, client *http.Client, links []string, method schemas.DetectionMethod, logger *zap.Logger) []schemas.DetectionCandidate {
	var candidates []schemas.DetectionCandidate
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		body, err := fetchPage(ctx, client, link)
		if err != nil {
			logger.Debug("Link fetch failed", zap.String("url", link), zap.Error(err))
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			continue
		}

		hasForm := doc.Find("form").Length() > 0
		hasContactInfo := contactInfoPattern.MatchString(body)
		if !hasForm && !hasContactInfo {
			continue
		}

		confidence := traversalInfoConfidence
		if hasForm {
			confidence = traversalFormConfidence
		}
		title := strings.TrimSpace(doc.Find("title").First().Text())
		candidates = append(candidates, schemas.DetectionCandidate{
			URL:            link,
			Title:          title,
			Confidence:     confidence,
			Method:         method,
			HasForm:        hasForm,
			HasContactInfo: hasContactInfo,
			PageType:       inferPageType(link, title),
		})
	}
	return candidates
}
