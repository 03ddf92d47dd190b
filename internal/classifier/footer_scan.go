// File: internal/classifier/footer_scan.go
// Description: Applies the link-verification discipline to footer-scoped
// anchors, plus the site's sitemap when one is published.
package classifier

import (
	"context"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
)

type footerScanStrategy struct {
	client *http.Client
	maxN   int
	logger *zap.Logger
}

func newFooterScanStrategy(client *http.Client, maxCandidates int, logger *zap.Logger) *footerScanStrategy {
	if maxCandidates <= 0 {
		maxCandidates = 5
	}
	return &footerScanStrategy{
		client: client,
		maxN:   maxCandidates,
		logger: logger.Named("footer_scan"),
	}
}

func (s *footerScanStrategy) Name() schemas.DetectionMethod {
	return schemas.MethodFooterScan
}

func (s *footerScanStrategy) Detect(ctx context.Context, target Target) ([]schemas.DetectionCandidate, error) {
	links := s.footerLinks(ctx, target)

	// The sitemap augments the footer scan; its absence is not an error.
	if remaining := s.maxN - len(links); remaining > 0 {
		links = append(links, s.sitemapLinks(ctx, target, remaining, links)...)
	}

	return verifyLinks(ctx, s.client, links, schemas.MethodFooterScan, s.logger), nil
}

func (s *footerScanStrategy) footerLinks(ctx context.Context, target Target) []string {
	body, err := fetchPage(ctx, s.client, target.BaseURL)
	if err != nil {
		s.logger.Debug("Landing page fetch failed", zap.Error(err))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}

	footer := doc.Find("footer, .footer, #footer, [role='contentinfo']")
	if footer.Length() == 0 {
		return nil
	}
	return collectContactLinks(footer, target.BaseURL, s.maxN)
}

// sitemapLinks pulls contact-vocabulary URLs out of /sitemap.xml.
func (s *footerScanStrategy) sitemapLinks(ctx context.Context, target Target, maxN int, exclude []string) []string {
	sitemapURL, ok := resolveURL(target.BaseURL, "/sitemap.xml")
	if !ok {
		return nil
	}
	body, err := fetchPage(ctx, s.client, sitemapURL)
	if err != nil {
		return nil
	}

	sitemap := etree.NewDocument()
	if err := sitemap.ReadFromString(body); err != nil {
		s.logger.Debug("Sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}

	seen := make(map[string]struct{}, len(exclude))
	for _, link := range exclude {
		seen[normalizeURL(link)] = struct{}{}
	}

	var links []string
	for _, loc := range sitemap.FindElements("//loc") {
		candidate := strings.TrimSpace(loc.Text())
		if candidate == "" || !contactLinkPattern.MatchString(candidate) {
			continue
		}
		if !sameHost(target.BaseURL, candidate) {
			continue
		}
		key := normalizeURL(candidate)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		links = append(links, candidate)
		if len(links) >= maxN {
			break
		}
	}
	return links
}
