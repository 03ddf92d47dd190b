// File: internal/classifier/strategy.go
// Description: Strategy contract plus the shared HTTP fetch and URL helpers
// every strategy builds on. Strategies hold no shared mutable state.
package classifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/nkoudela/scout-cli/api/schemas"
)

// Target identifies one classification run.
type Target struct {
	BaseURL  string
	SiteName string
}

// Strategy produces its own candidate list; the engine merges lists from all
// strategies afterward. Implementations must be safe to run concurrently.
type Strategy interface {
	Name() schemas.DetectionMethod
	Detect(ctx context.Context, target Target) ([]schemas.DetectionCandidate, error)
}

const maxFetchBytes = 2 << 20

// fetchPage GETs a URL and returns its body, bounded to maxFetchBytes.
func fetchPage(ctx context.Context, client *http.Client, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode)
	}

	// Sites outside the UTF-8 world (common for small European businesses)
	// declare legacy charsets; decode before any lexical matching.
	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxFetchBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", pageURL, err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", pageURL, err)
	}
	return string(body), nil
}

// normalizeURL lowercases scheme and host, strips fragments and trailing
// slashes. It is the dedup key for the merge step.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	// Paths only vary meaningfully by case on a few hosts; detection treats
	// them as equivalent.
	u.Path = strings.ToLower(u.Path)
	return u.String()
}

// resolveURL joins a possibly-relative href against the page it came from.
func resolveURL(base, href string) (string, bool) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	resolved := baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}

// sameHost reports whether a resolved URL stays on the target site.
func sameHost(base, candidate string) bool {
	b, err1 := url.Parse(base)
	c, err2 := url.Parse(candidate)
	if err1 != nil || err2 != nil {
		return false
	}
	return strings.EqualFold(b.Hostname(), c.Hostname())
}
