// File: internal/classifier/pattern_probe.go
// Description: Cheapest strategy: existence checks against localized contact
// path patterns. A 2xx yields a fixed-confidence candidate with no content
// inspection.
package classifier

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nkoudela/scout-cli/api/schemas"
)

// probeConfidence is the fixed score for a bare existence hit.
const probeConfidence = 85

// patternProbeStrategy issues rate-limited HEAD probes for each known path.
type patternProbeStrategy struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newPatternProbeStrategy(client *http.Client, probesPerSecond float64, logger *zap.Logger) *patternProbeStrategy {
	if probesPerSecond <= 0 {
		probesPerSecond = 4
	}
	return &patternProbeStrategy{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(probesPerSecond), 1),
		logger:  logger.Named("pattern_probe"),
	}
}

func (s *patternProbeStrategy) Name() schemas.DetectionMethod {
	return schemas.MethodPatternProbe
}

func (s *patternProbeStrategy) Detect(ctx context.Context, target Target) ([]schemas.DetectionCandidate, error) {
	base := strings.TrimRight(target.BaseURL, "/")
	var candidates []schemas.DetectionCandidate

	for _, pattern := range contactPathPatterns {
		if err := s.limiter.Wait(ctx); err != nil {
			return candidates, err
		}
		probeURL := base + pattern
		if !s.exists(ctx, probeURL) {
			continue
		}
		candidates = append(candidates, schemas.DetectionCandidate{
			URL:        probeURL,
			Confidence: probeConfidence,
			Method:     schemas.MethodPatternProbe,
			PageType:   inferPageType(probeURL, ""),
		})
		s.logger.Debug("Probe hit", zap.String("url", probeURL))
	}
	return candidates, nil
}

// exists issues a HEAD probe, falling back to GET for servers that reject
// HEAD outright.
func (s *patternProbeStrategy) exists(ctx context.Context, probeURL string) bool {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, probeURL, nil)
		if err != nil {
			return false
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
		if resp.StatusCode != http.StatusMethodNotAllowed {
			return false
		}
	}
	return false
}
