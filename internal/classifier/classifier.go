// File: internal/classifier/classifier.go
// Description: Runs the enabled detection strategies concurrently and merges
// their candidate lists into a single ranked result.
package classifier

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nkoudela/scout-cli/api/schemas"
	"github.com/nkoudela/scout-cli/internal/config"
)

// ErrNoCandidate means no strategy produced a candidate at or above the
// configured confidence floor. It is an outcome, not a failure.
var ErrNoCandidate = errors.New("no contact page found")

// Classifier fans a target out to its strategies. Each strategy owns its
// result list; the merge is the only serialization point.
type Classifier struct {
	cfg        config.ClassifierConfig
	strategies []Strategy
	logger     *zap.Logger
}

// New builds a classifier from configuration. The content classifier may be
// nil; the content-scan strategy then runs on its heuristic alone.
func New(cfg config.ClassifierConfig, contentClassifier schemas.ContentClassifier, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("page_classifier")

	client := &http.Client{Timeout: cfg.ProbeTimeout}

	var strategies []Strategy
	if cfg.PatternProbe {
		strategies = append(strategies, newPatternProbeStrategy(client, cfg.ProbeRateLimit, logger))
	}
	if cfg.ContentScan {
		strategies = append(strategies, newContentScanStrategy(client, contentClassifier, logger))
	}
	if cfg.LinkTraversal {
		strategies = append(strategies, newLinkTraversalStrategy(client, cfg.MaxLinkCandidates, logger))
	}
	if cfg.FooterScan {
		strategies = append(strategies, newFooterScanStrategy(client, cfg.MaxLinkCandidates, logger))
	}

	return &Classifier{cfg: cfg, strategies: strategies, logger: logger}
}

// NewWithStrategies builds a classifier over an explicit strategy set.
func NewWithStrategies(cfg config.ClassifierConfig, logger *zap.Logger, strategies ...Strategy) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{cfg: cfg, strategies: strategies, logger: logger.Named("page_classifier")}
}

// Classify runs every strategy concurrently and merges the results. A failing
// strategy contributes zero candidates; only a fully empty merge below the
// confidence floor yields ErrNoCandidate.
func (c *Classifier) Classify(ctx context.Context, target Target) ([]schemas.DetectionCandidate, error) {
	results := make([][]schemas.DetectionCandidate, len(c.strategies))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, strategy := range c.strategies {
		g.Go(func() error {
			candidates, err := strategy.Detect(gctx, target)
			if err != nil {
				// Strategy errors are isolated; siblings keep running.
				c.logger.Warn("Detection strategy failed",
					zap.String("strategy", string(strategy.Name())),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			results[i] = candidates
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeCandidates(results...)

	filtered := merged[:0]
	for _, cand := range merged {
		if cand.Confidence >= c.cfg.MinConfidence {
			filtered = append(filtered, cand)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoCandidate
	}

	c.logger.Info("Classification finished",
		zap.String("base_url", target.BaseURL),
		zap.Int("candidates", len(filtered)),
		zap.String("best_url", filtered[0].URL),
		zap.Int("best_confidence", filtered[0].Confidence))
	return filtered, nil
}
