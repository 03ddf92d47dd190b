// api/schemas/interfaces.go
package schemas

import "context"

// AnalyzeInput is the narrow contract handed to the content classifier.
type AnalyzeInput struct {
	URL            string
	Title          string
	ContentExcerpt string
	SubjectName    string
}

// ContentClassifier judges whether a page excerpt is a genuine contact page.
// Implementations must be treated as optional and unreliable: callers fall
// back to local heuristics when Analyze returns an error, never hard-fail.
type ContentClassifier interface {
	AnalyzeContactPage(ctx context.Context, in AnalyzeInput) (*PageAnalysis, error)
}
