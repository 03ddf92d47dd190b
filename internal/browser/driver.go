// File: internal/browser/driver.go
// Description: Capability abstraction over the headless-browser backend so
// the pool and orchestration logic never touch a vendor API directly.
package browser

import "context"

// LaunchOptions carries per-instance launch parameters.
type LaunchOptions struct {
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Args           []string
}

// Driver launches browser instances. Implementations must be safe for
// concurrent use.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Instance, error)
}

// Instance is one running browser process.
type Instance interface {
	// NewTab opens an empty tab.
	NewTab(ctx context.Context) (Page, error)
	// Close tears down the process and every tab it owns. Idempotent.
	Close() error
}

// Page is a single tab. All operations honor caller cancellation.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Evaluate(ctx context.Context, expression string, out any) error
	Screenshot(ctx context.Context) ([]byte, error)
	// Close destroys the tab. Idempotent.
	Close() error
}
