package screenshot

import (
	"context"
	"time"
)

// Page is a single browser tab. Evaluate runs a JS expression and decodes
// its value into res (nil discards it).
type Page interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, script string, res any) error
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	WaitVisible(ctx context.Context, selector string) error
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
	SetViewport(ctx context.Context, width, height int64) error
	CaptureFullPage(ctx context.Context, quality int) ([]byte, error)
	Close() error
}

// Opener opens fresh tabs in a shared browser session.
type Opener interface {
	NewPage(ctx context.Context) (Page, error)
}
