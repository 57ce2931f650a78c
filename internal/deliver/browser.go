package deliver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultOpenTimeout bounds a single browser navigation.
const DefaultOpenTimeout = 30 * time.Second

// BrowserPort delivers through a local headless Chromium instance. It backs
// kiosk installations where the service itself owns the browsing contexts:
// each link open runs in a fresh tab, and documents are saved into a
// download directory the kiosk watches.
type BrowserPort struct {
	// DownloadDir is where Download writes documents.
	DownloadDir string

	// Timeout bounds each open. If zero, DefaultOpenTimeout is used.
	Timeout time.Duration
}

// OpenContext navigates a new Chromium tab to the link. The tab is torn
// down when the navigation settles; quick-add pages only need to load to
// take effect on the calendar service side of a signed-in kiosk session.
func (p *BrowserPort) OpenContext(parentCtx context.Context, link string) error {
	if link == "" {
		return fmt.Errorf("browser open: link is required")
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(link)); err != nil {
		return fmt.Errorf("browser open: chromedp run failed: %w", err)
	}
	return nil
}

// Download writes the document into the configured download directory.
func (p *BrowserPort) Download(_ context.Context, doc Document) error {
	if p.DownloadDir == "" {
		return fmt.Errorf("browser download: DownloadDir is required")
	}
	if err := os.MkdirAll(p.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("browser download: %w", err)
	}

	path := filepath.Join(p.DownloadDir, doc.Filename)
	if err := os.WriteFile(path, []byte(doc.Content), 0o644); err != nil {
		return fmt.Errorf("browser download: failed to write document: %w", err)
	}
	return nil
}
