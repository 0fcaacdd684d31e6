package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Source extracts visible comment text from a video page.
type Source interface {
	Comments(ctx context.Context, url string) ([]string, error)
}

// commentsJS collects the text of every rendered comment node. YouTube
// renders comment bodies inside #content-text elements.
const commentsJS = `Array.from(document.querySelectorAll('#content-text')).map(el => el.innerText)`

// ChromeScraper drives a headless Chrome session per call. Comments are
// lazy-loaded, so the page is scrolled a fixed number of times with a fixed
// wait between scrolls. One transient browser per request, no pooling.
type ChromeScraper struct {
	InitialWait  time.Duration // settle time after navigation
	ScrollCycles int
	ScrollWait   time.Duration // settle time after each scroll
	Timeout      time.Duration // deadline for the whole session
	ExecPath     string        // optional Chrome binary path
}

// NewChromeScraper returns a scraper with the standard wait policy:
// 5s initial load, then 3 scroll-and-wait cycles of 3s each.
func NewChromeScraper(execPath string) *ChromeScraper {
	return &ChromeScraper{
		InitialWait:  5 * time.Second,
		ScrollCycles: 3,
		ScrollWait:   3 * time.Second,
		Timeout:      90 * time.Second,
		ExecPath:     execPath,
	}
}

// Comments opens the URL, scrolls to trigger comment lazy-loading, and
// returns all visible comment text. The browser session is released on
// every exit path via the deferred context cancels.
func (s *ChromeScraper) Comments(ctx context.Context, url string) ([]string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if s.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.Sleep(s.InitialWait),
	}
	for i := 0; i < s.ScrollCycles; i++ {
		tasks = append(tasks,
			chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
			chromedp.Sleep(s.ScrollWait),
		)
	}

	var raw []string
	tasks = append(tasks, chromedp.Evaluate(commentsJS, &raw))

	if err := chromedp.Run(browserCtx, tasks); err != nil {
		return nil, fmt.Errorf("scrape comments: %w", err)
	}
	return Clean(raw), nil
}

// Clean trims whitespace and drops empty entries, preserving page order.
func Clean(raw []string) []string {
	comments := make([]string, 0, len(raw))
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		comments = append(comments, c)
	}
	return comments
}
