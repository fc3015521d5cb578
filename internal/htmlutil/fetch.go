package htmlutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is sent with HTTP and browser fetches.
const DefaultUserAgent = "Mozilla/5.0 (compatible; seqlab/1.0)"

// maxBodySize caps how much of a response body is read.
const maxBodySize = 5 * 1024 * 1024

// FetchOptions controls how Fetch retrieves a document.
type FetchOptions struct {
	// Render loads URLs in a headless browser and returns the DOM after
	// scripts ran.
	Render    bool
	Timeout   time.Duration
	UserAgent string
}

// DefaultFetchOptions returns options for a plain HTTP fetch.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{Timeout: 30 * time.Second, UserAgent: DefaultUserAgent}
}

// IsURL reports whether target names an http or https resource.
func IsURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

// Fetch returns the HTML of target, a URL or a local file path.
func Fetch(ctx context.Context, target string, opts FetchOptions) (string, error) {
	if !IsURL(target) {
		data, err := os.ReadFile(target)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return string(data), nil
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Render {
		return render(ctx, target, opts.UserAgent)
	}
	return get(ctx, target, opts.UserAgent)
}

func get(ctx context.Context, target, userAgent string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch URL: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}

func render(ctx context.Context, target, userAgent string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserAgent(userAgent))
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	start := time.Now()
	var out string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &out),
	)
	if err != nil {
		return "", fmt.Errorf("render URL: %w", err)
	}
	slog.Debug("Page rendered", "url", target, "bytes", len(out), "duration", time.Since(start))
	return out, nil
}
