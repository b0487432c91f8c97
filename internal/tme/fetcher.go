package tme

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Fetcher reads public channel posts through the t.me embed pages. It is the
// fallback reader for retention checks when the userbot is unavailable.
// Works only for public channels, which is fine as a fallback.
type Fetcher struct {
	httpClient *http.Client
	log        *zap.Logger
	maxRetries int
}

func NewFetcher(timeoutMS, maxRetries int, log *zap.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		log:        log,
		maxRetries: maxRetries,
	}
}

// FetchPost returns the post text and whether the post still exists.
// exists == false with a nil error means the post was deleted.
func (f *Fetcher) FetchPost(ctx context.Context, username string, messageID int64) (string, bool, error) {
	url := fmt.Sprintf("https://t.me/%s/%d?embed=1", username, messageID)

	var doc *goquery.Document
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", false, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return "", false, nil // post deleted
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		doc, err = goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return "", false, lastErr
	}

	return ExtractPostText(doc)
}

// ExtractPostText pulls the message text out of an embed page document.
// Split out so tests can feed static HTML.
func ExtractPostText(doc *goquery.Document) (string, bool, error) {
	text := strings.TrimSpace(doc.Find(".tgme_widget_message_text").Text())
	if text == "" {
		// Might be a media-only post; the widget itself must still be there.
		if doc.Find(".tgme_widget_message").Length() == 0 {
			return "", false, nil // deleted
		}
	}
	return text, true, nil
}
