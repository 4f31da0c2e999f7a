package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/sagekit/sage/internal/security"
)

const (
	fetchTimeout   = 30 * time.Second
	maxPageBytes   = 10 << 20
	fetchUserAgent = "sage/1.0 (+https://github.com/sagekit/sage)"
)

// fetchClient blocks requests to private networks and metadata endpoints;
// URLs arrive from API callers and are not trusted.
var fetchClient = func() *http.Client {
	v := security.NewURL()
	return &http.Client{
		Transport:     v.Transport(),
		CheckRedirect: v.CheckRedirect,
	}
}()

var urlValidator = security.NewURL()

// FetchURL downloads a web page and extracts its readable article text.
// Readability extraction runs first; when the page has no recognizable
// article structure the extractor returns empty text, and the loader falls
// back to stripping markup from the raw document instead of failing.
func FetchURL(ctx context.Context, rawURL string) (Unit, error) {
	if err := urlValidator.Validate(rawURL); err != nil {
		return Unit{}, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Unit{}, fmt.Errorf("parsing url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Unit{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := fetchClient.Do(req)
	if err != nil {
		return Unit{}, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unit{}, fmt.Errorf("fetching %s: unexpected status %s", u, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Unit{}, fmt.Errorf("reading %s: %w", u, err)
	}

	text, title := extractReadable(body, u)
	if text == "" {
		return Unit{}, fmt.Errorf("no textual content at %s", u)
	}

	source := u.String()
	if title != "" {
		source = title + " (" + u.String() + ")"
	}
	return Unit{
		Text:     text,
		Metadata: map[string]string{unitSource: source},
	}, nil
}

func extractReadable(body []byte, u *url.URL) (text, title string) {
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err == nil {
		text = strings.TrimSpace(article.TextContent)
		title = strings.TrimSpace(article.Title)
	}
	if text != "" {
		return text, title
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style, noscript").Remove()
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	var sb strings.Builder
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String()), title
}
