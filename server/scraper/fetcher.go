package scraper

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// ErrorKind distinguishes the failure modes of a single fetch attempt.
// Only Timeout and ConnectionFailed are considered transient by callers.
type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindTimeout
	KindConnectionFailed
	KindPayloadInvalid
	KindResponseInvalid
)

// FetchError wraps a failed fetch with its classified kind so retry policy
// can be decided by the caller.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("Web server timeout. URL=%s", e.URL)
	case KindConnectionFailed:
		return fmt.Sprintf("Could not connect to web server. URL=%s", e.URL)
	case KindPayloadInvalid:
		return fmt.Sprintf("Invalid payload from web server. URL=%s", e.URL)
	case KindResponseInvalid:
		return fmt.Sprintf("Invalid response from web server. URL=%s", e.URL)
	default:
		return fmt.Sprintf("Unexpected error during network request: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the classified kind of err, or KindUnexpected when err is
// not a FetchError.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnexpected
}

// Fetcher fetches the raw body of a URL. Implementations are single-attempt
// primitives; the Scraper owns the retry policy.
type Fetcher interface {
	Fetch(url string) ([]byte, error)
}

// HTTPFetcher fetches pages over a shared, long-lived http.Client. One
// instance is created at plugin activation and reused for every scrape.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch performs one GET request and returns the response body. Failures are
// returned as *FetchError with the kind set, never swallowed.
func (f *HTTPFetcher) Fetch(rawURL string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{Kind: KindUnexpected, URL: rawURL, Err: err}
	}

	// PCPartPicker serves a challenge page to unknown clients, so present a
	// regular browser profile.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:106.0) Gecko/20100101 Firefox/106.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyTransportError(err), URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &FetchError{
			Kind: KindResponseInvalid,
			URL:  rawURL,
			Err:  errors.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindPayloadInvalid, URL: rawURL, Err: err}
	}

	return body, nil
}

func classifyTransportError(err error) ErrorKind {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return KindTimeout
		}
		return KindConnectionFailed
	}
	return KindUnexpected
}
