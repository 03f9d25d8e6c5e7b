package httpds

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// snippetLimit bounds how much of an error body is kept.
const snippetLimit = 512

// StatusError is a final non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string // first snippetLimit bytes, trimmed
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("httpds: %s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("httpds: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Temporary reports whether the status is one the client retries.
func (e *StatusError) Temporary() bool { return isRetryableStatus(e.StatusCode) }

func newStatusError(method, url string, resp *http.Response) *StatusError {
	return &StatusError{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
		Body:       readSnippet(resp.Body, snippetLimit),
	}
}

// readSnippet reads at most n bytes from r. The LimitedReader caps the read
// even when the body is much larger.
func readSnippet(r io.Reader, n int) string {
	if r == nil || n <= 0 {
		return ""
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(&io.LimitedReader{R: r, N: int64(n)})
	return strings.TrimSpace(buf.String())
}
