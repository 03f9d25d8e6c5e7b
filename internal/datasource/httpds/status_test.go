package httpds

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestReadSnippet_LimitsToN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		n    int
		want string
	}{
		{"shorter than limit", "  oops \n", 16, "oops"},
		{"cut at limit", "hello world", 5, "hello"},
		{"zero limit", "hello", 0, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := readSnippet(strings.NewReader(tt.body), tt.n); got != tt.want {
				t.Fatalf("readSnippet(%q, %d) = %q, want %q", tt.body, tt.n, got, tt.want)
			}
		})
	}
	if got := readSnippet(nil, 10); got != "" {
		t.Fatalf("readSnippet(nil) = %q", got)
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	resp := &http.Response{
		StatusCode: http.StatusServiceUnavailable,
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 2*snippetLimit))),
	}
	err := error(newStatusError(http.MethodGet, "http://example.com/a", resp))

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("errors.As(*StatusError) failed for %T", err)
	}
	if se.StatusCode != 503 || len(se.Body) != snippetLimit || !se.Temporary() {
		t.Fatalf("StatusError = %+v", se)
	}
	if !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("Error() = %q", err.Error())
	}

	empty := &StatusError{Method: "GET", URL: "u", StatusCode: 404}
	if empty.Error() != "httpds: GET u: status 404" || empty.Temporary() {
		t.Fatalf("empty-body StatusError = %q temporary=%v", empty.Error(), empty.Temporary())
	}
}
