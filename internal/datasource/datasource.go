// Package datasource opens reference inputs, such as the airport-codes CSV,
// from a local path or an HTTP(S) URL.
package datasource

import (
	"context"
	"io"
	"strings"

	"skyetl/internal/datasource/file"
	"skyetl/internal/datasource/httpds"
)

// Source opens one input for reading. The caller closes the reader.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ForLocation returns an HTTP source for http:// and https:// locations and
// a local file source for anything else. client may be nil for local paths;
// a nil client with a URL gets a default httpds client.
func ForLocation(location string, client *httpds.Client) Source {
	lower := strings.ToLower(location)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if client == nil {
			client = httpds.NewClient(httpds.Config{MaxRetries: 2})
		}
		return &httpds.URLSource{Client: client, URL: location}
	}
	return file.NewLocal(location)
}
