package httpds

import (
	"context"
	"io"
	"net/http"
)

// URLSource streams the body of a GET request. It satisfies
// datasource.Source.
type URLSource struct {
	Client *Client
	URL    string
}

// Open issues the GET. A final non-2xx status is returned as a
// *StatusError and the body is closed.
func (s *URLSource) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.Client.Get(ctx, s.URL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, newStatusError(http.MethodGet, s.URL, resp)
	}
	return resp.Body, nil
}
