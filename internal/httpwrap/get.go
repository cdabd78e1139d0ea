package httpwrap

import (
	"context"
	"fmt"
	"net/http"
)

// Get issues a GET request through client and wraps the response. The
// caller-supplied context carries both cancellation and any ssrfguard
// override; the response body is fully read and the underlying connection
// released before Get returns.
func Get(ctx context.Context, client *http.Client, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpwrap: building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpwrap: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	return Wrap(resp)
}
