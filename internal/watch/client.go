// Package watch implements a terminal dashboard that follows the activity
// report through the long-poll endpoint.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/presence-service/internal/application"
)

// Client calls the presence API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. The HTTP client has
// no overall timeout; each wait is bounded by its context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type errorPayload struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Wait long-polls /activity/wait. An empty etag returns the current report
// immediately.
func (c *Client) Wait(ctx context.Context, window, etag string, timeout time.Duration) (application.ActivityReport, error) {
	query := url.Values{}
	query.Set("window", window)
	if etag != "" {
		query.Set("etag", etag)
	}
	if timeout > 0 {
		query.Set("timeoutMs", strconv.FormatInt(timeout.Milliseconds(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/activity/wait?"+query.Encode(), nil)
	if err != nil {
		return application.ActivityReport{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return application.ActivityReport{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var payload errorPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Message != "" {
			return application.ActivityReport{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Message)
		}
		return application.ActivityReport{}, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var report application.ActivityReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return application.ActivityReport{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
