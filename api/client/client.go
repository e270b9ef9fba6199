// Package client is a Go client of the shieldpay HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/vocdoni/shieldpay/api"
	"github.com/vocdoni/shieldpay/log"
)

const (
	// HTTPGET is the method string used for calling Request()
	HTTPGET = http.MethodGet
	// HTTPPOST is the method string used for calling Request()
	HTTPPOST = http.MethodPost

	errCodeNot200 = "API error"

	// DefaultRetries is the number of attempts of an idempotent request
	// when the connection fails.
	DefaultRetries = 3
	// DefaultTimeout bounds every request but relays.
	DefaultTimeout = 10 * time.Second
	// RelayTimeout bounds a relay request, which only returns once the
	// withdrawal is confirmed or rejected.
	RelayTimeout = 90 * time.Second

	retryBackoff = 500 * time.Millisecond
)

// HTTPclient is the shieldpay API HTTP client.
type HTTPclient struct {
	c       *http.Client
	host    *url.URL
	retries int
	timeout time.Duration
}

// New returns a client for host once it answers the ping endpoint.
func New(host string) (*HTTPclient, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	c := &HTTPclient{
		c: &http.Client{Transport: &http.Transport{
			IdleConnTimeout:       DefaultTimeout,
			ResponseHeaderTimeout: RelayTimeout,
		}},
		retries: DefaultRetries,
		timeout: DefaultTimeout,
	}
	if err := c.SetHostAddr(hostURL); err != nil {
		return nil, err
	}
	log.Debugw("http client created", "host", hostURL.String())
	return c, nil
}

// SetHostAddr points the client to host and pings it.
func (c *HTTPclient) SetHostAddr(host *url.URL) error {
	c.host = host
	data, status, err := c.Request(HTTPGET, nil, nil, api.PingEndpoint)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	return nil
}

// SetRetries sets the number of attempts of idempotent requests.
func (c *HTTPclient) SetRetries(n int) {
	c.retries = max(n, 1)
}

// SetTimeout sets the timeout of the requests but relays.
func (c *HTTPclient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Request performs a raw request with the default timeout. See
// RequestContext.
func (c *HTTPclient) Request(method string, jsonBody any, params []string, urlPath ...string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.RequestContext(ctx, method, jsonBody, params, urlPath...)
}

// RequestContext performs a request to the joined urlPath and returns the
// body and the status code. jsonBody, if not nil, is sent encoded as JSON.
// params are query parameters as key, value pairs, an unpaired last element
// is ignored.
//
// GET requests are retried when the connection fails. Other methods are
// attempted once: a relay that reached the server must not be sent twice.
func (c *HTTPclient) RequestContext(ctx context.Context, method string, jsonBody any,
	params []string, urlPath ...string,
) ([]byte, int, error) {
	var body []byte
	if jsonBody != nil {
		var err error
		if body, err = json.Marshal(jsonBody); err != nil {
			return nil, 0, fmt.Errorf("failed to marshal JSON: %w", err)
		}
	}

	u := *c.host
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	if len(params) > 1 {
		values := url.Values{}
		for i := 0; i+1 < len(params); i += 2 {
			values.Set(params[i], params[i+1])
		}
		u.RawQuery = values.Encode()
	}

	attempts := 1
	if method == HTTPGET {
		attempts = max(c.retries, 1)
	}
	log.Debugw("http client request", "type", method, "url", u.String(), "bytes", len(body))

	var lastErr error
	for i := 1; i <= attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}
		if jsonBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.c.Do(req)
		if err != nil {
			lastErr = err
			log.Warnw("http request failed", "error", err.Error(), "attempt", i, "attempts", attempts)
			if i == attempts {
				break
			}
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(retryBackoff):
			}
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
		}
		return data, resp.StatusCode, nil
	}
	return nil, 0, fmt.Errorf("http request failed after %d attempts: %w", attempts, lastErr)
}
