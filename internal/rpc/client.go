// Package rpc provides Gold Rush judge communication over plain JSON/HTTP.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tos-network/goldrush/internal/domain"
	"github.com/tos-network/goldrush/internal/util"
)

// APIError is returned for any non-2xx judge response other than the
// documented "no treasure at this depth yet" 404 on /dig.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

// Client talks to the judge's /explore, /licenses, /dig and /cash
// endpoints over HTTP, tracking rolling health the way the teacher's node
// client tracks daemon health.
type Client struct {
	baseURL string
	client  *http.Client

	mu           sync.RWMutex
	healthy      bool
	lastCheck    time.Time
	successCount int
	failCount    int
}

// New creates a Client against baseURL ("http://address:port") with a
// per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		healthy: true,
	}
}

// IsHealthy reports whether the judge has been responding successfully.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successCount++
	c.failCount = 0
	c.healthy = true
	c.lastCheck = time.Now()
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCount++
	if c.failCount >= 3 {
		c.healthy = false
		util.Warnf("judge marked unhealthy after %d failures", c.failCount)
	}
	c.lastCheck = time.Now()
}

// doJSON POSTs body (if non-nil) to path and decodes the JSON response into
// out. acceptNotFound lets callers treat a 404 as a nil-error empty result,
// which /dig uses for "nothing here yet".
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}, acceptNotFound bool) (notFound bool, err error) {
	var reader io.Reader
	if body != nil {
		buf, merr := json.Marshal(body)
		if merr != nil {
			return false, merr
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		return false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return false, err
	}

	if resp.StatusCode == http.StatusNotFound && acceptNotFound {
		c.recordSuccess()
		return true, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordFailure()
		return false, &APIError{Endpoint: path, Status: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			c.recordFailure()
			return false, fmt.Errorf("%s: decode response: %w", path, err)
		}
	}

	c.recordSuccess()
	return false, nil
}

// Explore asks the judge how much treasure sits beneath area.
func (c *Client) Explore(ctx context.Context, area domain.Area) (domain.Explore, error) {
	var result domain.Explore
	req := struct {
		PosX  uint64 `json:"posX"`
		PosY  uint64 `json:"posY"`
		SizeX uint64 `json:"sizeX"`
		SizeY uint64 `json:"sizeY"`
	}{area.PosX, area.PosY, area.SizeX, area.SizeY}

	var resp struct {
		Area   domain.Area `json:"area"`
		Amount uint64      `json:"amount"`
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/explore", req, &resp, false); err != nil {
		return result, err
	}
	return domain.Explore{Area: resp.Area, Amount: resp.Amount}, nil
}

// License requests a new license, optionally paying with coins.
func (c *Client) License(ctx context.Context, coins []uint64) (domain.License, error) {
	var resp domain.License
	body := coins
	if body == nil {
		body = []uint64{}
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/licenses", body, &resp, false); err != nil {
		return domain.License{}, err
	}
	return resp, nil
}

// Dig submits a dig request. A 404 means no treasure at this depth, which
// is a normal outcome, not an error: the caller gets ok=false.
func (c *Client) Dig(ctx context.Context, d domain.Dig) (treasures []string, ok bool, err error) {
	var resp []string
	notFound, err := c.doJSON(ctx, http.MethodPost, "/dig", d, &resp, true)
	if err != nil {
		return nil, false, err
	}
	if notFound {
		return nil, false, nil
	}
	return resp, true, nil
}

// Cash redeems a single treasure token for the coin ids it's worth.
func (c *Client) Cash(ctx context.Context, treasure string) ([]uint64, error) {
	var coins []uint64
	body := treasure
	if _, err := c.doJSON(ctx, http.MethodPost, "/cash", body, &coins, false); err != nil {
		return nil, err
	}
	return coins, nil
}

// RetryCash cashes a treasure, retrying unconditionally on any error until
// ctx is done. The judge protocol has no way to permanently fail a /cash
// call for a valid token, so unlike Explore/Dig there is no status worth
// giving up on: the caller's correctness depends on eventual progress, not
// on this ever surfacing an error before ctx is cancelled.
func (c *Client) RetryCash(ctx context.Context, treasure string, backoff time.Duration) ([]uint64, error) {
	for {
		coins, err := c.Cash(ctx, treasure)
		if err == nil {
			return coins, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// RetryLicense requests a license, retrying unconditionally on any error
// the same way RetryCash does.
func (c *Client) RetryLicense(ctx context.Context, coins []uint64, backoff time.Duration) (domain.License, error) {
	for {
		lic, err := c.License(ctx, coins)
		if err == nil {
			return lic, nil
		}
		select {
		case <-ctx.Done():
			return domain.License{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
}
