// Package client is the thin HTTP client for the daemon's unix-socket API,
// used by the CLI when a daemon is running.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quotapace/quotapace/internal/api"
)

const defaultUnaryTimeout = 10 * time.Second

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return NewWithClient("http://unix", &http.Client{Transport: transport})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s", code, message)
	case code != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, code)
	case message != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	default:
		return fmt.Sprintf("http %d", e.StatusCode)
	}
}

func (c *Client) Health(ctx context.Context) (api.HealthEnvelope, error) {
	var out api.HealthEnvelope
	err := c.getJSON(ctx, "/v1/health", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (api.StatusEnvelope, error) {
	var out api.StatusEnvelope
	err := c.getJSON(ctx, "/v1/status", nil, &out)
	return out, err
}

// Usage fetches the aggregate utilization history. hours <= 0 lets the daemon
// apply its default lookback.
func (c *Client) Usage(ctx context.Context, hours int) (api.UsageEnvelope, error) {
	query := url.Values{}
	if hours > 0 {
		query.Set("hours", fmt.Sprintf("%d", hours))
	}
	var out api.UsageEnvelope
	err := c.getJSON(ctx, "/v1/usage", query, &out)
	return out, err
}

func (c *Client) Trend(ctx context.Context) (api.TrendEnvelope, error) {
	var out api.TrendEnvelope
	err := c.getJSON(ctx, "/v1/trend", nil, &out)
	return out, err
}

func (c *Client) Schedule(ctx context.Context) (api.ScheduleEnvelope, error) {
	var out api.ScheduleEnvelope
	err := c.getJSON(ctx, "/v1/schedule", nil, &out)
	return out, err
}

func (c *Client) Keys(ctx context.Context) (api.KeysEnvelope, error) {
	var out api.KeysEnvelope
	err := c.getJSON(ctx, "/v1/keys", nil, &out)
	return out, err
}

// Ingest submits one collector snapshot record through the daemon, keeping
// the daemon the single store writer while it runs.
func (c *Client) Ingest(ctx context.Context, rec api.IngestSnapshot) (api.IngestResponse, error) {
	var out api.IngestResponse
	payload, err := c.request(ctx, http.MethodPost, "/v1/ingest", nil, rec)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode ingest response: %w", err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	payload, err := c.request(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}
	return payload, nil
}
