package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"aem-reporter/internal/observability"
)

// Client talks to the graph API over HTTP.
type Client struct {
	client      *http.Client
	baseURL     string
	accessToken string
	limiter     *rate.Limiter
}

func NewClient(baseURL, accessToken string, timeout time.Duration, perSecond float64, burst int) *Client {
	return &Client{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (c *Client) Do(ctx context.Context, req Request) (map[string]any, error) {
	start := time.Now()
	edge := req.Edge()

	out, err := c.do(ctx, req)

	observability.GraphLatency.WithLabelValues(edge).Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	observability.GraphRequests.WithLabelValues(edge, result).Inc()
	return out, err
}

func (c *Client) do(ctx context.Context, req Request) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(req.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid graph path %q: %w", req.Path, err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method == http.MethodGet {
		q := u.Query()
		for k, v := range req.Params {
			q.Set(k, formValue(v))
		}
		if c.accessToken != "" {
			q.Set("access_token", c.accessToken)
		}
		u.RawQuery = q.Encode()
	} else {
		payload := make(map[string]any, len(req.Params)+1)
		for k, v := range req.Params {
			payload[k] = v
		}
		if c.accessToken != "" {
			payload["access_token"] = c.accessToken
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("graph request %s: %w", req.Edge(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, req.Edge(), resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse graph response: %w", err)
	}
	if e, ok := out["error"]; ok {
		return nil, fmt.Errorf("graph error on %s: %v", req.Edge(), e)
	}
	return out, nil
}

func formValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
