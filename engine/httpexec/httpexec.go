// Package httpexec performs the upstream HTTP calls made by request nodes:
// request construction, retry with backoff, a per-node circuit breaker kept
// inside the execution context, and multi-strategy pagination.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/relaydev/relay/common/logger"
	"github.com/relaydev/relay/engine/eval"
	"github.com/relaydev/relay/engine/fault"
)

// Defaults for node config fields left unset.
const (
	DefaultTimeoutMs        = 10_000
	DefaultFailureThreshold = 5
	DefaultOpenMs           = 30_000
	MinOpenMs               = 100

	backoffBase = 200 * time.Millisecond
	backoffCap  = 2500 * time.Millisecond
)

// Request is a fully templated upstream request.
type Request struct {
	Method     string
	URL        string
	Headers    map[string]string
	Body       any
	TimeoutMs  int
	Form       bool // encode object bodies as x-www-form-urlencoded
	ExtraQuery map[string]string
}

// Policy is the per-node resilience configuration.
type Policy struct {
	RetryAttempts    int
	Backoff          string // "exponential" (default) or "fixed"
	FailureThreshold int
	OpenMs           int64
}

func (p Policy) withDefaults() Policy {
	if p.Backoff == "" {
		p.Backoff = "exponential"
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = DefaultFailureThreshold
	}
	if p.OpenMs <= 0 {
		p.OpenMs = DefaultOpenMs
	}
	if p.RetryAttempts < 0 {
		p.RetryAttempts = 0
	}
	return p
}

// Response is a decoded upstream response.
type Response struct {
	StatusCode int
	Headers    map[string]any
	Body       any
	DurationMs int64
	URL        string
}

// ToMap renders the response in its context-visible shape.
func (r *Response) ToMap() map[string]any {
	return map[string]any{
		"status_code": r.StatusCode,
		"headers":     r.Headers,
		"body":        r.Body,
		"duration_ms": r.DurationMs,
		"url":         r.URL,
	}
}

// Client executes upstream requests. now and sleep are injectable for tests.
type Client struct {
	http  *http.Client
	log   *logger.Logger
	guard *URLGuard
	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient creates an executor client.
func NewClient(log *logger.Logger) *Client {
	return &Client{
		http:  &http.Client{},
		log:   log,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// SetGuard installs an outbound URL guard. A guarded client rejects
// blocked destinations before any attempt is counted against the breaker.
func (c *Client) SetGuard(g *URLGuard) {
	c.guard = g
}

// Execute runs one logical request under the node's resilience policy.
// The breaker table is the live system.circuit_breakers map; it is mutated
// in place so breaker state survives in snapshots and the event log.
func (c *Client) Execute(ctx context.Context, nodeID string, req Request, pol Policy, breakers map[string]any) (*Response, error) {
	pol = pol.withDefaults()

	if c.guard != nil {
		if err := c.guard.Check(req.URL); err != nil {
			return nil, err
		}
	}

	state := breakerState(breakers, nodeID)
	nowMs := c.now().UnixMilli()
	if openUntil := asInt64(state["open_until_ms"]); openUntil > nowMs {
		return nil, fault.Errorf(fault.CircuitOpen, "circuit open for node %s until %d", nodeID, openUntil)
	}

	attempts := pol.RetryAttempts + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.do(ctx, req)
		if err == nil && resp.StatusCode < 500 {
			state["failures"] = int64(0)
			state["open_until_ms"] = int64(0)
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fault.Errorf(fault.UpstreamFailure, "upstream returned status %d", resp.StatusCode)
		}

		failures := asInt64(state["failures"]) + 1
		state["failures"] = failures
		if failures >= int64(pol.FailureThreshold) {
			openMs := pol.OpenMs
			if openMs < MinOpenMs {
				openMs = MinOpenMs
			}
			state["open_until_ms"] = c.now().UnixMilli() + openMs
		}

		if attempt < attempts {
			c.sleep(backoffDelay(pol.Backoff, attempt))
		}
	}

	return nil, lastErr
}

func backoffDelay(backoff string, attempt int) time.Duration {
	if backoff == "fixed" {
		return backoffBase
	}
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	finalURL, err := mergeQuery(req.URL, req.ExtraQuery)
	if err != nil {
		return nil, fault.Errorf(fault.UpstreamFailure, "invalid url %q: %v", req.URL, err)
	}

	body, contentType, err := encodeBody(req.Body, req.Form)
	if err != nil {
		return nil, err
	}

	timeout := req.TimeoutMs
	if timeout <= 0 {
		timeout = DefaultTimeoutMs
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, finalURL, body)
	if err != nil {
		return nil, fault.Errorf(fault.UpstreamFailure, "build request: %v", err)
	}

	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	started := c.now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fault.Errorf(fault.UpstreamFailure, "%s %s: %v", method, finalURL, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fault.Errorf(fault.UpstreamFailure, "read response body: %v", err)
	}
	durationMs := time.Since(started).Milliseconds()

	headers := make(map[string]any, len(httpResp.Header))
	for name := range httpResp.Header {
		headers[name] = httpResp.Header.Get(name)
	}

	var decoded any
	if strings.Contains(httpResp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = string(raw)
		}
	} else {
		decoded = string(raw)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       decoded,
		DurationMs: durationMs,
		URL:        finalURL,
	}, nil
}

func mergeQuery(rawURL string, extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	query := parsed.Query()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query.Set(k, extra[k])
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func encodeBody(body any, form bool) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(v), "", nil
	case map[string]any:
		if form {
			values := url.Values{}
			for key, item := range v {
				values.Set(key, eval.Stringify(item))
			}
			return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, "", fault.Errorf(fault.UpstreamFailure, "encode body: %v", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	case []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, "", fault.Errorf(fault.UpstreamFailure, "encode body: %v", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	default:
		return strings.NewReader(eval.Stringify(v)), "", nil
	}
}

// breakerState returns the live breaker entry for a node, creating it on
// first use.
func breakerState(breakers map[string]any, nodeID string) map[string]any {
	if state, ok := breakers[nodeID].(map[string]any); ok {
		return state
	}
	state := map[string]any{
		"failures":      int64(0),
		"open_until_ms": int64(0),
	}
	breakers[nodeID] = state
	return state
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// Failures reports the recorded failure count for a node, for observability.
func Failures(breakers map[string]any, nodeID string) int64 {
	if state, ok := breakers[nodeID].(map[string]any); ok {
		return asInt64(state["failures"])
	}
	return 0
}
