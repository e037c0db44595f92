// Package httpclient provides an HTTP client split along the only line that
// matters for a trading gateway: idempotent reads get a rate limiter plus a
// retry/circuit-breaker pipeline, mutating writes get exactly one attempt.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	apperrors "swap_trader/pkg/errors"
	"swap_trader/pkg/telemetry"
)

// APIError represents an HTTP-level error response.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer signs a request before it is sent. The body is passed separately
// because signing schemes hash the raw payload.
type Signer interface {
	SignRequest(req *http.Request, body []byte) error
}

// Client wraps http.Client. Get goes through the shared rate limiter and the
// failsafe retry+breaker pipeline; PostOnce bypasses both and performs a
// single attempt.
type Client struct {
	client   *http.Client
	baseURL  string
	signer   Signer
	limiter  *rate.Limiter
	pipeline failsafe.Executor[*http.Response]
	tracer   trace.Tracer
}

// NewClient creates a client. limiter may be nil for unthrottled endpoints;
// signer may be nil for public endpoints.
func NewClient(baseURL string, timeout time.Duration, signer Signer, limiter *rate.Limiter) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			// The abandoned attempt's body must be drained so the
			// connection goes back to the pool.
			drainBody(e.LastResult())
		}).
		OnRetriesExceeded(func(e failsafe.ExecutionEvent[*http.Response]) {
			drainBody(e.LastResult())
		}).
		WithBackoff(200*time.Millisecond, 3*time.Second).
		WithJitterFactor(0.25).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &Client{
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		signer:   signer,
		limiter:  limiter,
		pipeline: failsafe.With[*http.Response](retryPolicy, breaker),
		tracer:   telemetry.GetTracer("httpclient"),
	}
}

// Get sends an idempotent GET through the rate limiter and the resilience
// pipeline. Exhausting the retry budget surfaces ErrNetworkTimeout.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()

	if c.signer != nil {
		if err := c.signer.SignRequest(req, nil); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	start := time.Now()
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("GET %s", req.URL.Path),
		trace.WithAttributes(attribute.String("http.url", req.URL.String())))
	defer span.End()
	req = req.WithContext(ctx)

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		if exec.Attempts() > 1 {
			telemetry.GetGlobalMetrics().RecordReadRetry(req.URL.Path)
		}
		return c.client.Do(req)
	})
	telemetry.GetGlobalMetrics().RecordGatewayCall(req.URL.Path, float64(time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNetworkTimeout, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return c.readBody(resp)
}

// PostOnce sends a mutating POST exactly once: no rate limiter queueing
// games, no retry policy, no breaker. The caller owns outcome classification,
// including the case where err is a timeout and the true result is unknown.
func (c *Client) PostOnce(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var jsonBody []byte
	var err error
	if body != nil {
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.signer != nil {
		if err := c.signer.SignRequest(req, jsonBody); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	start := time.Now()
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("POST %s", req.URL.Path),
		trace.WithAttributes(attribute.String("http.url", req.URL.String())))
	defer span.End()
	req = req.WithContext(ctx)

	resp, err := c.client.Do(req)
	telemetry.GetGlobalMetrics().RecordGatewayCall(req.URL.Path, float64(time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return c.readBody(resp)
}

func drainBody(resp *http.Response) {
	if resp != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
