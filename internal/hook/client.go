package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// OutcomeClass buckets a single attempt's result for the retry policy.
type OutcomeClass int

const (
	// Success: response status in [200,300).
	Success OutcomeClass = iota
	// Retryable: network error, timeout, 408, 429 or 5xx.
	Retryable
	// Permanent: any other 4xx. Retrying a client error wastes budget and
	// hides a misconfiguration, so it stops the job immediately.
	Permanent
)

func (c OutcomeClass) String() string {
	switch c {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Outcome is the classified result of exactly one delivery attempt.
// StatusCode is 0 when the target was never reached.
type Outcome struct {
	Class      OutcomeClass
	StatusCode int
	Err        error
}

// Classify maps a transport error / HTTP status pair onto an OutcomeClass.
func Classify(statusCode int, err error) Outcome {
	if err != nil {
		return Outcome{Class: Retryable, Err: err}
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Outcome{Class: Success, StatusCode: statusCode}
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return Outcome{Class: Retryable, StatusCode: statusCode}
	default:
		return Outcome{Class: Permanent, StatusCode: statusCode}
	}
}

// Client performs one outbound revalidation POST per call. The shared
// secret rides in a header rather than the query string so it never lands
// in access logs or proxies. The client holds no mutable state.
type Client struct {
	httpClient   *http.Client
	secret       string
	secretHeader string
}

// NewClient builds a delivery client with a bounded per-attempt timeout.
func NewClient(secret, secretHeader string, timeout time.Duration) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		secret:       secret,
		secretHeader: secretHeader,
	}
}

// Deliver makes exactly one network call and classifies the result.
// No retry logic lives here.
func (c *Client) Deliver(ctx context.Context, targetURL string, payload Payload) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Class: Permanent, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{Class: Permanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.secretHeader, c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Class: Retryable, Err: err}
	}
	defer resp.Body.Close()

	return Classify(resp.StatusCode, nil)
}
