package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smartfilterpro/edge-relay/internal/models"
)

// SendOutcome is the result of one batch exchange with the ingestion
// service. Delivered means the remote acknowledged the batch; Gaps carries
// any gap reports parsed from its response. When Delivered is false, Err
// holds the transport-level reason and the batch remains buffered.
type SendOutcome struct {
	Delivered bool
	Gaps      []models.GapReport
	Err       error
}

// Transport sends one batch of events and parses the structured response.
type Transport interface {
	Send(ctx context.Context, events []*models.Event) SendOutcome
}

const maxResponseBytes = 1 << 20

// HTTPTransport posts JSON batches to the ingestion endpoint with bearer
// auth. A 401 (including the upstream's "HTTP 200 but auth failed" bodies)
// triggers one token refresh and one retry, mirroring the hosted API's
// behavior; any further failure is reported as TransportFailed.
type HTTPTransport struct {
	client *http.Client
	url    string
	tokens TokenSource // optional; nil sends unauthenticated
}

func NewHTTPTransport(url string, timeout time.Duration, tokens TokenSource) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
		url:    url,
		tokens: tokens,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, events []*models.Event) SendOutcome {
	if len(events) == 0 {
		return SendOutcome{Delivered: true}
	}

	payload, err := json.Marshal(events)
	if err != nil {
		return SendOutcome{Err: fmt.Errorf("failed to marshal batch: %w", err)}
	}

	status, body, err := t.post(ctx, payload)
	if err != nil {
		return SendOutcome{Err: err}
	}

	if status == http.StatusUnauthorized || isSoftUnauthorized(body) {
		if t.tokens == nil {
			return SendOutcome{Err: fmt.Errorf("ingest rejected batch as unauthorized (status %d)", status)}
		}
		log.Printf("[transport] WARN: unauthorized (status=%d soft=%v), refreshing token and retrying once",
			status, isSoftUnauthorized(body))
		if err := t.tokens.Refresh(ctx); err != nil {
			return SendOutcome{Err: fmt.Errorf("token refresh failed: %w", err)}
		}
		status, body, err = t.post(ctx, payload)
		if err != nil {
			return SendOutcome{Err: err}
		}
		if status == http.StatusUnauthorized || isSoftUnauthorized(body) {
			return SendOutcome{Err: fmt.Errorf("ingest still unauthorized after refresh (status %d)", status)}
		}
	}

	if status >= 400 {
		return SendOutcome{Err: fmt.Errorf("ingest returned %d: %s", status, truncate(body, 500))}
	}

	var parsed models.IngestResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// The remote likely received the batch; gaps stay unknown until the
		// next round trip.
		log.Printf("[transport] WARN: delivered but response unparseable: %v", err)
		return SendOutcome{Delivered: true}
	}
	return SendOutcome{Delivered: true, Gaps: parsed.Gaps}
}

// post performs one request/response exchange and returns the status code
// and the (bounded) response body.
func (t *HTTPTransport) post(ctx context.Context, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			log.Printf("[transport] WARN: no usable access token, sending unauthenticated: %v", err)
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("ingest request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read ingest response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// isSoftUnauthorized detects the hosted backend's "HTTP 200 but auth
// failed" pattern, where the JSON body encodes status=401 or
// error=invalid_token, possibly under a "response" or "body" wrapper.
func isSoftUnauthorized(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return false
	}

	inner := data
	if wrapped, ok := data["response"].(map[string]any); ok {
		inner = wrapped
	}
	if softUnauthorizedFields(inner) {
		return true
	}
	if nested, ok := inner["body"].(map[string]any); ok {
		return softUnauthorizedFields(nested)
	}
	return false
}

func softUnauthorizedFields(m map[string]any) bool {
	status := m["status"]
	if status == nil {
		status = m["status_code"]
	}
	switch v := status.(type) {
	case float64:
		if int(v) == 401 {
			return true
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n == 401 {
			return true
		}
	}

	errStr, _ := m["error"].(string)
	if strings.Contains(strings.ToLower(errStr), "invalid_token") {
		return true
	}
	msg, _ := m["message"].(string)
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "access token") && strings.Contains(msg, "invalid")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
