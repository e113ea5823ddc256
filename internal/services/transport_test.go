package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartfilterpro/edge-relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTokenSource struct {
	token     atomic.Value
	refreshes atomic.Int32
}

func newScriptedTokenSource(token string) *scriptedTokenSource {
	s := &scriptedTokenSource{}
	s.token.Store(token)
	return s
}

func (s *scriptedTokenSource) Token(ctx context.Context) (string, error) {
	return s.token.Load().(string), nil
}

func (s *scriptedTokenSource) Refresh(ctx context.Context) error {
	s.refreshes.Add(1)
	s.token.Store("fresh-token")
	return nil
}

func TestHTTPTransport_DeliveredWithGaps(t *testing.T) {
	var gotAuth string
	var gotBatch []*models.Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBatch))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"gaps":[{"device_key":"hvac-1","source_vendor":"smartfilterpro","missing_sequences":[4,7]}]}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, 5*time.Second, newScriptedTokenSource("token-1"))
	outcome := transport.Send(context.Background(), []*models.Event{testEvent(8), testEvent(9)})

	require.True(t, outcome.Delivered)
	require.NoError(t, outcome.Err)
	require.Len(t, outcome.Gaps, 1)
	assert.Equal(t, "hvac-1", outcome.Gaps[0].DeviceKey)
	assert.Equal(t, []uint64{4, 7}, outcome.Gaps[0].MissingSequences)

	assert.Equal(t, "Bearer token-1", gotAuth)
	require.Len(t, gotBatch, 2)
	assert.Equal(t, uint64(8), gotBatch[0].SequenceNumber)
}

func TestHTTPTransport_NoGapsField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, 5*time.Second, nil)
	outcome := transport.Send(context.Background(), []*models.Event{testEvent(1)})

	assert.True(t, outcome.Delivered)
	assert.Empty(t, outcome.Gaps)
}

func TestHTTPTransport_ServerErrorIsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, 5*time.Second, nil)
	outcome := transport.Send(context.Background(), []*models.Event{testEvent(1)})

	assert.False(t, outcome.Delivered)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "500")
}

// An unparseable 2xx body counts as delivered: the remote most likely got
// the batch, we just cannot learn of gaps until the next round trip.
func TestHTTPTransport_UnparseableResponseIsDeliveredWithoutGaps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>surprise</html>"))
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, 5*time.Second, nil)
	outcome := transport.Send(context.Background(), []*models.Event{testEvent(1)})

	assert.True(t, outcome.Delivered)
	assert.Empty(t, outcome.Gaps)
}

func TestHTTPTransport_TimeoutIsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, 50*time.Millisecond, nil)
	outcome := transport.Send(context.Background(), []*models.Event{testEvent(1)})

	assert.False(t, outcome.Delivered)
	assert.Error(t, outcome.Err)
}

func TestHTTPTransport_RefreshesOnceOn401(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tokens := newScriptedTokenSource("stale-token")
	transport := NewHTTPTransport(server.URL, 5*time.Second, tokens)
	outcome := transport.Send(context.Background(), []*models.Event{testEvent(1)})

	assert.True(t, outcome.Delivered)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, int32(2), requests.Load())
}

// The hosted backend sometimes answers 200 with an auth failure encoded in
// the body; that must trigger the same single refresh-and-retry.
func TestHTTPTransport_SoftUnauthorizedTriggersRetry(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.Write([]byte(`{"response":{"status":401,"error":"invalid_token"}}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tokens := newScriptedTokenSource("stale-token")
	transport := NewHTTPTransport(server.URL, 5*time.Second, tokens)
	outcome := transport.Send(context.Background(), []*models.Event{testEvent(1)})

	assert.True(t, outcome.Delivered)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, int32(2), requests.Load())
}

func TestHTTPTransport_EmptyBatchIsNoOp(t *testing.T) {
	transport := NewHTTPTransport("http://127.0.0.1:0", time.Second, nil)
	outcome := transport.Send(context.Background(), nil)

	assert.True(t, outcome.Delivered)
	assert.Empty(t, outcome.Gaps)
}

func TestIsSoftUnauthorized(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"numeric status", `{"status": 401}`, true},
		{"string status", `{"status": "401"}`, true},
		{"status_code", `{"status_code": 401}`, true},
		{"invalid_token error", `{"error": "INVALID_TOKEN"}`, true},
		{"invalid access token message", `{"message": "Access token is invalid"}`, true},
		{"response wrapper", `{"response": {"status": 401}}`, true},
		{"nested body", `{"response": {"body": {"status": 401}}}`, true},
		{"ok body", `{"status": 200}`, false},
		{"unrelated error", `{"error": "rate_limited"}`, false},
		{"not json", `plain text`, false},
		{"empty", ``, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isSoftUnauthorized([]byte(tc.body)))
		})
	}
}
