package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenSkew refreshes slightly before the recorded expiry so an in-flight
// request never carries a token that expires mid-exchange.
const tokenSkew = 60 * time.Second

// TokenSource supplies the bearer token for ingest requests and can
// exchange the refresh token for a new pair on demand.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// RefreshingTokenSource holds an access/refresh token pair and renews the
// access token through the configured refresh endpoint when it nears
// expiry. Expiry comes from the refresh response when given, otherwise from
// the token's own exp claim; a token with neither is treated as long-lived.
type RefreshingTokenSource struct {
	client     *http.Client
	refreshURL string

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time // zero = long-lived
}

func NewRefreshingTokenSource(refreshURL, accessToken, refreshToken string, timeout time.Duration) *RefreshingTokenSource {
	return &RefreshingTokenSource{
		client:       &http.Client{Timeout: timeout},
		refreshURL:   refreshURL,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		expiresAt:    tokenExpiry(accessToken),
	}
}

// Token returns the current access token, refreshing first when it is
// within the skew window of expiry. If the refresh fails the stale token is
// returned anyway; the transport's 401 handling covers that case.
func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	token, exp := s.accessToken, s.expiresAt
	s.mu.Unlock()

	if token == "" {
		return "", errors.New("no access token configured")
	}
	if !exp.IsZero() && time.Now().After(exp.Add(-tokenSkew)) {
		if err := s.Refresh(ctx); err != nil {
			return token, nil
		}
		s.mu.Lock()
		token = s.accessToken
		s.mu.Unlock()
	}
	return token, nil
}

// Refresh exchanges the refresh token for a new access token. Refreshes are
// serialized; a failure leaves the current pair untouched.
func (s *RefreshingTokenSource) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshToken == "" {
		return errors.New("no refresh token; cannot refresh")
	}
	if s.refreshURL == "" {
		return errors.New("no refresh endpoint configured")
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": s.refreshToken})
	if err != nil {
		return fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("refresh returned %d: %s", resp.StatusCode, truncate(body, 400))
	}

	var wrapper struct {
		Response     json.RawMessage `json:"response"`
		AccessToken  string          `json:"access_token"`
		RefreshToken string          `json:"refresh_token"`
		ExpiresAt    int64           `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if len(wrapper.Response) > 0 {
		// some backends wrap the payload in a "response" envelope
		inner := wrapper
		inner.Response = nil
		if err := json.Unmarshal(wrapper.Response, &inner); err != nil {
			return fmt.Errorf("failed to parse refresh response envelope: %w", err)
		}
		wrapper = inner
	}

	if wrapper.AccessToken == "" {
		return errors.New("refresh response missing access_token")
	}

	s.accessToken = wrapper.AccessToken
	if wrapper.RefreshToken != "" {
		s.refreshToken = wrapper.RefreshToken
	}
	if wrapper.ExpiresAt > 0 {
		s.expiresAt = time.Unix(wrapper.ExpiresAt, 0)
	} else {
		s.expiresAt = tokenExpiry(wrapper.AccessToken)
	}
	return nil
}

// tokenExpiry reads the exp claim out of a JWT access token without
// verifying the signature (verification is the ingest service's job; we
// only need the expiry for refresh scheduling). Returns the zero time for
// opaque tokens.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// StaticTokenSource returns a fixed token and fails any refresh attempt.
// Used when only an access token is configured.
type StaticTokenSource struct {
	AccessToken string
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.AccessToken == "" {
		return "", errors.New("no access token configured")
	}
	return s.AccessToken, nil
}

func (s *StaticTokenSource) Refresh(ctx context.Context) error {
	return errors.New("static token source cannot refresh")
}
