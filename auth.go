package roomscore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// TokenStore holds the access and refresh credentials used by the pipeline.
// Implementations must be safe for concurrent use.
type TokenStore interface {
	AccessToken() string
	RefreshToken() string
	Update(access, refresh string, expiresAt time.Time) error
	Clear() error
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu        sync.RWMutex
	access    string
	refresh   string
	expiresAt time.Time
}

// NewMemoryTokenStore seeds a store with existing credentials.
func NewMemoryTokenStore(access, refresh string) *MemoryTokenStore {
	return &MemoryTokenStore{access: access, refresh: refresh}
}

func (s *MemoryTokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *MemoryTokenStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *MemoryTokenStore) Update(access, refresh string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	if refresh != "" {
		s.refresh = refresh
	}
	s.expiresAt = expiresAt
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
	s.expiresAt = time.Time{}
	return nil
}

// tokenResponse is the refresh endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenRefresher exchanges the stored refresh credential for a new access
// credential. The exchange uses a dedicated plain HTTP client: it is never
// retried, cached or de-duplicated. A failed exchange clears the stored
// credentials and fires the logout hook; the caller of the original request
// receives the refresh failure.
type TokenRefresher struct {
	endpoint   string
	httpClient *http.Client
	store      TokenStore
	onLogout   func()
	logger     Logger
}

// NewTokenRefresher builds a refresher for the given endpoint and store.
func NewTokenRefresher(endpoint string, store TokenStore, onLogout func()) *TokenRefresher {
	return &TokenRefresher{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		store:      store,
		onLogout:   onLogout,
	}
}

// Refresh performs the exchange and returns the new access token.
func (r *TokenRefresher) Refresh(ctx context.Context) (string, error) {
	refresh := r.store.RefreshToken()
	if refresh == "" {
		r.logout()
		return "", fmt.Errorf("token refresh: %w", ErrLoggedOut)
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return "", fmt.Errorf("token refresh: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("token refresh: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logout()
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		r.logout()
		return "", &ClientError{
			Type:       ErrorTypeAuth,
			Message:    "token refresh rejected",
			Cause:      ErrLoggedOut,
			StatusCode: resp.StatusCode,
			URL:        r.endpoint,
			Method:     http.MethodPost,
			Timestamp:  time.Now(),
		}
	}

	var tok tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tok); err != nil {
		r.logout()
		return "", fmt.Errorf("token refresh: decode response: %w", err)
	}
	if tok.AccessToken == "" {
		r.logout()
		return "", fmt.Errorf("token refresh: empty access token: %w", ErrLoggedOut)
	}

	expiresAt := time.Time{}
	if tok.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if err := r.store.Update(tok.AccessToken, tok.RefreshToken, expiresAt); err != nil {
		return "", fmt.Errorf("token refresh: store tokens: %w", err)
	}

	return tok.AccessToken, nil
}

func (r *TokenRefresher) logout() {
	_ = r.store.Clear()
	if r.logger != nil {
		r.logger.Warn("Credentials cleared after failed refresh")
	}
	if r.onLogout != nil {
		r.onLogout()
	}
}
