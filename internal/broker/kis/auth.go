package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rebalancer/pkg/httpclient"
)

// tokenRefreshLeeway renews the access token this long before it expires so
// an in-flight request never carries a token about to lapse.
const tokenRefreshLeeway = 60 * time.Second

type cachedToken struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// tokenSource issues and caches the OAuth access token. The token survives
// process restarts through a small cache file, which matters because KIS
// throttles token issuance.
type tokenSource struct {
	mu        sync.Mutex
	http      *httpclient.Client
	appKey    string
	appSecret string
	cachePath string

	token     string
	expiresAt time.Time
}

func newTokenSource(http *httpclient.Client, appKey, appSecret, env string) *tokenSource {
	s := &tokenSource{
		http:      http,
		appKey:    appKey,
		appSecret: appSecret,
		cachePath: tokenCachePath(env),
	}
	s.loadCache()
	return s
}

func tokenCachePath(env string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "rebalancer", "kis-token-"+env+".json")
}

// Token returns a valid access token, issuing a fresh one when the cached
// token is missing or inside the refresh leeway.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expiresAt) > tokenRefreshLeeway {
		return s.token, nil
	}
	if err := s.issue(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// Invalidate drops the cached token so the next call issues a new one. Used
// after a 401/403 response.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

func (s *tokenSource) issue(ctx context.Context) error {
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     s.appKey,
		"appsecret":  s.appSecret,
	}
	raw, err := s.http.Post(ctx, "/oauth2/tokenP", body, nil)
	if err != nil {
		return fmt.Errorf("token issuance failed: %w", err)
	}
	var resp tokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("token response malformed: %w", err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("token response carried no access_token")
	}
	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	s.token = resp.AccessToken
	s.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	s.saveCache()
	return nil
}

func (s *tokenSource) loadCache() {
	raw, err := os.ReadFile(s.cachePath)
	if err != nil {
		return
	}
	var cached cachedToken
	if err := json.Unmarshal(raw, &cached); err != nil {
		return
	}
	expiresAt := time.Unix(cached.ExpiresAt, 0)
	if cached.AccessToken == "" || time.Until(expiresAt) <= tokenRefreshLeeway {
		return
	}
	s.token = cached.AccessToken
	s.expiresAt = expiresAt
}

func (s *tokenSource) saveCache() {
	raw, err := json.Marshal(cachedToken{
		AccessToken: s.token,
		ExpiresAt:   s.expiresAt.Unix(),
	})
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0o700); err != nil {
		return
	}
	// Cache write failure is not fatal; the token still lives in memory.
	_ = os.WriteFile(s.cachePath, raw, 0o600)
}
