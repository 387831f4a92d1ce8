// Package kis implements the IBroker capability against the Korea Investment
// & Securities open API.
package kis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"rebalancer/internal/core"
	"rebalancer/pkg/httpclient"
)

const (
	requestTimeout = 15 * time.Second

	// defaultRateLimit is the conservative call budget when none is
	// configured; the venue enforces roughly 20/s for personal keys.
	defaultRateLimit = 5.0
)

// Config carries everything the adapter needs to talk to one account.
type Config struct {
	BaseURL     string
	AppKey      string
	AppSecret   string
	AccountNo   string
	ProductCode string
	Env         string // dev (simulated venue) or prod
	RateLimit   float64
}

// Client layers KIS request conventions (auth headers, tr_id dispatch,
// hashkey signing, rate limiting) over the resilient HTTP client.
type Client struct {
	http    *httpclient.Client
	tokens  *tokenSource
	limiter *rate.Limiter
	cfg     Config
	logger  core.ILogger
}

func NewClient(cfg Config, logger core.ILogger) *Client {
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = defaultRateLimit
	}
	http := httpclient.NewClient(cfg.BaseURL, requestTimeout, nil)
	return &Client{
		http:    http,
		tokens:  newTokenSource(http, cfg.AppKey, cfg.AppSecret, cfg.Env),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cfg:     cfg,
		logger:  logger,
	}
}

func (c *Client) headers(token, tr string) map[string]string {
	return map[string]string{
		"authorization": "Bearer " + token,
		"appkey":        c.cfg.AppKey,
		"appsecret":     c.cfg.AppSecret,
		"tr_id":         tr,
		"custtype":      "P",
		"accept":        "application/json",
	}
}

// get performs a rate-limited GET and decodes the response into out. A
// 401/403 triggers one token reissue and retry.
func (c *Client) get(ctx context.Context, path string, tr trKey, params map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	raw, err := c.doWithAuth(ctx, func(token string) ([]byte, error) {
		return c.http.Get(ctx, path, params, c.headers(token, trID(tr, c.cfg.Env)))
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// post performs a rate-limited POST with the hashkey integrity header the
// trading endpoints require.
func (c *Client) post(ctx context.Context, path string, tr trKey, body map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	hash, err := c.hashkey(ctx, body)
	if err != nil {
		return err
	}
	raw, err := c.doWithAuth(ctx, func(token string) ([]byte, error) {
		headers := c.headers(token, trID(tr, c.cfg.Env))
		headers["hashkey"] = hash
		return c.http.Post(ctx, path, body, headers)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) doWithAuth(ctx context.Context, call func(token string) ([]byte, error)) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := call(token)
	if err == nil {
		return raw, nil
	}

	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403) {
		c.logger.Warn("kis token rejected, reissuing", "status", apiErr.StatusCode)
		c.tokens.Invalidate()
		token, terr := c.tokens.Token(ctx)
		if terr != nil {
			return nil, terr
		}
		return call(token)
	}
	return nil, err
}

func (c *Client) hashkey(ctx context.Context, body map[string]string) (string, error) {
	raw, err := c.http.Post(ctx, "/uapi/hashkey", body, map[string]string{
		"appkey":    c.cfg.AppKey,
		"appsecret": c.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("hashkey request failed: %w", err)
	}
	var resp hashkeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("hashkey response malformed: %w", err)
	}
	return resp.Hash, nil
}
