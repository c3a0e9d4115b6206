// Package rest bridges wgg to a vendor gateway serving normalized JSON over HTTP.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/promotion"
	"github.com/coachpo/wgg/internal/domain/vendor"
)

var (
	_ vendor.Client        = (*Client)(nil)
	_ vendor.Authenticator = (*Client)(nil)
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Client talks to one vendor gateway. The bearer token is renewed through Login.
type Client struct {
	cfg Config

	tokenMu sync.RWMutex
	token   string
}

// New constructs a gateway client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if !cfg.Vendor.Valid() {
		return nil, fmt.Errorf("rest: unknown vendor %q", cfg.Vendor)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("rest: invalid base url %q: %w", cfg.BaseURL, err)
	}
	return &Client{cfg: cfg}, nil
}

// Login exchanges the configured credentials for a bearer token, retrying transient
// failures with exponential backoff. Gateways without credentials need no login.
func (c *Client) Login(ctx context.Context) error {
	if !c.cfg.hasCredentials() {
		return nil
	}
	body, err := json.Marshal(loginRequest{Username: c.cfg.Username, Password: c.cfg.Password})
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxLoginInterval

	var lastErr error
	for attempt := 1; attempt <= c.cfg.LoginAttempts; attempt++ {
		var resp loginResponse
		lastErr = c.do(ctx, http.MethodPost, loginPath, "login", bytes.NewReader(body), false, &resp)
		if lastErr == nil {
			token := strings.TrimSpace(resp.Token)
			if token == "" {
				return errs.New(string(c.cfg.Vendor), errs.CodeFatal, errs.WithOp("login"), errs.WithMessage("empty token"))
			}
			c.tokenMu.Lock()
			c.token = token
			c.tokenMu.Unlock()
			return nil
		}
		if !errs.Is(lastErr, errs.CodeUnreachable) && !errs.Is(lastErr, errs.CodeRateLimited) {
			return lastErr
		}
		if attempt == c.cfg.LoginAttempts {
			break
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxLoginInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return lastErr
}

// Autocomplete returns suggestions for query.
func (c *Client) Autocomplete(ctx context.Context, query string) ([]product.Suggestion, error) {
	params := url.Values{}
	params.Set("q", query)
	var out []product.Suggestion
	if err := c.get(ctx, autocompletePath+"?"+params.Encode(), "autocomplete", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns one page of results for query starting at offset.
func (c *Client) Search(ctx context.Context, query string, offset int) (product.SearchPage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("offset", strconv.Itoa(offset))
	var out product.SearchPage
	if err := c.get(ctx, searchPath+"?"+params.Encode(), "search", &out); err != nil {
		return product.SearchPage{}, err
	}
	return out, nil
}

// Product returns the full record for id.
func (c *Client) Product(ctx context.Context, id string) (product.FullProduct, error) {
	var out product.FullProduct
	if err := c.get(ctx, productsPath+url.PathEscape(id), "product", &out); err != nil {
		return product.FullProduct{}, err
	}
	return out, nil
}

// Promotions returns the vendor's promotion listing.
func (c *Client) Promotions(ctx context.Context) ([]promotion.Category, error) {
	var out []promotion.Category
	if err := c.get(ctx, promotionsPath, "promotions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PromotionDetail returns the members of sale group id.
func (c *Client) PromotionDetail(ctx context.Context, id string) (promotion.SaleGroupFull, error) {
	var out promotion.SaleGroupFull
	if err := c.get(ctx, promotionsPath+"/"+url.PathEscape(id), "promotion_detail", &out); err != nil {
		return promotion.SaleGroupFull{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path, op string, out any) error {
	return c.do(ctx, http.MethodGet, path, op, nil, true, out)
}

func (c *Client) do(ctx context.Context, method, path, op string, body io.Reader, authorize bool, out any) error {
	vendorName := string(c.cfg.Vendor)
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.endpoint(path), body)
	if err != nil {
		return errs.New(vendorName, errs.CodeInvalid, errs.WithOp(op), errs.WithCause(err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorize {
		c.tokenMu.RLock()
		token := c.token
		c.tokenMu.RUnlock()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return errs.Classify(vendorName, op, fmt.Errorf("request %s: %w", path, err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		message := strings.TrimSpace(string(raw))
		var payload errorResponse
		if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
			message = payload.Message
		}
		return errs.New(vendorName, errs.FromStatus(resp.StatusCode),
			errs.WithOp(op),
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage(message))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return errs.Classify(vendorName, op, err)
		}
		return errs.New(vendorName, errs.CodeFatal, errs.WithOp(op), errs.WithMessage("decode response"), errs.WithCause(err))
	}
	return nil
}
