// Package fake implements a deterministic in-memory vendor used in development and tests.
package fake

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/wgg/errs"
	"github.com/coachpo/wgg/internal/domain/product"
	"github.com/coachpo/wgg/internal/domain/promotion"
	"github.com/coachpo/wgg/internal/domain/vendor"
)

const (
	// PageSize bounds the number of items returned per search page.
	PageSize       = 20
	maxSuggestions = 5
)

var (
	_ vendor.Client        = (*Client)(nil)
	_ vendor.Authenticator = (*Client)(nil)
)

// Option configures the fake client.
type Option func(*Client)

// WithLatency delays every call by d, honouring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(c *Client) {
		c.latency = d
	}
}

// WithLoginRequired starts the client without a session, so the first call fails with
// auth_expired until Login succeeds.
func WithLoginRequired() Option {
	return func(c *Client) {
		c.session = false
	}
}

// WithClock overrides the clock used to seed sale validity windows.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Client serves a seeded catalog for one vendor. All state is guarded by mu so tests can
// mutate the catalog while the aggregator reads it.
type Client struct {
	vendor  product.Vendor
	latency time.Duration
	clock   func() time.Time

	mu       sync.Mutex
	products map[string]product.FullProduct
	listing  []promotion.Category
	groups   map[string]promotion.SaleGroupFull
	session  bool
	outage   error
	loginErr error
	logins   int
	calls    map[string]int
}

// New constructs a fake vendor client seeded with a deterministic catalog.
func New(v product.Vendor, opts ...Option) *Client {
	c := &Client{
		vendor:  v,
		clock:   time.Now,
		session: true,
		calls:   make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.products, c.listing, c.groups = seedCatalog(v, c.clock())
	return c
}

// Vendor returns the vendor served by the client.
func (c *Client) Vendor() product.Vendor { return c.vendor }

// Login opens a new session unless a login failure is configured.
func (c *Client) Login(ctx context.Context) error {
	if err := c.enter(ctx, "login", false); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loginErr != nil {
		return c.loginErr
	}
	c.logins++
	c.session = true
	return nil
}

// Autocomplete suggests product names containing a word that starts with query.
func (c *Client) Autocomplete(ctx context.Context, query string) ([]product.Suggestion, error) {
	if err := c.enter(ctx, "autocomplete", true); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	out := make([]product.Suggestion, 0, maxSuggestions)
	for _, p := range c.sortedProductsLocked() {
		if len(out) == maxSuggestions {
			break
		}
		name := strings.ToLower(p.Name)
		if _, dup := seen[name]; dup || !hasWordPrefix(name, q) {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, product.Suggestion{Text: name})
	}
	return out, nil
}

// Search matches query against product names and brands.
func (c *Client) Search(ctx context.Context, query string, offset int) (product.SearchPage, error) {
	if err := c.enter(ctx, "search", true); err != nil {
		return product.SearchPage{}, err
	}
	if offset < 0 {
		return product.SearchPage{}, errs.New(string(c.vendor), errs.CodeInvalid, errs.WithOp("search"), errs.WithMessage("negative offset"))
	}
	q := strings.ToLower(strings.TrimSpace(query))
	c.mu.Lock()
	defer c.mu.Unlock()

	matches := make([]product.SearchProduct, 0)
	for _, p := range c.sortedProductsLocked() {
		haystack := strings.ToLower(p.Name + " " + p.Brand)
		if q == "" || strings.Contains(haystack, q) {
			matches = append(matches, p.Narrow())
		}
	}
	page := product.SearchPage{Offset: offset, Total: len(matches)}
	if offset >= len(matches) {
		return page, nil
	}
	end := min(offset+PageSize, len(matches))
	page.Items = matches[offset:end]
	return page, nil
}

// Product returns the full record for id.
func (c *Client) Product(ctx context.Context, id string) (product.FullProduct, error) {
	if err := c.enter(ctx, "product", true); err != nil {
		return product.FullProduct{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return product.FullProduct{}, errs.New(string(c.vendor), errs.CodeNotFound, errs.WithOp("product"), errs.WithMessage("unknown product "+id))
	}
	return cloneFull(p), nil
}

// Promotions returns the current promotion listing.
func (c *Client) Promotions(ctx context.Context) ([]promotion.Category, error) {
	if err := c.enter(ctx, "promotions", true); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.listing), nil
}

// PromotionDetail returns the members of sale group id.
func (c *Client) PromotionDetail(ctx context.Context, id string) (promotion.SaleGroupFull, error) {
	if err := c.enter(ctx, "promotion_detail", true); err != nil {
		return promotion.SaleGroupFull{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[id]
	if !ok {
		return promotion.SaleGroupFull{}, errs.New(string(c.vendor), errs.CodeNotFound, errs.WithOp("promotion_detail"), errs.WithMessage("unknown sale "+id))
	}
	g.Items = slices.Clone(g.Items)
	return g, nil
}

// ExpireSession invalidates the current session so the next call fails with auth_expired.
func (c *Client) ExpireSession() {
	c.mu.Lock()
	c.session = false
	c.mu.Unlock()
}

// SetOutage makes every call fail with err until cleared with nil.
func (c *Client) SetOutage(err error) {
	c.mu.Lock()
	c.outage = err
	c.mu.Unlock()
}

// SetLoginError makes Login fail with err until cleared with nil.
func (c *Client) SetLoginError(err error) {
	c.mu.Lock()
	c.loginErr = err
	c.mu.Unlock()
}

// PutProduct inserts or replaces a catalog product.
func (c *Client) PutProduct(p product.FullProduct) {
	c.mu.Lock()
	c.products[p.ID] = cloneFull(p)
	c.mu.Unlock()
}

// SetListing replaces the promotion listing and registers the sale group details.
func (c *Client) SetListing(listing []promotion.Category, groups ...promotion.SaleGroupFull) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listing = slices.Clone(listing)
	for _, g := range groups {
		c.groups[g.ID] = g
	}
}

// Calls reports how many times op was invoked, including failed calls.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Logins reports the number of successful logins.
func (c *Client) Logins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logins
}

func (c *Client) enter(ctx context.Context, op string, needsSession bool) error {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()

	if c.latency > 0 {
		timer := time.NewTimer(c.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outage != nil {
		return c.outage
	}
	if needsSession && !c.session {
		return errs.New(string(c.vendor), errs.CodeAuthExpired, errs.WithOp(op), errs.WithHTTP(401))
	}
	return nil
}

func (c *Client) sortedProductsLocked() []product.FullProduct {
	out := make([]product.FullProduct, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hasWordPrefix(text, prefix string) bool {
	if prefix == "" {
		return true
	}
	for _, word := range strings.Fields(text) {
		if strings.HasPrefix(word, prefix) {
			return true
		}
	}
	return false
}

func cloneFull(p product.FullProduct) product.FullProduct {
	p.ImageURLs = slices.Clone(p.ImageURLs)
	p.Decorators = slices.Clone(p.Decorators)
	p.Ingredients = slices.Clone(p.Ingredients)
	p.Nutrition = slices.Clone(p.Nutrition)
	p.Allergens = slices.Clone(p.Allergens)
	return p
}
