package vendorapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	obsmetrics "github.com/smallbiznis/erpsync/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	endpointPath = "/xml/xml.asp"

	// The vendor rejects larger pages; never send more.
	maxPageSize = 30

	maxBackoff = 30 * time.Second
)

// Config carries the per-tenant wire settings. Bounds are enforced by the
// config layer; the page cap is enforced here unconditionally.
type Config struct {
	BaseURL      string
	AdminCode    string
	Password     string
	PageSize     int
	CallInterval time.Duration
	Timeout      time.Duration
	RetryCount   int
}

// Stats is a snapshot of per-instance request accounting. A logical call
// that succeeds after retries counts once in TotalRequests and zero in
// FailedRequests; FailedRequests counts logical calls whose retries were
// exhausted or that failed non-retriably.
type Stats struct {
	TotalRequests  int64
	FailedRequests int64
}

// Client performs paginated, rate-limited, retrying calls against the
// vendor's XML endpoint. One instance per tenant; the instance is
// exclusively held by the running job.
type Client struct {
	http *resty.Client
	cfg  Config
	log  *zap.Logger

	mu       sync.Mutex
	lastDone time.Time

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
}

func New(cfg Config, log *zap.Logger) *Client {
	if cfg.PageSize <= 0 || cfg.PageSize > maxPageSize {
		cfg.PageSize = maxPageSize
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "text/xml")

	return &Client{
		http: httpClient,
		cfg:  cfg,
		log:  log.Named("vendorapi"),
	}
}

// Interval is the configured gap between consecutive vendor calls.
func (c *Client) Interval() time.Duration {
	return c.cfg.CallInterval
}

func (c *Client) Stats() Stats {
	return Stats{
		TotalRequests:  c.totalRequests.Load(),
		FailedRequests: c.failedRequests.Load(),
	}
}

// Params carries the mode-independent query options.
type Params struct {
	StartDate time.Time
	EndDate   time.Time
	// ByMutationDate windows by mDate instead of order date, which is how
	// late claim revisions are picked up.
	ByMutationDate bool
	Extra          url.Values
}

func (p Params) values() url.Values {
	values := url.Values{}
	if !p.StartDate.IsZero() {
		values.Set("sDate", p.StartDate.Format("20060102"))
	}
	if !p.EndDate.IsZero() {
		values.Set("eDate", p.EndDate.Format("20060102"))
	}
	if p.ByMutationDate {
		values.Set("datetype", "m")
	}
	for key, vals := range p.Extra {
		for _, v := range vals {
			values.Add(key, v)
		}
	}
	return values
}

// Orders streams order headers (mode jumun) page by page.
func (c *Client) Orders(params Params) *Iter[Order] {
	return newIter[Order](c, ModeOrders, params.values())
}

// Customers streams accounts (mode cust).
func (c *Client) Customers(params Params) *Iter[Customer] {
	return newIter[Customer](c, ModeCustomers, params.values())
}

// Goods streams catalog items (mode goods).
func (c *Client) Goods(params Params) *Iter[Product] {
	return newIter[Product](c, ModeGoods, params.values())
}

// Stock streams warehouse quantities (mode jegoAll).
func (c *Client) Stock(params Params) *Iter[Stock] {
	return newIter[Stock](c, ModeStock, params.values())
}

// Codes streams one of the code-lookup modes.
func (c *Client) Codes(mode Mode) *Iter[CodeEntry] {
	return newIter[CodeEntry](c, mode, url.Values{})
}

// TestConnection issues the lightest authenticated call (mode mk) and
// reports reachability.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	_, err := fetchPage[CodeEntry](ctx, c, ModeCouriers, url.Values{}, 1)
	if err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

// Iter is a restartable lazy page iterator. The sequence terminates on an
// empty info list or when the page counter passes the server-reported
// TotPage.
type Iter[T any] struct {
	c      *Client
	mode   Mode
	params url.Values

	page     int
	totPages int
	done     bool
}

func newIter[T any](c *Client, mode Mode, params url.Values) *Iter[T] {
	return &Iter[T]{c: c, mode: mode, params: params}
}

// Next fetches the next page. The second return is false once the sequence
// is exhausted; records from a returned page are never re-delivered.
func (it *Iter[T]) Next(ctx context.Context) ([]T, bool, error) {
	if it.done {
		return nil, false, nil
	}

	it.page++
	if it.totPages > 0 && it.page > it.totPages {
		it.done = true
		return nil, false, nil
	}

	env, err := fetchPage[T](ctx, it.c, it.mode, it.params, it.page)
	if err != nil {
		it.done = true
		return nil, false, err
	}
	if env.TotPage > 0 {
		it.totPages = int(env.TotPage)
	}
	if len(env.Infos) == 0 {
		it.done = true
		return nil, false, nil
	}

	obsmetrics.Sync().IncPageFetched(string(it.mode))
	return env.Infos, true, nil
}

// Reset rewinds the iterator to the first page.
func (it *Iter[T]) Reset() {
	it.page = 0
	it.totPages = 0
	it.done = false
}

func fetchPage[T any](ctx context.Context, c *Client, mode Mode, params url.Values, page int) (*envelope[T], error) {
	query := url.Values{}
	for key, vals := range params {
		for _, v := range vals {
			query.Add(key, v)
		}
	}
	query.Set("mode", string(mode))
	query.Set("admin_code", c.cfg.AdminCode)
	query.Set("pwd", c.cfg.Password)
	query.Set("page", strconv.Itoa(page))
	query.Set("onePageCnt", strconv.Itoa(c.cfg.PageSize))

	c.totalRequests.Add(1)
	obsmetrics.Sync().IncVendorRequest(string(mode))

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryCount+1; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrTransport, err)
			break
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParamsFromValues(query).
			Get(endpointPath)

		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrTransport, err)
		} else if resp.StatusCode() != 200 {
			c.markDone()
			lastErr = fmt.Errorf("%w: http %d", ErrTransport, resp.StatusCode())
		} else {
			c.markDone()
			env, perr := parseEnvelope[T](resp.Body())
			if perr != nil {
				// Malformed XML and auth failures are not transient.
				c.failedRequests.Add(1)
				obsmetrics.Sync().IncVendorFailure(string(mode), Kind(perr))
				return nil, perr
			}
			return env, nil
		}

		if attempt > c.cfg.RetryCount {
			break
		}

		backoff := c.cfg.CallInterval << attempt
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		c.log.Warn("vendor call failed, retrying",
			zap.String("mode", string(mode)),
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr),
		)
		if err := sleepCtx(ctx, backoff); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrTransport, err)
			break
		}
	}

	c.failedRequests.Add(1)
	obsmetrics.Sync().IncVendorFailure(string(mode), Kind(lastErr))
	return nil, lastErr
}

// waitTurn enforces the minimum gap between the end of the previous
// response and the next request.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	var wait time.Duration
	if !c.lastDone.IsZero() {
		wait = c.cfg.CallInterval - time.Since(c.lastDone)
	}
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return sleepCtx(ctx, wait)
}

func (c *Client) markDone() {
	c.mu.Lock()
	c.lastDone = time.Now()
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
