package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/market-sync/internal/circuitbreaker"
	apperrors "github.com/market-sync/internal/errors"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/models"
)

// errorLimitFloor is the X-ESI-Error-Limit-Remain value below which requests
// pause until the error window resets.
const errorLimitFloor = 10

// errUpstreamUnhealthy marks a response the breaker should count as a failure.
var errUpstreamUnhealthy = errors.New("upstream unhealthy")

// BudgetWaiter blocks until the cross-process request budget grants a request.
type BudgetWaiter interface {
	Wait(ctx context.Context) error
}

// ESIClientConfig configures ESIClient
type ESIClientConfig struct {
	BaseURL        string
	Datasource     string
	UserAgent      string
	Timeout        time.Duration
	RequestsPerSec int
	Burst          int

	// Optional collaborators
	Budget     BudgetWaiter
	Breaker    *circuitbreaker.CircuitBreaker
	HTTPClient *http.Client
}

// ESIClient reads orders, type listings and history from the ESI market endpoints.
type ESIClient struct {
	baseURL    string
	datasource string
	userAgent  string
	http       *http.Client
	limiter    *rate.Limiter
	budget     BudgetWaiter
	breaker    *circuitbreaker.CircuitBreaker

	mu             sync.Mutex
	errLimitRemain int
	errLimitReset  time.Time
}

// NewESIClient creates a new ESI client
func NewESIClient(cfg ESIClientConfig) (*ESIClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.Datasource == "" {
		cfg.Datasource = "tranquility"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerSec
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &ESIClient{
		baseURL:        cfg.BaseURL,
		datasource:     cfg.Datasource,
		userAgent:      cfg.UserAgent,
		http:           httpClient,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		budget:         cfg.Budget,
		breaker:        cfg.Breaker,
		errLimitRemain: -1,
	}, nil
}

// Breaker exposes the circuit breaker for health reporting; nil when disabled.
func (c *ESIClient) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// FetchOrdersPage implements MarketFeed
func (c *ESIClient) FetchOrdersPage(ctx context.Context, req OrdersPageRequest) PageResult {
	q := url.Values{}
	q.Set("order_type", "all")
	q.Set("page", strconv.Itoa(req.Page))
	if req.TypeID != nil {
		q.Set("type_id", strconv.Itoa(int(*req.TypeID)))
	}
	endpoint := c.endpoint(fmt.Sprintf("/markets/%d/orders/", req.RegionID), q)

	header := http.Header{}
	if v := NormalizeValidator(req.Validator); v != "" {
		header.Set("If-None-Match", v)
	}

	resp, err := c.do(ctx, endpoint, header)
	if err != nil {
		return Failed(0, err)
	}
	defer resp.Body.Close()

	pages := headerInt(resp.Header, "X-Pages")

	switch resp.StatusCode {
	case http.StatusNotModified:
		return Unchanged(pages)
	case http.StatusOK:
		var orders []models.MarketOrder
		if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
			return Failed(resp.StatusCode, fmt.Errorf("failed to decode orders page %d: %w", req.Page, err))
		}
		for i := range orders {
			orders[i].RegionID = req.RegionID
		}
		return Updated(orders, resp.Header.Get("ETag"), pages)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Failed(resp.StatusCode, apperrors.NewUpstreamError(endpoint, resp.StatusCode, fmt.Errorf("%s", body)))
	}
}

// FetchTypeIDs implements MarketFeed
func (c *ESIClient) FetchTypeIDs(ctx context.Context, regionID int32) ([]int32, error) {
	var all []int32
	totalPages := 1

	for page := 1; page <= totalPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		endpoint := c.endpoint(fmt.Sprintf("/markets/%d/types/", regionID), q)

		var ids []int32
		h, err := c.getJSON(ctx, endpoint, &ids)
		if err != nil {
			return nil, err
		}
		if page == 1 {
			if n := headerInt(h, "X-Pages"); n > 1 {
				totalPages = n
			}
		}
		all = append(all, ids...)
	}

	return all, nil
}

// FetchHistory implements MarketFeed
func (c *ESIClient) FetchHistory(ctx context.Context, regionID, typeID int32) ([]HistoryEntry, error) {
	q := url.Values{}
	q.Set("type_id", strconv.Itoa(int(typeID)))
	endpoint := c.endpoint(fmt.Sprintf("/markets/%d/history/", regionID), q)

	var entries []HistoryEntry
	if _, err := c.getJSON(ctx, endpoint, &entries); err != nil {
		if cat := apperrors.Categorize(err); cat != nil && cat.Details["upstreamStatus"] == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

func (c *ESIClient) endpoint(path string, q url.Values) string {
	q.Set("datasource", c.datasource)
	return c.baseURL + path + "?" + q.Encode()
}

// getJSON GETs endpoint and decodes a 200 body into dst. Every other outcome
// is an upstream error carrying the status.
func (c *ESIClient) getJSON(ctx context.Context, endpoint string, dst interface{}) (http.Header, error) {
	resp, err := c.do(ctx, endpoint, nil)
	if err != nil {
		return nil, apperrors.NewUpstreamError(endpoint, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.NewUpstreamError(endpoint, resp.StatusCode, fmt.Errorf("%s", body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return nil, apperrors.NewUpstreamError(endpoint, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return resp.Header, nil
}

// do paces, sends and breaker-guards one GET. A non-nil response is returned
// for every status; the caller owns resp.Body.
func (c *ESIClient) do(ctx context.Context, endpoint string, header http.Header) (*http.Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var resp *http.Response
	send := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		r, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		resp = r
		c.observeErrorLimit(r.Header)
		if r.StatusCode >= 500 || r.StatusCode == 420 {
			return errUpstreamUnhealthy
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(send)
	} else {
		err = send()
	}
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

func (c *ESIClient) wait(ctx context.Context) error {
	if pause := c.errorLimitPause(); pause > 0 {
		logging.FromContext(ctx).WithField("pause", pause.String()).Warn("ESI error limit nearly exhausted, pausing")
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.budget != nil {
		return c.budget.Wait(ctx)
	}
	return nil
}

func (c *ESIClient) observeErrorLimit(h http.Header) {
	remain := h.Get("X-ESI-Error-Limit-Remain")
	reset := h.Get("X-ESI-Error-Limit-Reset")
	if remain == "" || reset == "" {
		return
	}
	r, err1 := strconv.Atoi(remain)
	s, err2 := strconv.Atoi(reset)
	if err1 != nil || err2 != nil {
		return
	}

	c.mu.Lock()
	c.errLimitRemain = r
	c.errLimitReset = time.Now().Add(time.Duration(s) * time.Second)
	c.mu.Unlock()
}

func (c *ESIClient) errorLimitPause() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errLimitRemain < 0 || c.errLimitRemain >= errorLimitFloor {
		return 0
	}
	return time.Until(c.errLimitReset)
}

func headerInt(h http.Header, key string) int {
	n, err := strconv.Atoi(h.Get(key))
	if err != nil {
		return 0
	}
	return n
}
