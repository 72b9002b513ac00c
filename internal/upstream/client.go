// Package upstream fetches paginated solicitation records from the public grants API.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sbir-solicitations/internal/grants"
	"github.com/JakeFAU/sbir-solicitations/internal/metrics"
)

// ErrTransport marks a fetch that received no HTTP response at all.
var ErrTransport = errors.New("upstream unreachable")

// DefaultBaseURL is the public SBIR API root.
const DefaultBaseURL = "https://api.www.sbir.gov/public/api"

// Page outcomes, also used as metric labels.
const (
	OutcomeOK             = "ok"
	OutcomeEmpty          = "empty"
	OutcomeNotFound       = "not_found"
	OutcomeBadGateway     = "bad_gateway"
	OutcomeGatewayTimeout = "gateway_timeout"
	OutcomeUnexpected     = "unexpected_status"
	OutcomeBadPayload     = "bad_payload"
	OutcomeTransport      = "transport_error"
)

// Config controls the upstream client.
type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Waiter paces outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Client issues one GET per page using a Colly collector.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. limiter may be nil to disable pacing.
func New(cfg Config, limiter Waiter, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("invalid upstream base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 32 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Error statuses reach OnResponse; OnError then only sees transport failures.
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodySize
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Client{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}, nil
}

// PageURL builds the page URL. The upstream times out when rows precedes
// start, so the query is formatted by hand rather than via url.Values.
func (c *Client) PageURL(start, rows int) string {
	return fmt.Sprintf("%s/solicitations?start=%d&rows=%d", c.cfg.BaseURL, start, rows)
}

type pageResponse struct {
	status int
	body   []byte
}

// FetchPage returns the records at offset start. HTTP error responses and
// unusable bodies yield an empty page and a nil error; only a missing
// response is reported, wrapped in ErrTransport.
func (c *Client) FetchPage(ctx context.Context, start, rows int) ([]grants.RawRecord, error) {
	pageURL := c.PageURL(start, rows)
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, pageURL); err != nil {
			return nil, fmt.Errorf("pace upstream request: %w", err)
		}
	}

	var (
		resp     pageResponse
		fetchErr error
	)
	collector := c.baseCollector.Clone()
	c.configureCollectorHooks(collector, &resp, &fetchErr)

	begin := time.Now()
	if err := c.runCollector(ctx, collector, pageURL, &fetchErr); err != nil {
		metrics.ObservePage(OutcomeTransport)
		c.logger.Error("upstream request failed",
			zap.String("url", pageURL),
			zap.Duration("elapsed", time.Since(begin)),
			zap.Error(err),
		)
		return nil, err
	}

	records, outcome := c.decode(pageURL, resp)
	metrics.ObservePage(outcome)
	c.logger.Info("fetched solicitations page",
		zap.Int("start", start),
		zap.Int("rows", rows),
		zap.Int("status", resp.status),
		zap.String("outcome", outcome),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", time.Since(begin)),
	)
	return records, nil
}

func (c *Client) decode(pageURL string, resp pageResponse) ([]grants.RawRecord, string) {
	outcome := Classify(resp.status, resp.body)
	switch outcome {
	case OutcomeOK:
	case OutcomeEmpty, OutcomeNotFound:
		return nil, outcome
	case OutcomeBadGateway, OutcomeGatewayTimeout:
		c.logger.Warn("transient upstream failure, treating page as empty",
			zap.String("url", pageURL), zap.Int("status", resp.status))
		return nil, outcome
	default:
		c.logger.Warn("unexpected upstream status, treating page as empty",
			zap.String("url", pageURL), zap.Int("status", resp.status))
		return nil, outcome
	}

	records, rejected, err := grants.DecodePage(resp.body)
	if err != nil {
		c.logger.Warn("upstream payload is not a JSON array, treating page as empty",
			zap.String("url", pageURL), zap.Error(err))
		return nil, OutcomeBadPayload
	}
	for _, item := range rejected {
		c.logger.Warn("dropping non-object page element", zap.String("url", pageURL), zap.Any("element", item))
	}
	if len(records) == 0 {
		return nil, OutcomeEmpty
	}
	return records, OutcomeOK
}

// Classify maps an HTTP status and body to a page outcome.
func Classify(status int, body []byte) string {
	switch {
	case status == http.StatusNotFound:
		return OutcomeNotFound
	case status == http.StatusBadGateway:
		return OutcomeBadGateway
	case status == http.StatusGatewayTimeout:
		return OutcomeGatewayTimeout
	case status < 200 || status >= 300:
		return OutcomeUnexpected
	case len(strings.TrimSpace(string(body))) == 0:
		return OutcomeEmpty
	default:
		return OutcomeOK
	}
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, resp *pageResponse, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*resp = pageResponse{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*resp = pageResponse{status: r.StatusCode, body: append([]byte(nil), r.Body...)}
			return
		}
		*fetchErr = err
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, pageURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("upstream fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("%w: %s: %w", ErrTransport, pageURL, *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrTransport, pageURL, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
