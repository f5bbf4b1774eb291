package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultSpotURL    = "https://api.binance.com"
	DefaultFuturesURL = "https://fapi.binance.com"
	DefaultStreamURL  = "wss://fstream.binance.com/ws"
)

type Config struct {
	APIKey            string
	APISecret         string
	SpotURL           string
	FuturesURL        string
	RecvWindow        time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	RetryCount        int
}

// APIError is the error body the exchange returns with non-2xx responses.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// Client talks to both the spot and the USDⓈ-M futures REST APIs with one
// set of credentials.
type Client struct {
	spot       *resty.Client
	futures    *resty.Client
	auth       Authenticator
	limiter    *rate.Limiter
	recvWindow time.Duration
	now        func() time.Time
	logger     *logrus.Logger
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.SpotURL == "" {
		cfg.SpotURL = DefaultSpotURL
	}
	if cfg.FuturesURL == "" {
		cfg.FuturesURL = DefaultFuturesURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}

	return &Client{
		spot:       newRestClient(cfg.SpotURL, cfg),
		futures:    newRestClient(cfg.FuturesURL, cfg),
		auth:       NewHMACAuthenticator(cfg.APIKey, cfg.APISecret),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		recvWindow: cfg.RecvWindow,
		now:        time.Now,
		logger:     logger,
	}
}

func newRestClient(baseURL string, cfg Config) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryReads)
}

// retryReads retries only GETs. Order placement must never be resent.
func retryReads(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
}

type endpoint struct {
	client *resty.Client
	method string
	path   string
	signed bool
}

func (c *Client) do(ctx context.Context, ep endpoint, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}
	if params == nil {
		params = url.Values{}
	}

	req := ep.client.R().SetContext(ctx)
	target := ep.path
	if ep.signed {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		}
		query := params.Encode()
		target = ep.path + "?" + query + "&signature=" + c.auth.Sign(query)
		c.auth.AddAuthHeaders(req.Header)
	} else if len(params) > 0 {
		req.SetQueryParamsFromValues(params)
	}

	resp, err := req.Execute(ep.method, target)
	if err != nil {
		return errors.Wrapf(err, "%s %s", ep.method, ep.path)
	}

	c.logger.WithFields(logrus.Fields{
		"method":  ep.method,
		"path":    ep.path,
		"status":  resp.StatusCode(),
		"latency": resp.Time().String(),
	}).Debug("Binance request complete")

	if resp.IsError() {
		return parseAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(malformed(err), "decode %s", ep.path)
	}
	return nil
}

func parseAPIError(resp *resty.Response) error {
	apiErr := &APIError{Status: resp.StatusCode()}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = string(resp.Body())
	}
	return apiErr
}

func (c *Client) spotGet(path string, signed bool) endpoint {
	return endpoint{client: c.spot, method: http.MethodGet, path: path, signed: signed}
}

func (c *Client) futuresGet(path string) endpoint {
	return endpoint{client: c.futures, method: http.MethodGet, path: path}
}
