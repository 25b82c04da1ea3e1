package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rasnes/alphavantage-warehouse/config"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const TokenEnv = "ALPHAVANTAGE_TOKEN"

// maxErrorBody caps how much of a failed response body ends up in an error message.
const maxErrorBody = 512

type Client struct {
	HTTPClient  *retryablehttp.Client
	Logger      *slog.Logger
	BaseURL     string
	ErrorPolicy string
	Intraday    IntradayOptions
	Sentiment   SentimentOptions
	limiter     *rate.Limiter
	token       string
}

func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	token := os.Getenv(TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("%s env variable is not set", TokenEnv)
	}

	intraday, err := IntradayOptionsFromConfig(cfg.AlphaVantage.Intraday)
	if err != nil {
		return nil, err
	}

	client := &Client{
		HTTPClient:  retryablehttp.NewClient(),
		Logger:      logger,
		BaseURL:     cfg.AlphaVantage.BaseURL,
		ErrorPolicy: cfg.AlphaVantage.ErrorPolicy,
		Intraday:    intraday,
		Sentiment:   SentimentOptionsFromConfig(cfg.AlphaVantage.Sentiment),
		limiter:     newLimiter(cfg.Extract.RequestsPerMinute),
		token:       token,
	}
	if client.ErrorPolicy == "" {
		client.ErrorPolicy = config.ErrorPolicyPropagate
	}

	client.HTTPClient.RetryWaitMin = cfg.Extract.Backoff.RetryWaitMin
	client.HTTPClient.RetryWaitMax = cfg.Extract.Backoff.RetryWaitMax
	client.HTTPClient.RetryMax = cfg.Extract.Backoff.RetryMax
	client.HTTPClient.Logger = logger
	// Keep the last response once retries are exhausted so its status reaches the caller.
	client.HTTPClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Extract.Timeout > 0 {
		client.HTTPClient.HTTPClient.Timeout = cfg.Extract.Timeout
	}

	return client, nil
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// WithErrorPolicy returns a copy of the client using the given policy.
// The copy shares the HTTP client and the rate limiter.
func (c *Client) WithErrorPolicy(policy string) *Client {
	cp := *c
	cp.ErrorPolicy = policy
	return &cp
}

// applyErrorPolicy applies the error policy to a failed fetch.
func (c *Client) applyErrorPolicy(err error, operation, symbol string) error {
	if c.ErrorPolicy != config.ErrorPolicyEmpty {
		return err
	}
	c.Logger.Warn("Returning empty result for failed fetch", "operation", operation, "symbol", symbol, "error", err)
	return nil
}

// FetchData performs a GET against the query endpoint with the given parameters and
// returns the parsed JSON body once the status code and provider error payloads are checked.
func (c *Client) FetchData(ctx context.Context, operation string, params url.Values) (gjson.Result, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, 0, newUpstreamError(0, operation, "waiting for request quota: %v", err)
	}

	rawURL, err := c.buildURL(params)
	if err != nil {
		return gjson.Result{}, 0, newUpstreamError(0, operation, "%v", err)
	}

	body, resp, err := c.get(ctx, rawURL)
	if err != nil {
		return gjson.Result{}, 0, newUpstreamError(0, operation, "%v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, resp.StatusCode, newUpstreamError(resp.StatusCode, operation, "%s", truncate(body))
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, resp.StatusCode, newUpstreamError(0, operation, "invalid JSON response: %s", truncate(body))
	}

	root := gjson.ParseBytes(body)
	if msg, ok := member(root, "Error Message"); ok {
		return gjson.Result{}, resp.StatusCode, newUpstreamError(resp.StatusCode, operation, "%s", msg.String())
	}

	return root, resp.StatusCode, nil
}

// buildURL adds the API key and the request parameters to the base URL
func (c *Client) buildURL(params url.Values) (string, error) {
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	query := parsedURL.Query()
	for key, values := range params {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	query.Set("apikey", c.token)
	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// get fetches the URL and returns the body and response
func (c *Client) get(ctx context.Context, rawURL string) (body []byte, resp *http.Response, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err = c.HTTPClient.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, nil, redactToken(err, c.token)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	return body, resp, nil
}

// missingKey builds the error for a response without the expected top level key,
// surfacing the provider's notice when it sent one instead (quota messages).
func missingKey(root gjson.Result, status int, operation, key string) error {
	for _, notice := range []string{"Information", "Note"} {
		if msg, ok := member(root, notice); ok {
			return newUpstreamError(status, operation, "missing key %q: %s", key, msg.String())
		}
	}
	return newUpstreamError(status, operation, "missing key %q in response", key)
}

// member looks up a top level key by exact name. Provider keys contain spaces and
// parentheses, so they are matched while walking the object rather than via a gjson path.
func member(obj gjson.Result, key string) (gjson.Result, bool) {
	var found gjson.Result
	ok := false
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

// redactToken keeps the API key out of transport errors, which embed the request URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "REDACTED"))
}
