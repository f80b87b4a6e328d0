// Package upstream is the HTTP transport shared by every source adapter.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Source string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s upstream status %d: %s", e.Source, e.Code, e.Body)
}

// Options tunes a Client.
type Options struct {
	// Retries is the number of retries after the first attempt.
	Retries        int
	InitialBackoff time.Duration
	// TripAfter consecutive failures opens the breaker; it half-opens after OpenFor.
	TripAfter uint32
	OpenFor   time.Duration
	HTTP      *http.Client
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 50 * time.Millisecond
	}
	if o.TripAfter == 0 {
		o.TripAfter = 5
	}
	if o.OpenFor <= 0 {
		o.OpenFor = 30 * time.Second
	}
	return o
}

// Client calls one upstream subsystem with retries behind a circuit breaker.
type Client struct {
	name    string
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	opts    Options
	log     zerolog.Logger
}

// New builds a client rooted at baseURL. name labels logs and the breaker.
func New(name, baseURL string, opts Options, log zerolog.Logger) *Client {
	opts = opts.withDefaults()
	hc := resty.New()
	if opts.HTTP != nil {
		hc = resty.NewWithClient(opts.HTTP)
	}
	hc.SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")

	st := gobreaker.Settings{
		Name:     name,
		Interval: time.Minute,
		Timeout:  opts.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.TripAfter
		},
		IsSuccessful: healthyOutcome,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("upstream breaker state change")
		},
	}
	return &Client{
		name:    name,
		http:    hc,
		breaker: gobreaker.NewCircuitBreaker(st),
		opts:    opts,
		log:     log.With().Str("upstream", name).Logger(),
	}
}

// Name returns the label the client was built with.
func (c *Client) Name() string { return c.name }

// BreakerOpen reports whether calls currently fail fast.
func (c *Client) BreakerOpen() bool { return c.breaker.State() == gobreaker.StateOpen }

// GetJSON fetches path with query and decodes the body into out. Transient failures
// (transport errors, 5xx, 429) are retried with exponential backoff bounded by ctx.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.getWithRetry(ctx, path, query, out)
	})
	return err
}

func (c *Client) getWithRetry(ctx context.Context, path string, query url.Values, out any) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.InitialBackoff
	exp.Multiplier = 2
	exp.Reset()

	retries := c.opts.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParamsFromValues(query).
			Get(path)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%s request: %w", c.name, err)
		}
		code := resp.StatusCode()
		if code < 200 || code > 299 {
			serr := &StatusError{Source: c.name, Code: code, Body: truncate(resp.String(), 256)}
			if code == http.StatusTooManyRequests || code >= 500 {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return backoff.Permanent(fmt.Errorf("%s decode: %w", c.name, err))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("upstream retry")
	}
	return backoff.RetryNotify(op, policy, notify)
}

// healthyOutcome decides what the shared breaker counts against the upstream. A 4xx
// other than 429 is a problem with one caller's request, and a cancelled caller says
// nothing about the upstream; neither may trip the breaker for every user.
func healthyOutcome(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Code >= 400 && serr.Code < 500 && serr.Code != http.StatusTooManyRequests
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
