// Package captcha solves image captchas through the 2captcha service.
package captcha

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/telemetry"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_solve  = "client.solve"
	report_client_submit = "client.submit"
	report_client_poll   = "client.poll"
)

const notReady = "CAPCHA_NOT_READY"

var (
	ErrUnsolvable  = errors.New("captcha service could not solve the image")
	ErrPollTimeout = errors.New("captcha service did not answer in time")
)

// ServiceError is an error code returned by the captcha service.
type ServiceError struct {
	Code string
}

func (e ServiceError) Error() string {
	return fmt.Sprintf("captcha service: %s", e.Code)
}

type Options struct {
	BaseUrl string
	ApiKey  string
	// Attempts is how many times an image is submitted before giving up.
	Attempts     int
	InitialWait  time.Duration
	PollInterval time.Duration
	Timeout      time.Duration
}

type Client struct {
	http *resty.Client
	opts Options
	tel  telemetry.API
}

func NewClient(opts Options, tel telemetry.API) *Client {
	assert.NotEmptyStr(opts.BaseUrl)
	assert.NotEmptyStr(opts.ApiKey)
	assert.NotNil(tel)

	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.InitialWait <= 0 {
		opts.InitialWait = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	tel = telemetry.NewScopedAPI("captcha", tel)

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimSuffix(opts.BaseUrl, "/"))
	httpClient.SetTimeout(30 * time.Second)

	// the service asks clients not to poll more than once a second
	rateLimiter := rate.NewLimiter(1, 2)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		http: httpClient,
		opts: opts,
		tel:  tel,
	}
}

type serviceResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func (c *Client) submit(ctx context.Context, image []byte) (string, error) {
	var body serviceResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":    c.opts.ApiKey,
			"method": "base64",
			"body":   base64.StdEncoding.EncodeToString(image),
			"json":   "1",
		}).
		SetResult(&body).
		ForceContentType("application/json").
		Post("/in.php")
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", fmt.Errorf("submit: unexpected status %s", res.Status())
	}
	if body.Status != 1 {
		return "", ServiceError{Code: body.Request}
	}
	return body.Request, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) poll(ctx context.Context, id string) (string, error) {
	deadline := time.Now().Add(c.opts.Timeout)
	err := c.sleep(ctx, c.opts.InitialWait)
	if err != nil {
		return "", err
	}
	for {
		var body serviceResponse
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    c.opts.ApiKey,
				"action": "get",
				"id":     id,
				"json":   "1",
			}).
			SetResult(&body).
			ForceContentType("application/json").
			Get("/res.php")
		if err != nil {
			return "", err
		}
		if res.IsError() {
			return "", fmt.Errorf("poll: unexpected status %s", res.Status())
		}
		if body.Status == 1 {
			return strings.TrimSpace(body.Request), nil
		}
		if body.Request != notReady {
			if body.Request == "ERROR_CAPTCHA_UNSOLVABLE" {
				return "", ErrUnsolvable
			}
			return "", ServiceError{Code: body.Request}
		}
		if time.Now().After(deadline) {
			return "", ErrPollTimeout
		}
		err = c.sleep(ctx, c.opts.PollInterval)
		if err != nil {
			return "", err
		}
	}
}

// Solve submits image and waits for its text, resubmitting on failure.
func (c *Client) Solve(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("solve captcha: empty image")
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		id, err := c.submit(ctx, image)
		if err != nil {
			lastErr = err
			c.tel.ReportWarning(report_client_submit, fmt.Errorf("attempt %d/%d: %w", attempt, c.opts.Attempts, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		text, err := c.poll(ctx, id)
		if err == nil && text == "" {
			err = errors.New("empty answer")
		}
		if err != nil {
			lastErr = err
			c.tel.ReportWarning(report_client_poll, fmt.Errorf("attempt %d/%d: %w", attempt, c.opts.Attempts, err), id)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.tel.ReportDebug("captcha solved", id, attempt)
		return text, nil
	}
	c.tel.ReportBroken(report_client_solve, lastErr)
	return "", fmt.Errorf("solve captcha after %d attempts: %w", c.opts.Attempts, lastErr)
}
