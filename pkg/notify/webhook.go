// Package notify posts finished attempts to an external webhook.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/backsoul/leadquiz/pkg/models"
	"github.com/valyala/fasthttp"
)

var ErrNotConfigured = errors.New("notification webhook not configured")

const defaultTimeout = 10 * time.Second

// StatusError is returned when the webhook answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.StatusCode, e.Body)
}

type Webhook struct {
	url     string
	timeout time.Duration
	client  *fasthttp.Client
}

type Option func(*Webhook)

// WithClient swaps the HTTP client, e.g. to dial an in-memory listener
func WithClient(c *fasthttp.Client) Option {
	return func(w *Webhook) { w.client = c }
}

func NewWebhook(url string, timeout time.Duration, opts ...Option) *Webhook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	w := &Webhook{
		url:     url,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:         "leadquiz-notifier",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Configured() bool { return w != nil && w.url != "" }

// Notify posts n as JSON. Any 2xx is success.
func (w *Webhook) Notify(ctx context.Context, n models.AttemptNotification) error {
	if !w.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(w.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(w.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("calling webhook: %w", err)
	}

	code := resp.StatusCode()
	if code < 200 || code > 299 {
		msg := string(resp.Body())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &StatusError{StatusCode: code, Body: msg}
	}
	return nil
}
