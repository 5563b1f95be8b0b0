// internal/gateway/gateway.go

// Package gateway is the client for the external messaging gateway: the
// service that actually delivers a message on a given channel and exposes
// engagement signals (accepted/replied/opened/clicked).
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// StatusAlreadySent is returned by the gateway when the idempotency key has
// been seen before. Callers treat it as success.
const StatusAlreadySent = "already_sent"

// SendRequest is one outbound message delivery.
type SendRequest struct {
	Platform       model.Platform `json:"platform"`
	AccountRef     string         `json:"account_ref"`
	RecipientRef   string         `json:"recipient_ref"`
	Content        string         `json:"content"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// SendResult is the gateway's structured answer to a send.
type SendResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// AlreadySent reports whether the gateway deduplicated this delivery.
func (r SendResult) AlreadySent() bool { return r.Status == StatusAlreadySent }

// Signal is the engagement state of one recipient on one platform.
type Signal struct {
	Accepted bool `json:"accepted"`
	Replied  bool `json:"replied"`
	Opened   bool `json:"opened"`
	Clicked  bool `json:"clicked"`
}

// Outcome collapses the signal into the strongest observed outcome. A reply
// outranks an accepted connection, which outranks click and open.
func (s Signal) Outcome() model.Outcome {
	switch {
	case s.Replied:
		return model.OutcomeReplied
	case s.Accepted:
		return model.OutcomeAccepted
	case s.Clicked:
		return model.OutcomeClicked
	case s.Opened:
		return model.OutcomeOpened
	}
	return model.OutcomeNone
}

// Client is what the dispatcher needs from the messaging gateway.
type Client interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
	GetSignal(ctx context.Context, platform model.Platform, accountRef, recipientRef string) (Signal, error)
}

type errorBody struct {
	Error string `json:"error"`
}

// HTTPClient talks to the gateway over REST with a bounded timeout per call.
type HTTPClient struct {
	client *resty.Client
	now    func() time.Time
}

func (h *HTTPClient) nowUTC() time.Time {
	if h.now != nil {
		return h.now().UTC()
	}
	return time.Now().UTC()
}

// NewHTTPClient builds a gateway client. Timeout applies to every call;
// timeouts surface as transient errors.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &HTTPClient{client: c}
}

// Send delivers one message. The idempotency key travels both in the body
// and the Idempotency-Key header so either gateway convention works.
func (h *HTTPClient) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	var (
		result SendResult
		body   errorBody
	)
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(req).
		SetResult(&result).
		SetError(&body).
		Post(fmt.Sprintf("/v1/%s/messages", req.Platform))
	if err != nil {
		return SendResult{}, &appErrors.TransientGatewayError{Op: "send", Err: err}
	}
	if err := classify("send", resp, body, h.nowUTC()); err != nil {
		return SendResult{}, err
	}
	log.Debug().
		Str("platform", string(req.Platform)).
		Str("gateway_id", result.ID).
		Str("status", result.Status).
		Msg("gateway send succeeded")
	return result, nil
}

// GetSignal fetches the engagement signal for a recipient. Used by branch
// steps as a bounded, single attempt.
func (h *HTTPClient) GetSignal(ctx context.Context, platform model.Platform, accountRef, recipientRef string) (Signal, error) {
	var (
		signal Signal
		body   errorBody
	)
	resp, err := h.client.R().
		SetContext(ctx).
		SetQueryParam("account_ref", accountRef).
		SetQueryParam("recipient_ref", recipientRef).
		SetResult(&signal).
		SetError(&body).
		Get(fmt.Sprintf("/v1/%s/signals", platform))
	if err != nil {
		return Signal{}, &appErrors.TransientGatewayError{Op: "get_signal", Err: err}
	}
	if err := classify("get_signal", resp, body, h.nowUTC()); err != nil {
		return Signal{}, err
	}
	return signal, nil
}

// classify maps HTTP status codes onto the error taxonomy: 429 is
// backpressure, 408/5xx are transient, any other 4xx is permanent.
func classify(op string, resp *resty.Response, body errorBody, now time.Time) error {
	code := resp.StatusCode()
	switch {
	case code < 400:
		return nil
	case code == http.StatusTooManyRequests:
		return &appErrors.RateLimitedError{RetryAt: retryAt(resp, now)}
	case code == http.StatusRequestTimeout || code >= 500:
		return &appErrors.TransientGatewayError{Op: op, Err: fmt.Errorf("gateway returned %d", code)}
	default:
		reason := body.Error
		if reason == "" {
			reason = fmt.Sprintf("gateway returned %d", code)
		}
		return &appErrors.PermanentGatewayError{Op: op, Reason: reason}
	}
}

func retryAt(resp *resty.Response, now time.Time) time.Time {
	if s := resp.Header().Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}
	return model.WindowDaily.NextStart(now)
}

var _ Client = (*HTTPClient)(nil)
