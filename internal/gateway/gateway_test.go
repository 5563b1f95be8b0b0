package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

func TestSendSuccessCarriesIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/linkedin/messages", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		json.NewEncoder(w).Encode(SendResult{ID: "msg-1", Status: "sent"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "token", 5*time.Second)
	res, err := c.Send(context.Background(), SendRequest{
		Platform:       model.PlatformLinkedIn,
		AccountRef:     "acc-1",
		RecipientRef:   "in-42",
		Content:        "hello",
		IdempotencyKey: "exec:step",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.ID)
	assert.False(t, res.AlreadySent())
	assert.Equal(t, "exec:step", gotKey)
}

func TestSendAlreadySentIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SendResult{ID: "msg-1", Status: StatusAlreadySent})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second)
	res, err := c.Send(context.Background(), SendRequest{Platform: model.PlatformEmail})
	require.NoError(t, err)
	assert.True(t, res.AlreadySent())
}

func TestSendErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"500 is transient", http.StatusInternalServerError, func(t *testing.T, err error) {
			assert.True(t, appErrors.IsTransient(err))
		}},
		{"408 is transient", http.StatusRequestTimeout, func(t *testing.T, err error) {
			assert.True(t, appErrors.IsTransient(err))
		}},
		{"429 is backpressure", http.StatusTooManyRequests, func(t *testing.T, err error) {
			assert.True(t, appErrors.IsRateLimited(err))
		}},
		{"422 is permanent", http.StatusUnprocessableEntity, func(t *testing.T, err error) {
			assert.True(t, appErrors.IsPermanent(err))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid recipient"})
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, "", 5*time.Second)
			_, err := c.Send(context.Background(), SendRequest{Platform: model.PlatformLinkedIn})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestSendPermanentErrorKeepsGatewayReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid recipient"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second)
	_, err := c.Send(context.Background(), SendRequest{Platform: model.PlatformLinkedIn})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid recipient")
}

func TestSendTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 20*time.Millisecond)
	_, err := c.Send(context.Background(), SendRequest{Platform: model.PlatformEmail})
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))
}

func TestGetSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/linkedin/signals", r.URL.Path)
		require.Equal(t, "acc-1", r.URL.Query().Get("account_ref"))
		require.Equal(t, "in-42", r.URL.Query().Get("recipient_ref"))
		json.NewEncoder(w).Encode(Signal{Accepted: true, Opened: true})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second)
	sig, err := c.GetSignal(context.Background(), model.PlatformLinkedIn, "acc-1", "in-42")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAccepted, sig.Outcome())
}

func TestSignalOutcomePriority(t *testing.T) {
	assert.Equal(t, model.OutcomeNone, Signal{}.Outcome())
	assert.Equal(t, model.OutcomeOpened, Signal{Opened: true}.Outcome())
	assert.Equal(t, model.OutcomeClicked, Signal{Opened: true, Clicked: true}.Outcome())
	assert.Equal(t, model.OutcomeAccepted, Signal{Accepted: true, Clicked: true}.Outcome())
	assert.Equal(t, model.OutcomeReplied, Signal{Accepted: true, Replied: true}.Outcome())
}

func TestRateLimitRetryAtFromInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second)
	c.now = func() time.Time { return fixed }

	_, err := c.Send(context.Background(), SendRequest{Platform: model.PlatformLinkedIn})
	var rl *appErrors.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, fixed.Add(2*time.Minute), rl.RetryAt)
}

func TestRateLimitRetryAtDefaultsToNextWindow(t *testing.T) {
	fixed := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 5*time.Second)
	c.now = func() time.Time { return fixed }

	_, err := c.Send(context.Background(), SendRequest{Platform: model.PlatformLinkedIn})
	var rl *appErrors.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, model.WindowDaily.NextStart(fixed), rl.RetryAt)
}
