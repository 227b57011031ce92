// Package botstore reads the desired bot configuration from, and reports
// heartbeats to, a PostgREST-style remote table keyed by bot identity.
package botstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/roombot/internal/errors"
)

// Client wraps the store's REST surface.
type Client struct {
	rest   *resty.Client
	table  string
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithRetry sets how often failed requests are retried by the transport.
func WithRetry(count int, wait time.Duration) Option {
	return func(c *Client) {
		c.rest.SetRetryCount(count).SetRetryWaitTime(wait).SetRetryMaxWaitTime(wait * 4)
	}
}

// WithClock overrides the time source used for last_seen.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a store client for baseURL (e.g. https://<project>.supabase.co).
func NewClient(baseURL, apiKey, table string, logger zerolog.Logger, opts ...Option) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("apikey", apiKey).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Accept", "application/json")

	c := &Client{
		rest:   rest,
		table:  table,
		logger: logger.With().Str("component", "botstore").Logger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.rest.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
	})
	return c
}

func (c *Client) path() string {
	return "/rest/v1/" + c.table
}

// Fetch returns the configuration record for id, or ErrNoConfiguration when
// the record does not exist yet.
func (c *Client) Fetch(ctx context.Context, id string) (*BotConfiguration, error) {
	var rows []BotConfiguration
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("select", "*").
		SetResult(&rows).
		Get(c.path())
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("fetching config for %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, perrors.ErrNoConfiguration
	}
	return &rows[0], nil
}

// UpdateStatus writes a heartbeat. LastSeen is stamped when zero.
func (c *Client) UpdateStatus(ctx context.Context, id string, st BotStatus) error {
	if st.LastSeen.IsZero() {
		st.LastSeen = c.now()
	}
	return c.patch(ctx, id, map[string]any{
		"status":           st.Status,
		"last_seen":        st.LastSeen.Format(time.RFC3339),
		"current_activity": st.CurrentActivity,
	})
}

// SetCommand overwrites the command field, used to acknowledge one-shot commands.
func (c *Client) SetCommand(ctx context.Context, id string, cmd Command) error {
	return c.patch(ctx, id, map[string]any{"command": cmd})
}

// Ping checks the table is reachable with the configured key.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("select", "id").
		SetQueryParam("limit", "1").
		Get(c.path())
	return checkResponse(resp, err)
}

func (c *Client) patch(ctx context.Context, id string, fields map[string]any) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "return=minimal").
		SetBody(fields).
		Patch(c.path())
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("updating %s: %w", id, err)
	}
	return nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrStoreUnreachable, err)
	}
	if resp.IsError() {
		apiErr := perrors.NewAPIError("store", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
		if resp.StatusCode() >= 500 {
			apiErr.Err = perrors.ErrStoreUnreachable
		}
		return apiErr
	}
	return nil
}
