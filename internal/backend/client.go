// Package backend is the HTTP client for the events API: it resolves event
// metadata, reports authoritative start/end timestamps, and announces when an
// event's attendance totals are ready for evaluation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rollcall/internal/attendance"
	"rollcall/pkg/retrylimit"
)

const maxRequestAttempts = 3

type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *retrylimit.AdaptiveLimiter
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5),
	}
}

var _ attendance.Backend = (*Client)(nil)

// EventMetadata resolves the guild and voice channel an event is bound to.
func (c *Client) EventMetadata(ctx context.Context, eventID string) (attendance.EventMetadata, error) {
	var out struct {
		GuildID        string `json:"guild_id"`
		VoiceChannelID string `json:"voice_channel_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/events/"+url.PathEscape(eventID), nil, &out); err != nil {
		return attendance.EventMetadata{}, fmt.Errorf("event metadata %s: %w", eventID, err)
	}
	if out.VoiceChannelID == "" {
		return attendance.EventMetadata{}, fmt.Errorf("event %s has no voice channel", eventID)
	}
	return attendance.EventMetadata{
		GuildID:        out.GuildID,
		VoiceChannelID: out.VoiceChannelID,
	}, nil
}

// NotifyFinalized tells the backend the event's totals are ready.
func (c *Client) NotifyFinalized(ctx context.Context, guildID, eventID string) error {
	payload := map[string]string{"guild_id": guildID}
	path := "/v1/events/" + url.PathEscape(eventID) + "/attendance/finalized"
	if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("notify finalized %s: %w", eventID, err)
	}
	return nil
}

// RecordStart reports the authoritative start time for an event the backend
// did not timestamp itself.
func (c *Client) RecordStart(ctx context.Context, eventID string, startedAt int64) error {
	payload := map[string]int64{"started_at": startedAt}
	if err := c.do(ctx, http.MethodPatch, "/v1/events/"+url.PathEscape(eventID), payload, nil); err != nil {
		return fmt.Errorf("record start %s: %w", eventID, err)
	}
	return nil
}

// RecordEnd reports the authoritative end time, same contract as RecordStart.
func (c *Client) RecordEnd(ctx context.Context, eventID string, endedAt int64) error {
	payload := map[string]int64{"ended_at": endedAt}
	if err := c.do(ctx, http.MethodPatch, "/v1/events/"+url.PathEscape(eventID), payload, nil); err != nil {
		return fmt.Errorf("record end %s: %w", eventID, err)
	}
	return nil
}

// do performs one JSON request with bounded retries. 5xx and 429 responses
// are retried against the adaptive limiter; other failures surface directly.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = data
	}

	cfg := retrylimit.DefaultRetryConfig()
	cfg.MaxAttempts = maxRequestAttempts
	cfg.InitialDelay = 250 * time.Millisecond
	cfg.Quiet = true

	return retrylimit.WithRetryConfig(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return retrylimit.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &statusError{code: resp.StatusCode, body: truncate(respBody)}
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return retrylimit.Fatal(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}, c.limiter, cfg)
}

// statusError carries the HTTP status so the retry classifier can tell
// transient server failures from permanent client ones.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("backend http %d", e.code)
	}
	return fmt.Sprintf("backend http %d: %s", e.code, e.body)
}

func (e *statusError) StatusCode() int { return e.code }

func truncate(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
