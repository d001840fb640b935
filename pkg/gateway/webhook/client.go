// Copyright 2024-2026 Aiku AI

// Package webhook talks to the application server that decides bot replies.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exhttp"
)

// ConversationState is the per-sender state held by the application server.
type ConversationState string

const (
	StateNormal          ConversationState = "NORMAL"
	StateHumanAttendance ConversationState = "HUMAN_ATTENDANCE"
)

// ErrUnreachable is returned when no response was received from the
// application server.
var ErrUnreachable = errors.New("webhook unreachable")

// maxErrorBody caps how much of a failed response body is kept for logging.
const maxErrorBody = 4096

// ResponseError is returned when the application server answered with a
// non-2xx status.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Notification is the body posted to the webhook URL.
type Notification struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type checkStateRequest struct {
	UserID string `json:"userId"`
}

type checkStateResponse struct {
	State ConversationState `json:"state"`
}

// Client posts inbound chat events to the application server.
type Client struct {
	HTTP     *http.Client
	URL      string
	StateURL string

	log zerolog.Logger
}

// NewClient creates a webhook client. When stateURL is empty the state
// endpoint is derived from webhookURL.
func NewClient(webhookURL, stateURL string, log zerolog.Logger) *Client {
	if stateURL == "" {
		stateURL = DeriveStateURL(webhookURL)
	}
	return &Client{
		HTTP:     exhttp.SensibleClientSettings.Compile(),
		URL:      webhookURL,
		StateURL: stateURL,
		log:      log.With().Str("component", "webhook").Logger(),
	}
}

// DeriveStateURL returns the check-state endpoint that lives next to the
// webhook endpoint: a trailing "/webhook" path segment is replaced by
// "/check-state".
func DeriveStateURL(webhookURL string) string {
	base := strings.TrimRight(webhookURL, "/")
	base = strings.TrimSuffix(base, "/webhook")
	return base + "/check-state"
}

// Notify forwards a message or command for userID.
func (c *Client) Notify(ctx context.Context, userID, message string) error {
	return c.post(ctx, c.URL, Notification{UserID: userID, Message: message}, nil)
}

// CheckState asks the application server which conversation state userID
// is in. The returned value is whatever the server sent, so callers must
// handle values outside the known set.
func (c *Client) CheckState(ctx context.Context, userID string) (ConversationState, error) {
	var resp checkStateResponse
	if err := c.post(ctx, c.StateURL, checkStateRequest{UserID: userID}, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ResponseError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	c.log.Trace().Str("url", url).Msg("Webhook request succeeded")
	return nil
}
