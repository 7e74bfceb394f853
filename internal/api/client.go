// Package api is the snapshot loader: a thin HTTP client for the one-shot
// room and chat-history fetch performed on room entry.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/units61/MatchTalkV2-sub000/internal/room"
)

// ErrRoomNotFound is returned when the room no longer exists (or was
// closed before the snapshot arrived). Fatal to the session.
var ErrRoomNotFound = errors.New("room not found")

// Client fetches room snapshots over HTTP.
type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewClient creates a snapshot client for the given API base URL.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetTimeout overrides the request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return ErrRoomNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetRoom fetches the point-in-time room state including the participant
// list.
func (c *Client) GetRoom(ctx context.Context, roomID string) (room.Session, error) {
	var s room.Session
	if err := c.get(ctx, "/rooms/"+roomID, &s); err != nil {
		return room.Session{}, err
	}
	return s, nil
}

// GetRoomMessages fetches the room's chat history.
func (c *Client) GetRoomMessages(ctx context.Context, roomID string) ([]room.ChatMessage, error) {
	var msgs []room.ChatMessage
	if err := c.get(ctx, "/rooms/"+roomID+"/messages", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
