// Package roomapi looks up room metadata from the room directory HTTP API.
package roomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studyroom/internal/room"
)

var (
	ErrNotFound     = errors.New("room not found")
	ErrUnauthorized = errors.New("unauthorized")
)

var httpTimeout = 5 * time.Second

// Lookup resolves a room id to its metadata.
type Lookup interface {
	Room(ctx context.Context, roomID string) (room.Info, error)
}

// Client talks to the directory endpoints: GET /rooms/{id}, GET /rooms and
// POST /rooms.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: httpTimeout},
	}
}

func (c *Client) Room(ctx context.Context, roomID string) (room.Info, error) {
	var info room.Info
	err := c.doJSON(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, &info)
	return info, err
}

func (c *Client) Rooms(ctx context.Context) ([]room.Info, error) {
	var resp struct {
		Rooms []room.Info `json:"rooms"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *Client) CreateRoom(ctx context.Context, info room.Info) (room.Info, error) {
	var created room.Info
	err := c.doJSON(ctx, http.MethodPost, "/rooms", info, &created)
	return created, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpTimeout}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}
