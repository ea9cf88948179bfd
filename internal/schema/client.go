package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is an HTTP client for one metadata service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetItemByDefindex handles GET /items/defindex/{defindex}.
func (c *Client) GetItemByDefindex(ctx context.Context, defindex int) (*Item, error) {
	var item Item
	if err := c.get(ctx, fmt.Sprintf("/items/defindex/%d", defindex), &item); err != nil {
		return nil, fmt.Errorf("item %d: %w", defindex, err)
	}
	return &item, nil
}

// GetQualityByID handles GET /qualities/id/{id}.
func (c *Client) GetQualityByID(ctx context.Context, id int) (*Quality, error) {
	var quality Quality
	if err := c.get(ctx, fmt.Sprintf("/qualities/id/%d", id), &quality); err != nil {
		return nil, fmt.Errorf("quality %d: %w", id, err)
	}
	return &quality, nil
}

// GetEffectByID handles GET /effects/id/{id}.
func (c *Client) GetEffectByID(ctx context.Context, id int) (*Effect, error) {
	var effect Effect
	if err := c.get(ctx, fmt.Sprintf("/effects/id/%d", id), &effect); err != nil {
		return nil, fmt.Errorf("effect %d: %w", id, err)
	}
	return &effect, nil
}

// GetSkinByID handles GET /skins/id/{id}.
func (c *Client) GetSkinByID(ctx context.Context, id int) (*Skin, error) {
	var skin Skin
	if err := c.get(ctx, fmt.Sprintf("/skins/id/%d", id), &skin); err != nil {
		return nil, fmt.Errorf("skin %d: %w", id, err)
	}
	return &skin, nil
}

// Ping checks that the service answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

var (
	_ ItemLookup = (*Client)(nil)
	_ SkinLookup = (*Client)(nil)
)
