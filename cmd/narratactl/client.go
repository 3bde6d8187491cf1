package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/narrata/internal/catalog"
)

// client talks to the read-only JSON endpoints of a Narrata server.
type client struct {
	base     string
	user     string
	password string
	http     *http.Client
}

func newClient(g *globals) *client {
	return &client{
		base:     strings.TrimRight(g.Server, "/"),
		user:     g.User,
		password: g.Password,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// endpoint joins path onto the server base URL.
func (c *client) endpoint(path string) string { return c.base + path }

func (c *client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("GET %s: read body: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("GET %s: unauthorized, pass --user and --password", path)
	}
	if err := json.Unmarshal(body, v); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}

// provider fetches the summary of one provider.
func (c *client) provider(ctx context.Context, id string) (catalog.ProviderSummary, error) {
	var out struct {
		Providers []catalog.ProviderSummary `json:"providers"`
	}
	if err := c.getJSON(ctx, "/api/providers", &out); err != nil {
		return catalog.ProviderSummary{}, err
	}
	for _, p := range out.Providers {
		if p.ID == id {
			return p, nil
		}
	}
	return catalog.ProviderSummary{}, fmt.Errorf("Unsupported provider: %s", id)
}

// voices fetches the voice catalogue of one provider. A listing with
// success=false is returned without error so callers can show its message.
func (c *client) voices(ctx context.Context, id string) (catalog.Listing, error) {
	var l catalog.Listing
	err := c.getJSON(ctx, "/api/providers/"+url.PathEscape(id)+"/voices", &l)
	return l, err
}
