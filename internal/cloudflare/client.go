// Package cloudflare is a minimal DNS v4 API client used to point records at
// the deployment's public IP or tunnel.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ezbridge/bridge/internal/errdefs"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Client talks to the Cloudflare API for one zone.
type Client struct {
	apiToken string
	zoneID   string
	baseURL  string
	http     *http.Client
}

// NewClient builds a client for the given zone credentials.
func NewClient(apiToken, zoneID string) *Client {
	return &Client{
		apiToken: apiToken,
		zoneID:   zoneID,
		baseURL:  defaultBaseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint for testing.
func (c *Client) SetBaseURL(url string) { c.baseURL = url }

// Record is a DNS record as returned by the API.
type Record struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl"`
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", errdefs.ErrExternalService, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: cloudflare request: %v", errdefs.ErrExternalService, err)
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", errdefs.ErrExternalService, err)
	}
	if !envelope.Success {
		msg := "unknown error"
		if len(envelope.Errors) > 0 {
			msg = envelope.Errors[0].Message
		}
		return nil, fmt.Errorf("%w: cloudflare: %s", errdefs.ErrExternalService, msg)
	}
	return envelope.Result, nil
}

// VerifyToken checks that the API token is valid.
func (c *Client) VerifyToken(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodGet, "/user/tokens/verify", nil)
	return err
}

// GetRecordByName finds an A record with the exact name, or nil.
func (c *Client) GetRecordByName(ctx context.Context, name string) (*Record, error) {
	path := fmt.Sprintf("/zones/%s/dns_records?type=A&name=%s", c.zoneID, name)
	raw, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: decode records: %v", errdefs.ErrExternalService, err)
	}
	for i := range records {
		if records[i].Name == name {
			return &records[i], nil
		}
	}
	return nil, nil
}

// EnsureRecord creates or updates a proxied A record pointing name at ip.
// The record is left untouched when it already matches.
func (c *Client) EnsureRecord(ctx context.Context, name, ip string) error {
	existing, err := c.GetRecordByName(ctx, name)
	if err != nil {
		return err
	}

	record := Record{Type: "A", Name: name, Content: ip, Proxied: true, TTL: 1}

	if existing != nil {
		if existing.Content == ip && existing.Proxied {
			return nil
		}
		path := fmt.Sprintf("/zones/%s/dns_records/%s", c.zoneID, existing.ID)
		_, err = c.request(ctx, http.MethodPut, path, record)
		return err
	}

	path := fmt.Sprintf("/zones/%s/dns_records", c.zoneID)
	_, err = c.request(ctx, http.MethodPost, path, record)
	return err
}

// DeleteRecord removes the A record with the given name if it exists.
func (c *Client) DeleteRecord(ctx context.Context, name string) error {
	existing, err := c.GetRecordByName(ctx, name)
	if err != nil || existing == nil {
		return err
	}
	path := fmt.Sprintf("/zones/%s/dns_records/%s", c.zoneID, existing.ID)
	_, err = c.request(ctx, http.MethodDelete, path, nil)
	return err
}
