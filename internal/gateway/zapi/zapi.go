// Package zapi sends WhatsApp messages through a Z-API instance.
package zapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL     string // e.g. https://api.z-api.io
	InstanceID  string
	Token       string
	ClientToken string // optional account security token
	HTTPClient  *http.Client
}

// Client posts text messages to the Z-API send-text endpoint.
type Client struct {
	baseURL     string
	instanceID  string
	token       string
	clientToken string
	http        *http.Client
}

// New creates a Z-API Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("zapi: base URL is required")
	}
	if opts.InstanceID == "" {
		return nil, fmt.Errorf("zapi: instance ID is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("zapi: token is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		instanceID:  opts.InstanceID,
		token:       opts.Token,
		clientToken: opts.ClientToken,
		http:        hc,
	}, nil
}

type sendTextRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendTextResponse struct {
	ZaapID    string `json:"zaapId"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Send delivers text to the WhatsApp number to (digits only, with country
// code).
func (c *Client) Send(ctx context.Context, to, text string) error {
	body, err := json.Marshal(sendTextRequest{Phone: normalizePhone(to), Message: text})
	if err != nil {
		return fmt.Errorf("zapi: marshal: %w", err)
	}
	url := fmt.Sprintf("%s/instances/%s/token/%s/send-text", c.baseURL, c.instanceID, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("zapi: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.clientToken != "" {
		req.Header.Set("Client-Token", c.clientToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("zapi: send-text: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("zapi: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("zapi: send-text status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var out sendTextResponse
	if err := json.Unmarshal(respBody, &out); err == nil && out.Error != "" {
		return fmt.Errorf("zapi: send-text: %s", out.Error)
	}
	return nil
}

// normalizePhone strips everything but digits.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
