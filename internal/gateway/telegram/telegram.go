// Package telegram sends messages through the Telegram Bot API.
package telegram

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
	APIURL     string // defaults to https://api.telegram.org
	BotToken   string
	HTTPClient *http.Client
}

// Client calls sendMessage for a single bot.
type Client struct {
	apiURL string
	token  string
	http   *http.Client
}

// New creates a Telegram Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{apiURL: strings.TrimRight(apiURL, "/"), token: opts.BotToken, http: hc}, nil
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts text to the chat identified by to.
func (c *Client) Send(ctx context.Context, to, text string) error {
	if to == "" {
		return fmt.Errorf("telegram: chat ID is required")
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: to, Text: text})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendMessage: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}
	var out apiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("telegram: sendMessage status=%d: %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram: sendMessage %d: %s", out.ErrorCode, out.Description)
	}
	return nil
}
