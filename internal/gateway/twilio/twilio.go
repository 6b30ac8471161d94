// Package twilio sends WhatsApp messages through the Twilio Messages API.
package twilio

import (
	"context"
	"fmt"
	"strings"

	twiliogo "github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator abstracts the Twilio API method we use, enabling test mocks.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	AccountSID string
	AuthToken  string
	From       string // WhatsApp sender, with or without the whatsapp: prefix
	// For testing: inject a mock instead of the real Twilio API.
	API messageCreator
}

// Client delivers WhatsApp messages via Twilio.
type Client struct {
	api  messageCreator
	from string
}

// New creates a Twilio Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.From == "" {
		return nil, fmt.Errorf("twilio: from number is required")
	}
	api := opts.API
	if api == nil {
		if opts.AccountSID == "" || opts.AuthToken == "" {
			return nil, fmt.Errorf("twilio: account SID and auth token are required")
		}
		rest := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
			Username: opts.AccountSID,
			Password: opts.AuthToken,
		})
		api = rest.Api
	}
	return &Client{api: api, from: whatsapp(opts.From)}, nil
}

// Send delivers text to the WhatsApp number to. The Twilio SDK takes no
// context, so the call is abandoned (not cancelled) when ctx ends.
func (c *Client) Send(ctx context.Context, to, text string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(c.from)
	params.SetTo(whatsapp(to))
	params.SetBody(text)

	type result struct {
		msg *twilioApi.ApiV2010Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := c.api.CreateMessage(params)
		done <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("twilio: create message: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("twilio: create message: %w", r.err)
		}
		if r.msg != nil && r.msg.ErrorMessage != nil && *r.msg.ErrorMessage != "" {
			return fmt.Errorf("twilio: create message: %s", *r.msg.ErrorMessage)
		}
		return nil
	}
}

func whatsapp(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
