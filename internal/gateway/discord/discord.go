// Package discord posts messages to Discord channels over the REST API.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// session abstracts the discordgo methods we use, enabling test mocks.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// SenderOpts holds parameters for creating a Discord Sender.
type SenderOpts struct {
	BotToken string
	// For testing: inject a mock session instead of a real Discord client.
	Session session
}

// Sender posts plain-text messages; the recipient is a channel ID.
type Sender struct {
	sess session
}

// New creates a Discord Sender. No gateway connection is opened; sends use
// the REST endpoints only.
func New(opts SenderOpts) (*Sender, error) {
	if opts.Session != nil {
		return &Sender{sess: opts.Session}, nil
	}
	if opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	s, err := discordgo.New("Bot " + opts.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Sender{sess: s}, nil
}

// Send posts text to channelID.
func (s *Sender) Send(ctx context.Context, channelID, text string) error {
	if channelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}
	if _, err := s.sess.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}
