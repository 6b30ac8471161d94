package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSession struct {
	sent []string
	opts int
	err  error
}

func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.sent = append(m.sent, channelID+":"+content)
	m.opts = len(options)
	return &discordgo.Message{ID: "1", ChannelID: channelID, Content: content}, nil
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(SenderOpts{})
	assert.EqualError(t, err, "discord: bot token is required")
}

func TestNew_WithToken(t *testing.T) {
	s, err := New(SenderOpts{BotToken: "abc"})
	require.NoError(t, err)
	assert.NotNil(t, s.sess)
}

func TestSend(t *testing.T) {
	sess := &mockSession{}
	s, err := New(SenderOpts{Session: sess})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "123", "olá"))
	assert.Equal(t, []string{"123:olá"}, sess.sent)
	assert.Equal(t, 1, sess.opts, "context request option passed")
}

func TestSend_Errors(t *testing.T) {
	s, err := New(SenderOpts{Session: &mockSession{err: errors.New("403 Forbidden")}})
	require.NoError(t, err)

	assert.EqualError(t, s.Send(context.Background(), "", "x"), "discord: no channel specified")
	assert.EqualError(t, s.Send(context.Background(), "1", "x"), "discord: send message: 403 Forbidden")
}
