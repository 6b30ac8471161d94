package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu       sync.Mutex
	channels []string
	errs     []error // returned in order, then nil
}

func (m *mockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channelID)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", "", err
	}
	return channelID, "1234567890.123456", nil
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(SenderOpts{})
	assert.EqualError(t, err, "slack: bot token is required")
}

func TestSend(t *testing.T) {
	client := &mockSlackClient{}
	s, err := New(SenderOpts{Client: client})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "C01", "olá"))
	assert.Equal(t, []string{"C01"}, client.channels)
}

func TestSend_NoChannel(t *testing.T) {
	s, err := New(SenderOpts{Client: &mockSlackClient{}})
	require.NoError(t, err)
	assert.EqualError(t, s.Send(context.Background(), "", "x"), "slack: no channel specified")
}

func TestSend_RetriesRateLimit(t *testing.T) {
	client := &mockSlackClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	s, err := New(SenderOpts{Client: client})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "C01", "x"))
	assert.Len(t, client.channels, 2)
}

func TestSend_NonRateLimitErrorNotRetried(t *testing.T) {
	boom := errors.New("channel_not_found")
	client := &mockSlackClient{errs: []error{boom}}
	s, err := New(SenderOpts{Client: client})
	require.NoError(t, err)

	err = s.Send(context.Background(), "C01", "x")
	assert.True(t, errors.Is(err, boom))
	assert.Len(t, client.channels, 1)
}

func TestSend_RateLimitRespectsContext(t *testing.T) {
	client := &mockSlackClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Minute}}}
	s, err := New(SenderOpts{Client: client})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Send(ctx, "C01", "x")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
