package twilio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type mockAPI struct {
	mu     sync.Mutex
	params []*twilioApi.CreateMessageParams
	resp   *twilioApi.ApiV2010Message
	err    error
	delay  time.Duration
}

func (m *mockAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	if m.resp != nil {
		return m.resp, nil
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(ClientOpts{AccountSID: "AC", AuthToken: "t"})
	assert.EqualError(t, err, "twilio: from number is required")
	_, err = New(ClientOpts{From: "+1555"})
	assert.EqualError(t, err, "twilio: account SID and auth token are required")
}

func TestSend_SetsWhatsAppAddresses(t *testing.T) {
	api := &mockAPI{}
	c, err := New(ClientOpts{From: "+15550001111", API: api})
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "+5511999990000", "Olá"))
	require.Len(t, api.params, 1)
	p := api.params[0]
	assert.Equal(t, "whatsapp:+15550001111", *p.From)
	assert.Equal(t, "whatsapp:+5511999990000", *p.To)
	assert.Equal(t, "Olá", *p.Body)
}

func TestSend_KeepsExistingPrefix(t *testing.T) {
	api := &mockAPI{}
	c, err := New(ClientOpts{From: "whatsapp:+1555", API: api})
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), "whatsapp:+55", "x"))
	assert.Equal(t, "whatsapp:+1555", *api.params[0].From)
	assert.Equal(t, "whatsapp:+55", *api.params[0].To)
}

func TestSend_APIError(t *testing.T) {
	boom := errors.New("unauthorized")
	c, err := New(ClientOpts{From: "+1", API: &mockAPI{err: boom}})
	require.NoError(t, err)
	err = c.Send(context.Background(), "+2", "x")
	assert.True(t, errors.Is(err, boom))
}

func TestSend_ErrorMessageInResponse(t *testing.T) {
	msg := "number is not a WhatsApp user"
	c, err := New(ClientOpts{From: "+1", API: &mockAPI{resp: &twilioApi.ApiV2010Message{ErrorMessage: &msg}}})
	require.NoError(t, err)
	assert.EqualError(t, c.Send(context.Background(), "+2", "x"), "twilio: create message: number is not a WhatsApp user")
}

func TestSend_ContextDeadline(t *testing.T) {
	c, err := New(ClientOpts{From: "+1", API: &mockAPI{delay: time.Second}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.Send(ctx, "+2", "x")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
