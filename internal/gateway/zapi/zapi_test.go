package zapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(ClientOpts{InstanceID: "i", Token: "t"})
	assert.EqualError(t, err, "zapi: base URL is required")
	_, err = New(ClientOpts{BaseURL: "http://x", Token: "t"})
	assert.EqualError(t, err, "zapi: instance ID is required")
	_, err = New(ClientOpts{BaseURL: "http://x", InstanceID: "i"})
	assert.EqualError(t, err, "zapi: token is required")
}

func TestSend_PostsSendText(t *testing.T) {
	var gotPath, gotToken string
	var gotBody sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("Client-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"zaapId":"z1","messageId":"m1"}`))
	}))
	defer srv.Close()

	c, err := New(ClientOpts{BaseURL: srv.URL + "/", InstanceID: "inst", Token: "tok", ClientToken: "sec"})
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "+55 (11) 99999-0000", "Olá"))
	assert.Equal(t, "/instances/inst/token/tok/send-text", gotPath)
	assert.Equal(t, "sec", gotToken)
	assert.Equal(t, "5511999990000", gotBody.Phone)
	assert.Equal(t, "Olá", gotBody.Message)
}

func TestSend_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"instance not connected"}`))
	}))
	defer srv.Close()

	c, err := New(ClientOpts{BaseURL: srv.URL, InstanceID: "i", Token: "t"})
	require.NoError(t, err)
	err = c.Send(context.Background(), "1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
	assert.Contains(t, err.Error(), "instance not connected")
}

func TestSend_ErrorInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"phone not registered"}`))
	}))
	defer srv.Close()

	c, err := New(ClientOpts{BaseURL: srv.URL, InstanceID: "i", Token: "t"})
	require.NoError(t, err)
	assert.EqualError(t, c.Send(context.Background(), "1", "x"), "zapi: send-text: phone not registered")
}
