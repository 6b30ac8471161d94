package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/signalbox/internal/automation"
	"github.com/zulandar/signalbox/internal/gateway"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(
		&models.Contact{},
		&models.Automation{},
		&models.Message{},
		&models.QueuedMessage{},
		&models.AutomationMetrics{},
		&models.MessageTemplate{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type testServer struct {
	db     *gorm.DB
	gw     *gateway.Recorder
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{db: testDB(t), gw: gateway.NewRecorder()}
	log, _ := test.NewNullLogger()
	clock := func() time.Time { return t0 }
	engine, err := automation.NewEngine(automation.EngineOpts{DB: s.db, Gateway: s.gw, Clock: clock, Logger: log})
	require.NoError(t, err)
	router, err := NewRouter(StartOpts{DB: s.db, Engine: engine, Logger: log, Clock: clock})
	require.NoError(t, err)
	s.router = router
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

const keywordAutomation = `{
	"user_id": 1,
	"name": "preço",
	"trigger_type": "keyword",
	"trigger_config": {"keywords": ["preço"]},
	"actions": [{"type": "send_message", "message": "Olá {{name}}"}]
}`

func TestNewRouter_Validation(t *testing.T) {
	_, err := NewRouter(StartOpts{})
	assert.EqualError(t, err, "server: db is required")
	_, err = NewRouter(StartOpts{DB: testDB(t)})
	assert.EqualError(t, err, "server: engine is required")
}

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db is required")
}

func TestHealthz_RequestID(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestInbound_ProcessesKeyword(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/automations", keywordAutomation)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/webhooks/inbound", `{"user_id":1,"phone":"5511","message":"Qual o PREÇO?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["processed"])

	require.Len(t, s.gw.Sent(), 1)
	assert.Equal(t, "Olá Cliente", s.gw.Sent()[0].Text)
}

func TestInbound_BadPayload(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/webhooks/inbound", `{"phone":"5511"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestZAPIInbound(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/automations", keywordAutomation).Code)

	w := s.do(t, http.MethodPost, "/webhooks/zapi/1", `{"phone":"5511","fromMe":true,"text":{"message":"preço"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ignored"])
	assert.Empty(t, s.gw.Sent())

	w = s.do(t, http.MethodPost, "/webhooks/zapi/1", `{"phone":"5511","fromMe":false,"text":{"message":"preço"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["processed"])
	require.Len(t, s.gw.Sent(), 1)
	assert.Equal(t, "whatsapp", s.gw.Sent()[0].Platform)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/webhooks/zapi/abc", `{}`).Code)
}

func TestFireEvent(t *testing.T) {
	s := newTestServer(t)
	body := `{"user_id":1,"name":"compra","trigger_type":"webhook","trigger_config":{"event":"purchase"},
		"actions":[{"type":"send_message","message":"Obrigado!"}]}`
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/automations", body).Code)

	w := s.do(t, http.MethodPost, "/webhooks/events/1/purchase", `{"phone":"5511"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["fired"])
	require.Len(t, s.gw.Sent(), 1)
}

func TestCreateAutomation_Invalid(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no keywords", `{"user_id":1,"name":"x","trigger_type":"keyword","trigger_config":{"keywords":[]},"actions":[]}`, "keywords"},
		{"unknown trigger", `{"user_id":1,"name":"x","trigger_type":"sms","trigger_config":{}}`, "unknown trigger_type"},
		{"bad action", `{"user_id":1,"name":"x","trigger_type":"keyword","trigger_config":{"keywords":["a"]},"actions":[{"type":"delay"}]}`, "actions[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/automations", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode(t, w)["error"], tt.want)
		})
	}
}

func TestUpdateAndToggleAutomation(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/automations", keywordAutomation)
	require.Equal(t, http.StatusCreated, w.Code)
	id := int(decode(t, w)["id"].(float64))
	path := "/api/automations/" + strconv.Itoa(id)

	updated := strings.Replace(keywordAutomation, `"name": "preço"`, `"name": "valores"`, 1)
	w = s.do(t, http.MethodPut, path, updated)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "valores", decode(t, w)["name"])

	w = s.do(t, http.MethodPatch, path+"/active", `{"is_active":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["is_active"])

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/automations/999", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/api/automations/999", keywordAutomation).Code)
}

func TestAnalytics(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/automations", keywordAutomation)
	require.Equal(t, http.StatusCreated, w.Code)
	id := int(decode(t, w)["id"].(float64))
	require.NoError(t, metrics.IncrementTriggers(s.db, uint(id), t0))
	require.NoError(t, metrics.IncrementMessagesSent(s.db, uint(id), t0))

	w = s.do(t, http.MethodGet, "/api/automations/"+strconv.Itoa(id)+"/analytics?from=2026-06-01&to=2026-06-30", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total_triggers"])
	assert.Equal(t, float64(1), body["total_messages"])
	assert.Len(t, body["daily_metrics"], 1)

	w = s.do(t, http.MethodGet, "/api/automations/"+strconv.Itoa(id)+"/analytics?from=june", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/automations/999/analytics", "").Code)
}

func TestContactsAndHistory(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.db.Create(&models.Contact{UserID: 1, Phone: "1", Name: "Ana", Tags: []string{"vip"}}).Error)
	require.NoError(t, s.db.Create(&models.Contact{UserID: 1, Phone: "2", Name: "Bruno"}).Error)

	w := s.do(t, http.MethodGet, "/api/contacts?user_id=1&tags=vip", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/contacts", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/contacts?user_id=1&days=x", "").Code)

	w = s.do(t, http.MethodPost, "/webhooks/inbound", `{"user_id":1,"phone":"2","message":"oi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/contacts/2/messages?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["messages"], 1)
}

func TestQueueStatsAndMetrics(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/queue/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	for _, status := range []string{"pending", "processing", "sent", "failed"} {
		assert.Equal(t, float64(0), body[status], status)
	}

	w = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("signalbox_queue_rows")), "queue gauge exported")
}
