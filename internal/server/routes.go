package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/signalbox/internal/automation"
	"github.com/zulandar/signalbox/internal/contact"
	"github.com/zulandar/signalbox/internal/messaging"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/queue"
	"gorm.io/gorm"
)

type handlers struct {
	db     *gorm.DB
	engine *automation.Engine
	log    logrus.FieldLogger
	clock  func() time.Time
}

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Inbound traffic.
	router.POST("/webhooks/inbound", h.inbound)
	router.POST("/webhooks/zapi/:user_id", h.zapiInbound)
	router.POST("/webhooks/events/:user_id/:event", h.fireEvent)

	api := router.Group("/api")
	api.POST("/automations", h.createAutomation)
	api.GET("/automations/:id", h.getAutomation)
	api.PUT("/automations/:id", h.updateAutomation)
	api.PATCH("/automations/:id/active", h.setActive)
	api.GET("/automations/:id/analytics", h.analytics)
	api.GET("/contacts", h.segment)
	api.GET("/contacts/:id/messages", h.history)
	api.GET("/queue/stats", h.queueStats)
}

func (h *handlers) health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type inboundRequest struct {
	UserID   uint   `json:"user_id" binding:"required"`
	Phone    string `json:"phone" binding:"required"`
	Message  string `json:"message"`
	Platform string `json:"platform"`
}

// inbound feeds one message into the engine. Processing failures are
// logged and surface only as processed=false.
func (h *handlers) inbound(c *gin.Context) {
	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": h.process(c, req)})
}

func (h *handlers) process(c *gin.Context, req inboundRequest) bool {
	err := h.engine.ProcessIncomingMessage(c.Request.Context(), req.UserID, req.Phone, req.Message, req.Platform)
	if err != nil {
		h.reqLog(c).WithError(err).WithField("user_id", req.UserID).Error("inbound message not processed")
		return false
	}
	return true
}

// zapiCallback is the subset of the Z-API ReceivedCallback payload we read.
type zapiCallback struct {
	Phone  string `json:"phone"`
	FromMe bool   `json:"fromMe"`
	Text   struct {
		Message string `json:"message"`
	} `json:"text"`
}

func (h *handlers) zapiInbound(c *gin.Context) {
	userID, ok := uintParam(c, "user_id")
	if !ok {
		return
	}
	var cb zapiCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cb.FromMe || cb.Phone == "" {
		c.JSON(http.StatusOK, gin.H{"processed": false, "ignored": true})
		return
	}
	req := inboundRequest{UserID: userID, Phone: cb.Phone, Message: cb.Text.Message, Platform: "whatsapp"}
	c.JSON(http.StatusOK, gin.H{"processed": h.process(c, req)})
}

type eventRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Platform string `json:"platform"`
}

func (h *handlers) fireEvent(c *gin.Context) {
	userID, ok := uintParam(c, "user_id")
	if !ok {
		return
	}
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := h.engine.FireWebhook(c.Request.Context(), userID, c.Param("event"), req.Phone, req.Platform)
	if err != nil {
		h.reqLog(c).WithError(err).Error("webhook event not processed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event not processed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fired": n})
}

// automationRequest is the write shape of an automation. trigger_config
// uses the flat per-kind form, e.g. {"keywords": ["preço"]}.
type automationRequest struct {
	UserID        uint            `json:"user_id" binding:"required"`
	Name          string          `json:"name"`
	TriggerType   string          `json:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config"`
	Actions       []models.Action `json:"actions"`
	IsActive      *bool           `json:"is_active"`
}

func (r automationRequest) toModel() (*models.Automation, error) {
	cfg, err := models.DecodeTriggerConfig(models.TriggerType(r.TriggerType), r.TriggerConfig)
	if err != nil {
		return nil, err
	}
	a := &models.Automation{
		UserID:      r.UserID,
		Name:        r.Name,
		TriggerType: models.TriggerType(r.TriggerType),
		Actions:     r.Actions,
		IsActive:    true,
	}
	if r.IsActive != nil {
		a.IsActive = *r.IsActive
	}
	a.SetTrigger(cfg)
	return a, nil
}

func (h *handlers) createAutomation(c *gin.Context) {
	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := req.toModel()
	if err == nil {
		err = automation.Create(h.db.WithContext(c.Request.Context()), a)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *handlers) getAutomation(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	a, err := automation.Get(h.db.WithContext(c.Request.Context()), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *handlers) updateAutomation(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := req.toModel()
	if err == nil {
		a.ID = id
		err = automation.Update(h.db.WithContext(c.Request.Context()), a)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *handlers) setActive(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := automation.SetActive(h.db.WithContext(c.Request.Context()), id, *req.IsActive); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_active": *req.IsActive})
}

func (h *handlers) analytics(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())
	if _, err := automation.Get(db, id); err != nil {
		h.writeError(c, err)
		return
	}
	report, err := metrics.Analytics(db, id, c.Query("from"), c.Query("to"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handlers) segment(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 64)
	if err != nil || userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}
	f := contact.SegmentFilter{NameContains: c.Query("name")}
	if tags := c.Query("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Tags = append(f.Tags, t)
			}
		}
	}
	if days := c.Query("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
			return
		}
		f.LastInteractionDays = n
	}
	contacts, err := contact.Segment(h.db.WithContext(c.Request.Context()), uint(userID), f, h.clock())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts, "count": len(contacts)})
}

func (h *handlers) history(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	msgs, err := messaging.History(h.db.WithContext(c.Request.Context()), id, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *handlers) queueStats(c *gin.Context) {
	stats, err := queue.Stats(h.db.WithContext(c.Request.Context()))
	if err != nil {
		h.writeError(c, err)
		return
	}
	metrics.SetQueueDepth(stats)
	c.JSON(http.StatusOK, stats)
}

// writeError maps domain errors onto status codes.
func (h *handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidAutomation), errors.Is(err, metrics.ErrBadDate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrNotFound), errors.Is(err, contact.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		h.reqLog(c).WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}
