package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/connector"
	"github.com/ceyewan/bulwark/notify"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/xerrors"
)

type handlers struct {
	engine     Engine
	dispatcher Dispatcher
	streamer   Streamer
	checks     []connector.Connector
	heartbeat  time.Duration
	logger     clog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func refresh(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("refresh"))
	return v
}

// validateIdentifier GET /v1/identifiers/:subject?refresh=true
func (h *handlers) validateIdentifier(c *gin.Context) {
	env, err := h.engine.ValidateIdentifier(c.Request.Context(), c.Param("subject"), refresh(c))
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

// analyzeRisk GET /v1/risk/:subject?refresh=true
func (h *handlers) analyzeRisk(c *gin.Context) {
	env, err := h.engine.AnalyzeRisk(c.Request.Context(), c.Param("subject"), refresh(c))
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

func capabilityParam(c *gin.Context) (provider.Capability, bool) {
	capability, ok := provider.ParseCapability(c.Param("capability"))
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown capability " + strconv.Quote(c.Param("capability"))})
	}
	return capability, ok
}

// invalidate DELETE /v1/cache/:capability/:subject
func (h *handlers) invalidate(c *gin.Context) {
	capability, ok := capabilityParam(c)
	if !ok {
		return
	}
	if err := h.engine.Invalidate(c.Request.Context(), capability, c.Param("subject")); err != nil {
		badRequest(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// invalidateCapability DELETE /v1/cache/:capability
func (h *handlers) invalidateCapability(c *gin.Context) {
	capability, ok := capabilityParam(c)
	if !ok {
		return
	}
	n, err := h.engine.InvalidateCapability(c.Request.Context(), capability)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// breakers GET /v1/breakers
func (h *handlers) breakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": h.engine.Breakers()})
}

// providers GET /v1/providers
func (h *handlers) providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.engine.Status(c.Request.Context())})
}

type dispatchRequest struct {
	Recipient    *notify.Recipient    `json:"recipient" binding:"required"`
	Notification *notify.Notification `json:"notification" binding:"required"`
}

// dispatch POST /v1/notifications
func (h *handlers) dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	report, err := h.dispatcher.Dispatch(c.Request.Context(), req.Recipient, req.Notification)
	if err != nil {
		if xerrors.Is(err, notify.ErrInvalidRecipient) || xerrors.Is(err, notify.ErrInvalidNotification) {
			badRequest(c, err)
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "dispatch failed", clog.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "dispatch failed"})
		return
	}
	c.JSON(http.StatusAccepted, report)
}

// deliveries GET /v1/notifications/:id
func (h *handlers) deliveries(c *gin.Context) {
	id := c.Param("id")
	list, err := h.dispatcher.Deliveries(c.Request.Context(), id)
	switch {
	case xerrors.Is(err, notify.ErrDeliveryNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "notification not found"})
	case err != nil:
		h.logger.ErrorContext(c.Request.Context(), "list deliveries failed", clog.String("notification_id", id), clog.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "list deliveries failed"})
	default:
		c.JSON(http.StatusOK, notify.Report{NotificationID: id, Deliveries: list})
	}
}

// stream GET /v1/notifications/stream/:recipient，以 SSE 推送 realtime 通知
func (h *handlers) stream(c *gin.Context) {
	recipient := c.Param("recipient")
	ch, cancel, err := h.streamer.Subscribe(recipient)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"recipient": recipient})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("notification", n)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

// health GET /healthz，任一连接器不健康时返回 503
func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for _, conn := range h.checks {
		if err := conn.HealthCheck(ctx); err != nil {
			checks[conn.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[conn.Name()] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
