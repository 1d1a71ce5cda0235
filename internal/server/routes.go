package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/simbridge/internal/auth"
	"github.com/danmuck/simbridge/internal/bridge"
	"github.com/danmuck/simbridge/internal/protocol/schema"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

type callbackRequest struct {
	Calls []schema.APICallback `json:"calls"`
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(a.appeared).String(),
			"component": Component,
			"version":   version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ready means frames are flowing
	a.router.GET("/ready", func(c *gin.Context) {
		state := a.bridge.State()
		status := http.StatusOK
		if state != bridge.StateStreaming {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":     state == bridge.StateStreaming,
			"state":     state.String(),
			"uptime":    time.Since(a.appeared).String(),
			"component": Component,
			"version":   version,
		})
	})

	a.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.bridge.Status())
	})

	a.router.GET("/bindings", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.bridge.Bindings())
	})

	a.router.GET("/scene", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"objects": a.scene.Snapshot(a.catalog)})
	})

	a.router.POST("/callbacks/:simulation", auth.Require(a.token), func(c *gin.Context) {
		simulation := strings.TrimSpace(c.Param("simulation"))
		var req callbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(req.Calls) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "calls required"})
			return
		}
		if err := a.bridge.QueueAPICallbacks(simulation, req.Calls...); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, bridge.ErrCallbacksDisabled) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "simulation": simulation, "calls": len(req.Calls)})
	})

	a.router.GET("/callbacks/responses", func(c *gin.Context) {
		responses := a.bridge.APICallbackResponses()
		if responses == nil {
			responses = schema.APICallbacks{}
		}
		c.JSON(http.StatusOK, gin.H{"responses": responses})
	})
}
