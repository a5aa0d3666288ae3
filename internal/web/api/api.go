// Package api is the HTTP surface of the installation: the capture frontend
// drives sessions through it, visitors fetch finished videos from it.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ivlev/shadowplay/internal/engine"
	"github.com/ivlev/shadowplay/internal/logger"
)

type Handler struct {
	engine        *engine.Engine
	outputsDir    string
	publicBaseURL string
	log           *logger.Logger
}

func NewHandler(eng *engine.Engine, outputsDir, publicBaseURL string, log *logger.Logger) *Handler {
	return &Handler{
		engine:        eng,
		outputsDir:    outputsDir,
		publicBaseURL: publicBaseURL,
		log:           log,
	}
}

// NewRouter builds the gin engine with every route attached. Finished videos
// and QR sidecars are served statically under /files.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog())

	api := r.Group("/api")
	{
		api.POST("/sessions", h.createSession)
		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/:id", h.getSession)
		api.POST("/sessions/:id/segments/:index", h.uploadSegment)
		api.POST("/sessions/:id/render", h.startRender)
		api.POST("/sessions/:id/cancel", h.cancelSession)
		api.DELETE("/sessions/:id", h.deleteSession)
		api.GET("/scenes", h.listScenes)
	}

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static("/files", h.outputsDir)
	return r
}

func (h *Handler) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took_ms", time.Since(start).Milliseconds(),
		)
	}
}
