package main

import (
	"net/http"

	"dialer-engine/internal/callback"
	"dialer-engine/internal/dialer"
	"dialer-engine/internal/webhook"

	"github.com/gin-gonic/gin"
)

func registerRoutes(r *gin.Engine, store *dialer.PostgresStore, signer *callback.Signer) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := webhook.Handler{Events: store, Requests: store, Signer: signer}

	ev := r.Group("/events")
	{
		ev.POST("/answer", h.HandleAnswer)
		ev.POST("/answer/survey", h.HandleAnswer)
		ev.POST("/hangup", h.HandleHangup)
	}
}
