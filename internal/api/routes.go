package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts *ServerOpts) {
	router.GET("/healthz", handleHealth(opts))

	// Webhooks.
	if opts.Channel != nil {
		router.POST("/webhooks/channel", handleChannelWebhook(opts))
	}
	if opts.Operators != nil {
		router.POST("/webhooks/crm", handleCRMWebhook(opts))
	}

	// Knowledge base.
	if opts.Indexer != nil {
		router.POST("/knowledge/index", handleIndex(opts))
	}
	if opts.Retriever != nil {
		router.GET("/knowledge/search", handleSearch(opts))
	}

	// Handoff.
	if opts.Policy != nil {
		router.GET("/handoff/rules", handleGetRules(opts))
		router.PUT("/handoff/rules", handlePutRules(opts))
	}
	if opts.Cases != nil {
		router.GET("/handoff/cases", handleListCases(opts))
		router.POST("/handoff/cases/:id/assign", handleAssignCase(opts))
		router.POST("/handoff/cases/:id/resolve", handleResolveCase(opts))
	}

	// Tenant credentials.
	if opts.Vault != nil {
		tenants := router.Group("/tenants", requireAdmin(opts.AdminToken))
		tenants.PUT("/:id/credential", handlePutCredential(opts))
		tenants.DELETE("/:id/credential", handleDeleteCredential(opts))
	}
}

func handleHealth(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if opts.Gate != nil {
			st := opts.Gate.Stats()
			body["duplicates_absorbed"] = st.DuplicatesAbsorbed
			body["sends_suppressed"] = st.SendsSuppressed
		}
		c.JSON(http.StatusOK, body)
	}
}

// requestLogger logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("api: request")
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}
