package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zulandar/switchyard/internal/channel"
	"github.com/zulandar/switchyard/internal/crm"
	"github.com/zulandar/switchyard/internal/gate"
)

// Webhook headers.
const (
	HeaderSignature = "X-Hub-Signature-256"
	HeaderSecret    = "X-Webhook-Secret"
)

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
}

// handleChannelWebhook verifies and normalizes a channel event, then hands
// it to the channel adapter. Processing happens asynchronously.
func handleChannelWebhook(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			fail(c, http.StatusBadRequest, "unreadable body")
			return
		}
		if opts.SigningSecret != "" && !gate.VerifySignature(body, c.GetHeader(HeaderSignature), opts.SigningSecret) {
			fail(c, http.StatusUnauthorized, "invalid signature")
			return
		}
		if !gate.VerifySharedSecret(c.GetHeader(HeaderSecret), opts.WebhookSecret) {
			fail(c, http.StatusForbidden, "invalid webhook secret")
			return
		}

		ev, err := channel.ParseInbound(opts.Channel.Name(), body, time.Now())
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := opts.Channel.Push(c.Request.Context(), ev); err != nil {
			log.Error().Err(err).Str("event_id", ev.EventID).Msg("api: push channel event")
			fail(c, http.StatusServiceUnavailable, "relay unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleCRMWebhook always answers 200 so the CRM does not retry payloads
// that will never be delivered.
func handleCRMWebhook(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.String(http.StatusOK, "OK")

		body, err := readBody(c)
		if err != nil {
			log.Warn().Err(err).Msg("api: read crm webhook")
			return
		}
		ev, ok, err := crm.ParseWebhook(body, opts.DefaultTenant, time.Now())
		if err != nil {
			log.Warn().Err(err).Msg("api: crm webhook")
			return
		}
		if !ok {
			log.Debug().Msg("api: crm webhook ignored")
			return
		}
		if err := opts.Operators.SubmitOperator(ev); err != nil {
			log.Error().Err(err).Str("event_id", ev.EventID).Msg("api: queue operator message")
		}
	}
}
