package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zulandar/switchyard/internal/vault"
)

// requireAdmin rejects requests without the admin bearer token. With no
// token configured the group is closed.
func requireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			fail(c, http.StatusForbidden, "admin endpoints disabled")
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			fail(c, http.StatusUnauthorized, "invalid admin token")
			return
		}
		c.Next()
	}
}

type credentialRequest struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope"`
	Expiry       time.Time `json:"expiry"`
	ExpiresIn    int       `json:"expires_in"`
}

// handlePutCredential stores a tenant's OAuth grant, last write wins.
func handlePutCredential(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		if req.AccessToken == "" {
			fail(c, http.StatusBadRequest, "access_token is required")
			return
		}
		expiry := req.Expiry
		if expiry.IsZero() && req.ExpiresIn > 0 {
			expiry = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
		}
		tenant := c.Param("id")
		err := opts.Vault.Save(c.Request.Context(), vault.Credential{
			TenantID:     tenant,
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			TokenType:    req.TokenType,
			Scope:        req.Scope,
			Expiry:       expiry,
		})
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info().Str("tenant", tenant).Msg("api: tenant credential stored")
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func handleDeleteCredential(opts *ServerOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := opts.Vault.Delete(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, vault.ErrTenantNotOnboarded):
			fail(c, http.StatusNotFound, err.Error())
		case err != nil:
			fail(c, http.StatusInternalServerError, err.Error())
		default:
			c.JSON(http.StatusOK, gin.H{"success": true})
		}
	}
}
