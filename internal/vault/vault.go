// Package vault stores per-tenant OAuth credentials for the CRM API.
package vault

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrTenantNotOnboarded is returned when no credential exists for a tenant.
var ErrTenantNotOnboarded = errors.New("vault: tenant not onboarded")

// Credential is the OAuth grant a tenant issued to the relay.
type Credential struct {
	TenantID     string    `json:"tenant_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Token converts the credential to an oauth2 token.
func (c Credential) Token() *oauth2.Token {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    tokenType,
		Expiry:       c.Expiry,
	}
}

// FromToken builds a credential for tenantID from an oauth2 token, keeping
// scope from prev since token refreshes do not always echo it.
func FromToken(tenantID string, tok *oauth2.Token, prev Credential) Credential {
	c := Credential{
		TenantID:     tenantID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        prev.Scope,
		Expiry:       tok.Expiry,
	}
	if c.RefreshToken == "" {
		c.RefreshToken = prev.RefreshToken
	}
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		c.Scope = s
	}
	return c
}

// Vault is the credential store. Save is last-write-wins; it never refreshes.
type Vault interface {
	Save(ctx context.Context, cred Credential) error
	Get(ctx context.Context, tenantID string) (Credential, error)
	Delete(ctx context.Context, tenantID string) error
	List(ctx context.Context) ([]Credential, error)
}
