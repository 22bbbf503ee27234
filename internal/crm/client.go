package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchyard/internal/vault"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://services.leadconnectorhq.com"
	DefaultAPIVersion = "2021-04-15"
	DefaultTimeout    = 15 * time.Second
)

// ClientOpts configures a CRM Client.
type ClientOpts struct {
	Vault        vault.Vault
	BaseURL      string
	APIVersion   string
	ClientID     string
	ClientSecret string
	TokenURL     string
	// ProviderID is the conversation provider messages are attributed to.
	ProviderID        string
	MessageType       string // default "WhatsApp"
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// For testing: base transport used for API and token requests.
	HTTPClient *http.Client
}

// Client calls the CRM API on behalf of onboarded tenants.
type Client struct {
	vault       vault.Vault
	baseURL     string
	apiVersion  string
	providerID  string
	messageType string
	timeout     time.Duration
	oauth       *oauth2.Config
	base        *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a CRM Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Vault == nil {
		return nil, fmt.Errorf("crm: vault is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.TokenURL == "" {
		opts.TokenURL = strings.TrimRight(opts.BaseURL, "/") + "/oauth/token"
	}
	if opts.MessageType == "" {
		opts.MessageType = "WhatsApp"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		vault:       opts.Vault,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiVersion:  opts.APIVersion,
		providerID:  opts.ProviderID,
		messageType: opts.MessageType,
		timeout:     opts.Timeout,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
	}, nil
}

// UpsertContact creates or updates the contact for phone and returns its id.
func (c *Client) UpsertContact(ctx context.Context, tenantID, phone, name string) (string, error) {
	body := map[string]string{"locationId": tenantID, "phone": phone}
	if name != "" {
		body["name"] = name
	}
	var resp struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
	}
	if err := c.do(ctx, tenantID, http.MethodPost, "/contacts/upsert", body, &resp); err != nil {
		return "", fmt.Errorf("crm: upsert contact: %w", err)
	}
	if resp.Contact.ID == "" {
		return "", fmt.Errorf("crm: upsert contact: response carried no contact id")
	}
	return resp.Contact.ID, nil
}

// AddInboundMessage records a contact message in the CRM conversation.
func (c *Client) AddInboundMessage(ctx context.Context, tenantID, contactID, text string) (string, error) {
	body := map[string]string{
		"type":      c.messageType,
		"contactId": contactID,
		"message":   text,
	}
	if c.providerID != "" {
		body["conversationProviderId"] = c.providerID
	}
	var resp struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
	}
	if err := c.do(ctx, tenantID, http.MethodPost, "/conversations/messages/inbound", body, &resp); err != nil {
		return "", fmt.Errorf("crm: add inbound message: %w", err)
	}
	return resp.MessageID, nil
}

// MirrorInbound upserts the contact and records the message. It returns
// vault.ErrTenantNotOnboarded (wrapped) for unknown tenants.
func (c *Client) MirrorInbound(ctx context.Context, tenantID, phone, name, text string) error {
	contactID, err := c.UpsertContact(ctx, tenantID, phone, name)
	if err != nil {
		return err
	}
	_, err = c.AddInboundMessage(ctx, tenantID, contactID, text)
	return err
}

// APIError is a non-2xx response from the CRM.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, tenantID, method, path string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	hc, err := c.tenantClient(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", c.apiVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// tenantClient returns an HTTP client authorized as tenantID. Expired
// access tokens are refreshed with the stored refresh token and the result
// written back to the vault.
func (c *Client) tenantClient(ctx context.Context, tenantID string) (*http.Client, error) {
	cred, err := c.vault.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.base)
	src := &persistingSource{
		ctx:    ctx,
		base:   c.oauth.TokenSource(tokenCtx, cred.Token()),
		vault:  c.vault,
		tenant: tenantID,
		prev:   cred,
	}
	hc := oauth2.NewClient(tokenCtx, oauth2.ReuseTokenSource(cred.Token(), src))
	return hc, nil
}

// persistingSource saves refreshed tokens back to the vault.
type persistingSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	vault  vault.Vault
	tenant string
	prev   vault.Credential
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("crm: refresh token for %s: %w", s.tenant, err)
	}
	if tok.AccessToken != s.prev.AccessToken {
		next := vault.FromToken(s.tenant, tok, s.prev)
		if err := s.vault.Save(s.ctx, next); err != nil {
			log.Error().Err(err).Str("tenant", s.tenant).Msg("crm: persist refreshed token")
		} else {
			log.Info().Str("tenant", s.tenant).Time("expiry", tok.Expiry).Msg("crm: token refreshed")
		}
		s.prev = next
	}
	return tok, nil
}
