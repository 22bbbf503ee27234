// Package gateway implements channel.Adapter over an HTTP messaging gateway.
// Inbound events arrive through Push (fed by the webhook handler); outbound
// messages are POSTed to the gateway's send endpoint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/channel"
	"golang.org/x/time/rate"
)

const (
	DefaultChannel = "whatsapp"
	DefaultTimeout = 15 * time.Second
	// DefaultRequestsPerSecond paces outbound sends.
	DefaultRequestsPerSecond = 5.0

	inboundBuffer = 256
	maxRetries    = 3
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("gateway: adapter closed")

// AdapterOpts configures a gateway Adapter.
type AdapterOpts struct {
	SendURL           string
	Token             string
	SelfAddress       string
	Channel           string
	Timeout           time.Duration
	RequestsPerSecond float64
	// For testing: inject a client instead of the default.
	HTTPClient *http.Client
}

// Adapter is a webhook-fed, HTTP-sending channel adapter.
type Adapter struct {
	sendURL string
	token   string
	self    string
	name    string
	client  *http.Client
	limiter *rate.Limiter

	mu        sync.RWMutex
	connected bool
	closed    bool
	inbound   chan channel.InboundEvent
	done      chan struct{}
	closeOnce sync.Once

	baseBackoff time.Duration
}

// New creates a gateway Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.SendURL == "" {
		return nil, fmt.Errorf("gateway: send url is required")
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	burst := int(math.Ceil(opts.RequestsPerSecond))
	return &Adapter{
		sendURL:     opts.SendURL,
		token:       opts.Token,
		self:        channel.NormalizeAddress(opts.SelfAddress),
		name:        opts.Channel,
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
		inbound:     make(chan channel.InboundEvent, inboundBuffer),
		done:        make(chan struct{}),
		baseBackoff: time.Second,
	}, nil
}

// Name returns the channel name events are tagged with.
func (a *Adapter) Name() string { return a.name }

// SelfAddress implements channel.SelfAddresser.
func (a *Adapter) SelfAddress() string { return a.self }

// Connect marks the adapter ready.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.connected = true
	return nil
}

// Listen returns the inbound event channel.
func (a *Adapter) Listen(ctx context.Context) (<-chan channel.InboundEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return nil, fmt.Errorf("gateway: not connected")
	}
	return a.inbound, nil
}

// Push hands an event received by the webhook to listeners. It blocks while
// the buffer is full until ctx is done or the adapter closes.
func (a *Adapter) Push(ctx context.Context, ev channel.InboundEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.inbound <- ev:
		return nil
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Send POSTs the message to the gateway, pacing requests and retrying on 429.
func (a *Adapter) Send(ctx context.Context, msg channel.OutboundMessage) error {
	if msg.To == "" {
		return fmt.Errorf("gateway: send: recipient is required")
	}
	body, err := json.Marshal(sendRequest{To: msg.To, Message: msg.Text})
	if err != nil {
		return fmt.Errorf("gateway: send: %w", err)
	}
	return a.retryOnRateLimit(ctx, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		return a.post(ctx, body)
	})
}

// rateLimitedError carries the server's Retry-After hint.
type rateLimitedError struct {
	RetryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("gateway: rate limited, retry after %s", e.RetryAfter)
}

func (a *Adapter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway: send: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &rateLimitedError{RetryAfter: time.Duration(secs) * time.Second}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway: send: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *rateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// Close stops the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.mu.Lock()
		a.closed = true
		a.connected = false
		close(a.inbound)
		a.mu.Unlock()
	})
	return nil
}
