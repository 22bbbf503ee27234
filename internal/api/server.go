// Package api is the HTTP boundary: channel and CRM webhooks, knowledge
// indexing, handoff administration and tenant credentials.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/switchyard/internal/channel"
	"github.com/zulandar/switchyard/internal/crm"
	"github.com/zulandar/switchyard/internal/gate"
	"github.com/zulandar/switchyard/internal/handoff"
	"github.com/zulandar/switchyard/internal/indexer"
	"github.com/zulandar/switchyard/internal/knowledge"
	"github.com/zulandar/switchyard/internal/vault"
)

const (
	DefaultPort  = 8080
	maxBodyBytes = 1 << 20
	maxFileBytes = 20 << 20
)

// Pusher accepts verified channel events.
type Pusher interface {
	Name() string
	Push(ctx context.Context, ev channel.InboundEvent) error
}

// OperatorSubmitter queues operator messages for delivery.
type OperatorSubmitter interface {
	SubmitOperator(ev crm.OperatorEvent) error
}

// Indexer adds sources to the knowledge base.
type Indexer interface {
	Index(ctx context.Context, locator, sourceType string, meta indexer.Meta) (indexer.Result, error)
	IndexDocument(ctx context.Context, name, contentType string, data []byte, meta indexer.Meta) (indexer.Result, error)
}

// ServerOpts holds the server's collaborators. Routes whose collaborator is
// nil are not registered.
type ServerOpts struct {
	Channel   Pusher
	Operators OperatorSubmitter
	Indexer   Indexer
	Retriever knowledge.Retriever
	Policy    *handoff.Engine
	RuleFile  *handoff.RuleFile // optional; persists PUT /handoff/rules
	Cases     *handoff.CaseStore
	Vault     vault.Vault
	Gate      *gate.Gate // optional; adds counters to /healthz

	DefaultTenant string
	SigningSecret string
	WebhookSecret string
	AdminToken    string
	TopK          int

	Port int
	Out  io.Writer
}

// NewRouter builds the gin engine with every configured route.
func NewRouter(opts ServerOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	registerRoutes(router, &opts)
	return router
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts ServerOpts) error {
	if opts.Channel == nil {
		return fmt.Errorf("api: channel is required")
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
