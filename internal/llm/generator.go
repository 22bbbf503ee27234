package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultTimeout = 30 * time.Second

	DefaultSystemPrompt = `You are a helpful assistant replying to customers over WhatsApp on behalf of a business.
Answer briefly and only from the reference material below. If the material does not cover the question, say you will check with the team.

Reference material:
{{context}}`
)

// Snippet is a piece of retrieved reference material.
type Snippet struct {
	Text   string
	Source string
}

// Message is one prior conversation turn.
type Message struct {
	FromContact bool
	Text        string
}

// Request is the input to one generation.
type Request struct {
	Query    string
	Snippets []Snippet
	History  []Message
}

// GeneratorOpts configures a Generator.
type GeneratorOpts struct {
	Model        llms.Model
	SystemPrompt string // may reference {{context}}
	Timeout      time.Duration
	MaxTokens    int
	Temperature  float64
}

// Generator produces reply text from a query, retrieved context and history.
type Generator struct {
	model        llms.Model
	systemPrompt string
	timeout      time.Duration
	maxTokens    int
	temperature  float64
}

// NewGenerator creates a Generator.
func NewGenerator(opts GeneratorOpts) (*Generator, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("llm: generator: model is required")
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.3
	}
	return &Generator{
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
		timeout:      opts.Timeout,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// Generate returns the reply for req.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msgs := BuildMessages(g.systemPrompt, req)
	opts := []llms.CallOption{llms.WithTemperature(g.temperature)}
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}

	resp, err := g.model.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: generate: empty response")
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("llm: generate: empty response")
	}
	log.Debug().Int("snippets", len(req.Snippets)).Int("history", len(req.History)).Int("reply_len", len(text)).Msg("llm: reply generated")
	return text, nil
}

// BuildContext renders snippets as numbered reference blocks.
func BuildContext(snippets []Snippet) string {
	if len(snippets) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, s := range snippets {
		src := s.Source
		if src == "" {
			src = "knowledge base"
		}
		fmt.Fprintf(&b, "[%d] From %s:\n%s\n\n", i+1, src, s.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildMessages assembles the system prompt, history and query.
func BuildMessages(systemPrompt string, req Request) []llms.MessageContent {
	system := strings.ReplaceAll(systemPrompt, "{{context}}", BuildContext(req.Snippets))
	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, system)}
	for _, h := range req.History {
		role := llms.ChatMessageTypeAI
		if h.FromContact {
			role = llms.ChatMessageTypeHuman
		}
		msgs = append(msgs, llms.TextParts(role, h.Text))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Query))
}
