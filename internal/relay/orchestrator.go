// Package relay moves messages between the chat channel and the CRM: it
// answers contacts from the knowledge base, escalates to operators and
// delivers operator replies.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zulandar/switchyard/internal/channel"
	"github.com/zulandar/switchyard/internal/crm"
	"github.com/zulandar/switchyard/internal/gate"
	"github.com/zulandar/switchyard/internal/handoff"
	"github.com/zulandar/switchyard/internal/knowledge"
	"github.com/zulandar/switchyard/internal/llm"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/notify"
	"github.com/zulandar/switchyard/internal/vault"
)

// DefaultHistoryTurns is how many prior turns feed generation.
const DefaultHistoryTurns = 10

// Outcome classifies how an event was handled.
type Outcome string

const (
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored" // our own echo
	OutcomeReplied   Outcome = "replied"
	OutcomeThrottled Outcome = "throttled"
	OutcomeEscalated Outcome = "escalated"
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// Result describes the handling of one event.
type Result struct {
	Outcome Outcome
	Reason  string // throttle reason or handoff reason
	CaseID  string
	Reply   string
}

// Sender delivers a message to a contact.
type Sender interface {
	Send(ctx context.Context, msg channel.OutboundMessage) error
}

// Generator produces a reply.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// Mirror records contact messages in the CRM.
type Mirror interface {
	MirrorInbound(ctx context.Context, tenantID, phone, name, text string) error
}

// CaseOpener opens or reuses a handoff case.
type CaseOpener interface {
	Open(ctx context.Context, tenantID, contact, conversationRef, summary string) (*models.HandoffCase, bool, error)
}

// OrchestratorOpts configures an Orchestrator.
type OrchestratorOpts struct {
	Gate          *gate.Gate
	Conversations *ConversationStore
	Retriever     knowledge.Retriever
	Policy        *handoff.Engine
	Cases         CaseOpener
	Generator     Generator
	Sender        Sender
	Vault         vault.Vault
	Mirror        Mirror          // optional
	Notifier      notify.Notifier // optional
	DefaultTenant string
	SelfAddress   string // business number; inbound from it is ignored
	TopK          int
	HistoryTurns  int
}

// Orchestrator runs the inbound and operator pipelines. Calls for the same
// contact must not overlap; the Daemon's KeyedQueue guarantees that.
type Orchestrator struct {
	gate          *gate.Gate
	conversations *ConversationStore
	retriever     knowledge.Retriever
	policy        *handoff.Engine
	cases         CaseOpener
	generator     Generator
	sender        Sender
	vault         vault.Vault
	mirror        Mirror
	notifier      notify.Notifier
	defaultTenant string
	selfAddress   string
	topK          int
	historyTurns  int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts OrchestratorOpts) (*Orchestrator, error) {
	switch {
	case opts.Gate == nil:
		return nil, fmt.Errorf("relay: orchestrator: gate is required")
	case opts.Conversations == nil:
		return nil, fmt.Errorf("relay: orchestrator: conversation store is required")
	case opts.Retriever == nil:
		return nil, fmt.Errorf("relay: orchestrator: retriever is required")
	case opts.Policy == nil:
		return nil, fmt.Errorf("relay: orchestrator: policy is required")
	case opts.Cases == nil:
		return nil, fmt.Errorf("relay: orchestrator: case store is required")
	case opts.Generator == nil:
		return nil, fmt.Errorf("relay: orchestrator: generator is required")
	case opts.Sender == nil:
		return nil, fmt.Errorf("relay: orchestrator: sender is required")
	case opts.Vault == nil:
		return nil, fmt.Errorf("relay: orchestrator: vault is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = knowledge.DefaultTopK
	}
	if opts.HistoryTurns < 0 {
		opts.HistoryTurns = 0
	} else if opts.HistoryTurns == 0 {
		opts.HistoryTurns = DefaultHistoryTurns
	}
	return &Orchestrator{
		gate:          opts.Gate,
		conversations: opts.Conversations,
		retriever:     opts.Retriever,
		policy:        opts.Policy,
		cases:         opts.Cases,
		generator:     opts.Generator,
		sender:        opts.Sender,
		vault:         opts.Vault,
		mirror:        opts.Mirror,
		notifier:      opts.Notifier,
		defaultTenant: opts.DefaultTenant,
		selfAddress:   channel.NormalizeAddress(opts.SelfAddress),
		topK:          opts.TopK,
		historyTurns:  opts.HistoryTurns,
	}, nil
}

func (o *Orchestrator) tenant(id string) string {
	if id != "" {
		return id
	}
	return o.defaultTenant
}

// HandleInbound processes a contact message: dedup, record, retrieve,
// decide, then either reply or escalate. Errors are returned together with
// OutcomeFailed; the inbound turn, once recorded, stays recorded.
func (o *Orchestrator) HandleInbound(ctx context.Context, ev channel.InboundEvent) (Result, error) {
	sender := channel.NormalizeAddress(ev.SenderAddress)
	if o.selfAddress != "" && sender == o.selfAddress {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if !o.gate.Claim(ctx, ev.EventID) {
		log.Debug().Str("event_id", ev.EventID).Msg("relay: duplicate inbound dropped")
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	tenant := o.tenant(ev.TenantID)
	convID := ConversationID(tenant, sender)

	history, err := o.conversations.Recent(ctx, convID, o.historyTurns)
	if err != nil {
		log.Warn().Err(err).Str("conversation", convID).Msg("relay: history unavailable")
		history = nil
	}

	turn := &models.ConversationTurn{
		ConversationID: convID,
		TenantID:       tenant,
		ContactAddress: sender,
		Direction:      models.DirectionInbound,
		Origin:         models.OriginContact,
		Text:           ev.Body,
		EventID:        ev.EventID,
		CreatedAt:      ev.ReceivedAt,
	}
	if err := o.conversations.Append(ctx, turn); err != nil {
		o.gate.Release(ev.EventID)
		return Result{Outcome: OutcomeFailed}, err
	}
	if err := o.gate.MarkProcessed(ctx, ev.EventID); err != nil {
		log.Warn().Err(err).Str("event_id", ev.EventID).Msg("relay: mark processed")
	}

	o.mirrorInbound(ctx, tenant, sender, ev.SenderName, ev.Body)

	results := o.retriever.Retrieve(ctx, ev.Body, o.topK, knowledge.Filter{TenantID: tenant})
	verdict := o.policy.Decide(ev.Body)
	o.conversations.annotate(ctx, turn.ID, string(verdict.Decision), encodeContext(results))

	if verdict.Decision == handoff.Escalate {
		return o.escalate(ctx, tenant, sender, convID, ev.Body, verdict)
	}

	if ok, reason := o.gate.CheckSend(ctx, sender); !ok {
		o.gate.NoteSuppressed()
		log.Info().Str("to", sender).Str("reason", reason).Msg("relay: auto reply throttled")
		return Result{Outcome: OutcomeThrottled, Reason: reason}, nil
	}

	reply, err := o.generator.Generate(ctx, llm.Request{
		Query:    ev.Body,
		Snippets: snippets(results),
		History:  messages(history),
	})
	if err != nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("relay: inbound %s: %w", ev.EventID, err)
	}

	if err := o.sender.Send(ctx, channel.OutboundMessage{TenantID: tenant, To: sender, Text: reply}); err != nil {
		return Result{Outcome: OutcomeFailed, Reply: reply}, fmt.Errorf("relay: inbound %s: deliver: %w", ev.EventID, err)
	}
	if err := o.gate.RegisterSend(ctx, sender); err != nil {
		log.Warn().Err(err).Str("to", sender).Msg("relay: register send")
	}
	o.appendOutbound(ctx, tenant, sender, convID, models.OriginAssistant, reply, "")

	return Result{Outcome: OutcomeReplied, Reply: reply}, nil
}

func (o *Orchestrator) escalate(ctx context.Context, tenant, contact, convID, text string, v handoff.Verdict) (Result, error) {
	c, created, err := o.cases.Open(ctx, tenant, contact, convID, text)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Reason: v.Reason()}, fmt.Errorf("relay: escalate %s: %w", contact, err)
	}
	log.Info().Str("case_id", c.ID).Str("contact", contact).Str("reason", v.Reason()).Bool("new_case", created).Msg("relay: conversation escalated")

	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, notify.Escalation(c, v.Reason(), text, created)); err != nil {
			log.Warn().Err(err).Str("case_id", c.ID).Msg("relay: notify operators")
		}
	}
	return Result{Outcome: OutcomeEscalated, Reason: v.Reason(), CaseID: c.ID}, nil
}

// HandleOperator delivers an operator-authored CRM message to the contact.
func (o *Orchestrator) HandleOperator(ctx context.Context, ev crm.OperatorEvent) (Result, error) {
	if !o.gate.Claim(ctx, ev.EventID) {
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	tenant := o.tenant(ev.TenantID)
	if _, err := o.vault.Get(ctx, tenant); err != nil {
		o.gate.Release(ev.EventID)
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("relay: operator %s: %w", ev.EventID, err)
	}

	to := channel.NormalizeAddress(ev.ContactAddress)
	if to == "" {
		o.gate.Release(ev.EventID)
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("relay: operator %s: no destination", ev.EventID)
	}

	if err := o.sender.Send(ctx, channel.OutboundMessage{TenantID: tenant, To: to, Text: ev.Text}); err != nil {
		o.gate.Release(ev.EventID)
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("relay: operator %s: deliver: %w", ev.EventID, err)
	}
	if err := o.gate.MarkProcessed(ctx, ev.EventID); err != nil {
		log.Warn().Err(err).Str("event_id", ev.EventID).Msg("relay: mark processed")
	}
	if err := o.gate.RegisterSend(ctx, to); err != nil {
		log.Warn().Err(err).Str("to", to).Msg("relay: register send")
	}
	o.appendOutbound(ctx, tenant, to, ConversationID(tenant, to), models.OriginOperator, ev.Text, ev.EventID)

	return Result{Outcome: OutcomeDelivered}, nil
}

func (o *Orchestrator) appendOutbound(ctx context.Context, tenant, to, convID, origin, text, eventID string) {
	turn := &models.ConversationTurn{
		ConversationID: convID,
		TenantID:       tenant,
		ContactAddress: to,
		Direction:      models.DirectionOutbound,
		Origin:         origin,
		Text:           text,
		EventID:        eventID,
		CreatedAt:      time.Now(),
	}
	if err := o.conversations.Append(ctx, turn); err != nil {
		log.Error().Err(err).Str("conversation", convID).Msg("relay: record outbound turn")
	}
}

func (o *Orchestrator) mirrorInbound(ctx context.Context, tenant, phone, name, text string) {
	if o.mirror == nil {
		return
	}
	err := o.mirror.MirrorInbound(ctx, tenant, phone, name, text)
	switch {
	case err == nil:
	case errors.Is(err, vault.ErrTenantNotOnboarded):
		log.Debug().Str("tenant", tenant).Msg("relay: tenant not onboarded, CRM mirror skipped")
	default:
		log.Warn().Err(err).Str("tenant", tenant).Msg("relay: CRM mirror failed")
	}
}

func snippets(results []knowledge.Result) []llm.Snippet {
	out := make([]llm.Snippet, 0, len(results))
	for _, r := range results {
		out = append(out, llm.Snippet{Text: r.Text, Source: r.Source})
	}
	return out
}

func messages(turns []models.ConversationTurn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		out = append(out, llm.Message{FromContact: t.Direction == models.DirectionInbound, Text: t.Text})
	}
	return out
}
