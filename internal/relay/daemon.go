package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zulandar/switchyard/internal/channel"
	"github.com/zulandar/switchyard/internal/crm"
	"github.com/zulandar/switchyard/internal/gate"
	"github.com/zulandar/switchyard/internal/handoff"
	"github.com/zulandar/switchyard/internal/notify"
)

// Default schedules.
const (
	DefaultSweepCron  = "*/15 * * * *"
	DefaultDigestCron = "0 9 * * *"

	shutdownGrace = 15 * time.Second
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Daemon is the relay process. It connects the channel adapter, pumps
// inbound events through a per-contact queue into the Orchestrator and runs
// scheduled maintenance.
type Daemon struct {
	adapter      channel.Adapter
	orchestrator *Orchestrator
	queue        *KeyedQueue
	gate         *gate.Gate
	db           *gorm.DB
	notifier     notify.Notifier
	rules        *handoff.RuleFile
	sweepCron    string
	digestCron   string
	out          io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter      channel.Adapter
	Orchestrator *Orchestrator
	Queue        *KeyedQueue
	Gate         *gate.Gate
	DB           *gorm.DB          // optional; enables the handoff digest
	Notifier     notify.Notifier   // optional; enables the handoff digest
	Rules        *handoff.RuleFile // optional; watched for hot reload
	SweepCron    string
	DigestCron   string
	Out          io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: adapter is required")
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("relay: orchestrator is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("relay: queue is required")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("relay: gate is required")
	}
	if opts.SweepCron == "" {
		opts.SweepCron = DefaultSweepCron
	}
	if opts.DigestCron == "" {
		opts.DigestCron = DefaultDigestCron
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		adapter:      opts.Adapter,
		orchestrator: opts.Orchestrator,
		queue:        opts.Queue,
		gate:         opts.Gate,
		db:           opts.DB,
		notifier:     opts.Notifier,
		rules:        opts.Rules,
		sweepCron:    opts.SweepCron,
		digestCron:   opts.DigestCron,
		out:          out,
	}, nil
}

// SubmitInbound queues a contact message behind earlier ones from the same
// contact.
func (d *Daemon) SubmitInbound(ev channel.InboundEvent) error {
	key := ConversationID(d.orchestrator.tenant(ev.TenantID), channel.NormalizeAddress(ev.SenderAddress))
	return d.queue.Submit(key, func() {
		res, err := d.orchestrator.HandleInbound(context.Background(), ev)
		logResult("inbound", ev.EventID, res, err)
	})
}

// SubmitOperator queues an operator message on the recipient's lane.
func (d *Daemon) SubmitOperator(ev crm.OperatorEvent) error {
	key := ConversationID(d.orchestrator.tenant(ev.TenantID), channel.NormalizeAddress(ev.ContactAddress))
	return d.queue.Submit(key, func() {
		res, err := d.orchestrator.HandleOperator(context.Background(), ev)
		logResult("operator", ev.EventID, res, err)
	})
}

func logResult(kind, eventID string, res Result, err error) {
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Str("event_id", eventID).Str("outcome", string(res.Outcome)).Msg("relay: event failed")
		return
	}
	log.Info().Str("kind", kind).Str("event_id", eventID).Str("outcome", string(res.Outcome)).
		Str("reason", res.Reason).Str("case_id", res.CaseID).Msg("relay: event handled")
}

// Run connects the adapter and blocks until ctx is cancelled or the
// adapter's inbound channel closes. Pending queue work is drained on exit.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Relay connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("relay: connect: %w", err)
	}
	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("relay: listen: %w", err)
	}

	sched, err := d.schedule(ctx)
	if err != nil {
		d.adapter.Close()
		return err
	}
	sched.Start()

	if d.rules != nil {
		go func() {
			if err := d.rules.Watch(ctx); err != nil {
				log.Error().Err(err).Msg("relay: rules watcher stopped")
			}
		}()
	}

	fmt.Fprintf(d.out, "Relay online\n")

	defer d.shutdown(sched)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Relay shutting down...\n")
			return nil
		case ev, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Relay inbound channel closed\n")
				return nil
			}
			if err := d.SubmitInbound(ev); err != nil {
				log.Error().Err(err).Str("event_id", ev.EventID).Msg("relay: enqueue inbound")
			}
		}
	}
}

// schedule registers the periodic gate sweep and the handoff digest.
func (d *Daemon) schedule(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(d.sweepCron, func() { d.sweep(ctx) }); err != nil {
		return nil, fmt.Errorf("relay: sweep schedule %q: %w", d.sweepCron, err)
	}
	if d.db != nil && d.notifier != nil {
		if _, err := c.AddFunc(d.digestCron, func() { d.fireDigest(ctx) }); err != nil {
			return nil, fmt.Errorf("relay: digest schedule %q: %w", d.digestCron, err)
		}
	}
	return c, nil
}

func (d *Daemon) sweep(ctx context.Context) {
	n, err := d.gate.Sweep(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("relay: gate sweep")
		return
	}
	st := d.gate.Stats()
	log.Debug().Int("evicted", n).Int64("duplicates", st.DuplicatesAbsorbed).Int64("suppressed", st.SendsSuppressed).Msg("relay: gate swept")
}

// fireDigest builds and sends the handoff digest.
func (d *Daemon) fireDigest(ctx context.Context) {
	notice, err := notify.BuildDigest(ctx, d.db, time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("relay: handoff digest")
		return
	}
	if notice == nil {
		// No activity.
		return
	}
	if err := d.notifier.Notify(ctx, *notice); err != nil {
		log.Warn().Err(err).Msg("relay: send handoff digest")
	}
}

func (d *Daemon) shutdown(sched *cron.Cron) {
	<-sched.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := d.queue.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("relay: queue did not drain before shutdown")
	}
	if err := d.adapter.Close(); err != nil {
		log.Warn().Err(err).Msg("relay: close adapter")
	}
	fmt.Fprintf(d.out, "Relay stopped\n")
}
