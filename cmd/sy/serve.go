package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zulandar/switchyard/internal/api"
	"github.com/zulandar/switchyard/internal/channel/gateway"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/crm"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/handoff"
	"github.com/zulandar/switchyard/internal/llm"
	"github.com/zulandar/switchyard/internal/relay"
	"github.com/zulandar/switchyard/internal/vault"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay and its HTTP API",
		Long:  "Starts the webhook API, the relay daemon and the scheduled gate sweep and handoff digest. Stops on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, gormDB, err := loadAndConnect(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	g, err := buildGate(cfg, gormDB)
	if err != nil {
		return err
	}
	v, err := vault.NewSQLVault(gormDB)
	if err != nil {
		return err
	}
	retriever, err := buildRetriever(ctx, cfg, gormDB)
	if err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	policy, ruleFile, err := buildPolicy(cfg)
	if err != nil {
		return err
	}
	cases, err := handoff.NewCaseStore(gormDB)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	model, err := llm.NewModel(cfg.LLM)
	if err != nil {
		return err
	}
	generator, err := llm.NewGenerator(llm.GeneratorOpts{
		Model:        model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Timeout:      config.Seconds(cfg.LLM.TimeoutSec),
		MaxTokens:    cfg.LLM.MaxTokens,
	})
	if err != nil {
		return err
	}

	adapter, err := gateway.New(gateway.AdapterOpts{
		SendURL:           cfg.Channel.SendURL,
		Token:             cfg.Channel.Token,
		SelfAddress:       cfg.Channel.BusinessAddress,
		Timeout:           config.Seconds(cfg.Channel.TimeoutSec),
		RequestsPerSecond: cfg.Channel.RequestsPerSecond,
	})
	if err != nil {
		return err
	}

	crmClient, err := crm.NewClient(crm.ClientOpts{
		Vault:             v,
		BaseURL:           cfg.CRM.BaseURL,
		APIVersion:        cfg.CRM.APIVersion,
		ClientID:          cfg.CRM.ClientID,
		ClientSecret:      cfg.CRM.ClientSecret,
		TokenURL:          cfg.CRM.TokenURL,
		ProviderID:        cfg.CRM.ProviderID,
		Timeout:           config.Seconds(cfg.CRM.TimeoutSec),
		RequestsPerSecond: cfg.CRM.RequestsPerSecond,
		Burst:             cfg.CRM.Burst,
	})
	if err != nil {
		return err
	}

	conversations, err := relay.NewConversationStore(gormDB)
	if err != nil {
		return err
	}
	orch, err := relay.NewOrchestrator(relay.OrchestratorOpts{
		Gate:          g,
		Conversations: conversations,
		Retriever:     retriever,
		Policy:        policy,
		Cases:         cases,
		Generator:     generator,
		Sender:        adapter,
		Vault:         v,
		Mirror:        crmClient,
		Notifier:      notifier,
		DefaultTenant: cfg.DefaultTenant,
		SelfAddress:   cfg.Channel.BusinessAddress,
		TopK:          cfg.Knowledge.TopK,
		HistoryTurns:  cfg.Relay.HistoryTurns,
	})
	if err != nil {
		return err
	}

	queue, err := relay.NewKeyedQueue(cfg.Relay.Workers)
	if err != nil {
		return err
	}
	daemon, err := relay.NewDaemon(relay.DaemonOpts{
		Adapter:      adapter,
		Orchestrator: orch,
		Queue:        queue,
		Gate:         g,
		DB:           gormDB,
		Notifier:     notifier,
		Rules:        ruleFile,
		SweepCron:    cfg.Gate.SweepCron,
		DigestCron:   cfg.Handoff.DigestCron,
		Out:          out,
	})
	if err != nil {
		return err
	}

	// The indexing endpoint is unavailable with the remote backend.
	ix, err := buildIndexer(ctx, cfg, gormDB)
	if err != nil {
		log.Warn().Err(err).Msg("knowledge indexing disabled")
	}
	var apiIndexer api.Indexer
	if ix != nil {
		apiIndexer = ix
	}

	daemonErr := make(chan error, 1)
	go func() {
		err := daemon.Run(ctx)
		if err != nil {
			stop()
		}
		daemonErr <- err
	}()

	apiErr := api.Start(ctx, api.ServerOpts{
		Channel:       adapter,
		Operators:     daemon,
		Indexer:       apiIndexer,
		Retriever:     retriever,
		Policy:        policy,
		RuleFile:      ruleFile,
		Cases:         cases,
		Vault:         v,
		Gate:          g,
		DefaultTenant: cfg.DefaultTenant,
		SigningSecret: cfg.Server.SigningSecret,
		WebhookSecret: cfg.Server.WebhookSecret,
		AdminToken:    cfg.Server.AdminToken,
		TopK:          cfg.Knowledge.TopK,
		Port:          cfg.Server.Port,
		Out:           out,
	})
	// A failed listener takes the daemon down with it.
	stop()
	if err := <-daemonErr; err != nil {
		return err
	}
	return apiErr
}

