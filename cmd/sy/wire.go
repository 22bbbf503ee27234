package main

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/gate"
	"github.com/zulandar/switchyard/internal/handoff"
	"github.com/zulandar/switchyard/internal/indexer"
	"github.com/zulandar/switchyard/internal/knowledge"
	"github.com/zulandar/switchyard/internal/llm"
	"github.com/zulandar/switchyard/internal/notify"
	"github.com/zulandar/switchyard/internal/notify/discord"
	"github.com/zulandar/switchyard/internal/notify/slack"
)

// loadAndConnect loads the config and opens the database.
func loadAndConnect(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// buildGate selects the gate store from config.
func buildGate(cfg *config.Config, gormDB *gorm.DB) (*gate.Gate, error) {
	var store gate.Store
	switch cfg.Gate.Store {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs, err := gate.NewRedisStore(client, "")
		if err != nil {
			return nil, err
		}
		store = rs
	case "sql":
		ss, err := gate.NewSQLStore(gormDB)
		if err != nil {
			return nil, err
		}
		store = ss
	default:
		store = gate.NewMemoryStore()
	}
	return gate.New(gate.Opts{
		Store:       store,
		EventTTL:    cfg.Gate.EventTTL(),
		DailyLimit:  cfg.Gate.DailyLimit,
		MinInterval: cfg.Gate.MinInterval(),
		Location:    cfg.Gate.Location(),
	})
}

// buildVectorStore returns the chunk store for the sql and milvus backends.
// The remote backend has none.
func buildVectorStore(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (knowledge.VectorStore, error) {
	switch cfg.Knowledge.Backend {
	case "milvus":
		m := cfg.Knowledge.Milvus
		return knowledge.NewMilvusStore(ctx, knowledge.MilvusOpts{
			Address:    m.Address,
			Username:   m.Username,
			Password:   m.Password,
			Database:   m.Database,
			Collection: m.Collection,
			Dimension:  m.Dimension,
			Timeout:    config.Seconds(cfg.Knowledge.TimeoutSec),
		})
	case "sql":
		return knowledge.NewSQLVectorStore(gormDB)
	default:
		return nil, nil
	}
}

// buildRetriever wires the configured knowledge backend.
func buildRetriever(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (knowledge.Retriever, error) {
	if cfg.Knowledge.Backend == "remote" {
		return knowledge.NewRemoteBackend(knowledge.RemoteBackendOpts{
			URL:     cfg.Knowledge.RemoteURL,
			Timeout: config.Seconds(cfg.Knowledge.TimeoutSec),
		})
	}
	store, err := buildVectorStore(ctx, cfg, gormDB)
	if err != nil {
		return nil, err
	}
	embedder, err := llm.NewEmbedder(cfg.LLM)
	if err != nil {
		return nil, err
	}
	return knowledge.NewVectorBackend(knowledge.VectorBackendOpts{
		Embedder: embedder,
		Store:    store,
		Timeout:  config.Seconds(cfg.Knowledge.TimeoutSec),
	})
}

// buildIndexer wires the crawler and embedder to the configured store.
func buildIndexer(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (*indexer.Indexer, error) {
	store, err := buildVectorStore(ctx, cfg, gormDB)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("knowledge backend %q does not support indexing", cfg.Knowledge.Backend)
	}
	embedder, err := llm.NewEmbedder(cfg.LLM)
	if err != nil {
		return nil, err
	}
	return indexer.New(indexer.Opts{
		Store:        store,
		Embedder:     embedder,
		Fetcher:      indexer.NewHTTPFetcher(config.Seconds(cfg.Knowledge.FetchTimeoutSec)),
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
		MaxPages:     cfg.Knowledge.MaxPages,
		Delay:        time.Duration(cfg.Knowledge.CrawlDelayMS) * time.Millisecond,
	})
}

// buildPolicy loads the handoff rules file into a fresh engine.
func buildPolicy(cfg *config.Config) (*handoff.Engine, *handoff.RuleFile, error) {
	engine := handoff.NewEngine(handoff.DefaultRules(), nil)
	rf, err := handoff.NewRuleFile(cfg.Handoff.RulesPath, engine)
	if err != nil {
		return nil, nil, err
	}
	if _, err := rf.Load(); err != nil {
		return nil, nil, err
	}
	return engine, rf, nil
}

// buildNotifier returns the configured operator notifiers, or nil.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var multi notify.Multi
	if s := cfg.Handoff.Slack; s.BotToken != "" {
		n, err := slack.New(slack.NotifierOpts{BotToken: s.BotToken, ChannelID: s.Channel})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
		log.Debug().Str("channel", s.Channel).Msg("slack notifications enabled")
	}
	if d := cfg.Handoff.Discord; d.BotToken != "" {
		n, err := discord.New(discord.NotifierOpts{BotToken: d.BotToken, ChannelID: d.Channel})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
		log.Debug().Str("channel", d.Channel).Msg("discord notifications enabled")
	}
	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}
