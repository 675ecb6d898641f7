package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VenkatGGG/shopping-agent/internal/agent"
	"github.com/VenkatGGG/shopping-agent/internal/approval"
	"github.com/VenkatGGG/shopping-agent/internal/artifact"
	"github.com/VenkatGGG/shopping-agent/internal/config"
	"github.com/VenkatGGG/shopping-agent/internal/events"
	"github.com/VenkatGGG/shopping-agent/internal/idempotency"
	"github.com/VenkatGGG/shopping-agent/internal/lease"
	"github.com/VenkatGGG/shopping-agent/internal/llm"
	"github.com/VenkatGGG/shopping-agent/internal/runstore"
)

// buildDeps wires the agent from configuration. Redis, Postgres and Kafka
// are used only when configured; otherwise in-process stores take over.
func buildDeps(ctx context.Context, cfg config.Config, haveMockCard bool, logger *log.Logger) (agent.Deps, agent.Options, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (agent.Deps, agent.Options, func(), error) {
		cleanup()
		return agent.Deps{}, agent.Options{}, func() {}, err
	}

	completer, err := llm.NewClient(llm.Config{
		BaseURL:    cfg.KeywordsBaseURL,
		APIKey:     cfg.KeywordsAPIKey,
		Model:      cfg.LLMModel,
		Timeout:    cfg.LLMTimeout,
		MaxRetries: cfg.LLMMaxRetries,
		Debug:      cfg.Verbose,
	}, logger)
	if err != nil {
		return fail(err)
	}

	output, err := artifact.NewOutputDir(cfg.OutputDir)
	if err != nil {
		return fail(err)
	}

	deps := agent.Deps{
		LLM:    completer,
		Output: output,
		Open: agent.ChromeOpener(agent.BrowserConfig{
			Domain:      cfg.Domain,
			ChromePath:  cfg.ChromePath,
			CDPURL:      cfg.CDPURL,
			ProfileDir:  cfg.ProfileDir,
			Headless:    cfg.Headless,
			LLM:         completer,
			Screenshots: output,
		}, logger),
	}

	if cfg.PaytatoEnabled() {
		client, err := approval.NewClient(approval.Config{
			BaseURL:    cfg.PaytatoBaseURL,
			APIKey:     cfg.PaytatoAPIKey,
			PrivateKey: cfg.PayfillPrivateKey,
		}, logger)
		if err != nil {
			return fail(err)
		}
		if !client.CanDecrypt() && !haveMockCard {
			logger.Printf("warning: PAYFILL_PRIVATE_KEY not set - released credentials cannot be decrypted")
		}
		deps.Approver = client
	} else {
		logger.Printf("warning: PAYTATO_API_KEY not set - running without Paytato integration")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, func() { _ = client.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fail(fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err))
		}
		deps.Idempotency = idempotency.NewRedisStore(client, "")
		deps.Leases = lease.NewRedisManager(client, "")
		logger.Printf("using redis for idempotency and leases: addr=%s", cfg.RedisAddr)
	}

	if cfg.PostgresDSN != "" {
		store, err := runstore.NewPostgresStore(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, store.Close)
		deps.Runs = store
		logger.Printf("using postgres run store")
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() {
			if err := publisher.Close(); err != nil {
				logger.Printf("close kafka publisher: %v", err)
			}
		})
		deps.Events = publisher
		logger.Printf("publishing events to kafka: topic=%s", cfg.KafkaTopic)
	}

	opts := agent.Options{
		Domain:     cfg.Domain,
		ProfileDir: cfg.ProfileDir,
		LeaseTTL:   cfg.LeaseTTL,
		Approval: approval.PollOptions{
			InitialDelay: cfg.ApprovalInitialDelay,
			Interval:     cfg.ApprovalInterval,
			Timeout:      cfg.ApprovalTimeout,
		},
		Idempotency: idempotency.Options{
			ClaimTTL: cfg.IdempotencyClaimTTL,
			EntryTTL: cfg.IdempotencyEntryTTL,
			Wait:     10 * time.Second,
		},
		SubmitPause: cfg.SubmitPause,
		Verbose:     cfg.Verbose,
	}
	return deps, opts, cleanup, nil
}
