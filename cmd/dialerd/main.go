// Command dialerd is the outbound calling campaign server: the call
// scheduler and queue engine, the telephony lifecycle reconciler, the
// event router with signed webhooks, and the live audio bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/KremlinV1/11Wire-sub002/internal/api"
	"github.com/KremlinV1/11Wire-sub002/internal/bridge"
	"github.com/KremlinV1/11Wire-sub002/internal/config"
	"github.com/KremlinV1/11Wire-sub002/internal/dialer"
	"github.com/KremlinV1/11Wire-sub002/internal/events"
	"github.com/KremlinV1/11Wire-sub002/internal/health"
	"github.com/KremlinV1/11Wire-sub002/internal/observe"
	"github.com/KremlinV1/11Wire-sub002/internal/reconcile"
	"github.com/KremlinV1/11Wire-sub002/internal/store"
	"github.com/KremlinV1/11Wire-sub002/internal/store/memstore"
	"github.com/KremlinV1/11Wire-sub002/internal/store/postgres"
	"github.com/KremlinV1/11Wire-sub002/internal/telephony"
	"github.com/KremlinV1/11Wire-sub002/pkg/provider/llm"
	"github.com/KremlinV1/11Wire-sub002/pkg/provider/llm/anyllm"
	"github.com/KremlinV1/11Wire-sub002/pkg/provider/stt"
	sttelevenlabs "github.com/KremlinV1/11Wire-sub002/pkg/provider/stt/elevenlabs"
	"github.com/KremlinV1/11Wire-sub002/pkg/provider/tts"
	ttselevenlabs "github.com/KremlinV1/11Wire-sub002/pkg/provider/tts/elevenlabs"
)

// campaignEventTypes is everything a campaign webhook subscription covers.
var campaignEventTypes = []string{
	events.CallStarted,
	events.CallAnswered,
	events.CallEnded,
	events.RecordingStarted,
	events.RecordingEnded,
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dialerd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dialerd: %v\n", err)
		}
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("dialerd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "dialerd"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	st, probes, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer closeStore()

	if cfg.Telephony.BaseURL == "" {
		slog.Error("telephony.base_url is required to place calls")
		return 1
	}
	tel, err := telephony.NewClient(cfg.Telephony.BaseURL, cfg.Telephony.APIKey)
	if err != nil {
		slog.Error("failed to create telephony client", "err", err)
		return 1
	}

	sttProvider, ttsProvider, llmProvider, err := buildSpeechProviders(cfg)
	if err != nil {
		slog.Error("failed to build speech providers", "err", err)
		return 1
	}

	// Event router and campaign webhook subscriptions.
	bus := events.NewBus(logger)
	sink := events.NewWebhookSink(cfg.Webhooks.SigningSecret, logger)
	if err := registerCampaignWebhooks(ctx, st, bus, sink); err != nil {
		slog.Error("failed to register campaign webhooks", "err", err)
		return 1
	}

	// Audio bridge session registry and STT result correlation.
	registry := bridge.NewRegistry()
	correlator := bridge.NewCorrelator(registry, logger)

	// Scheduler and telephony lifecycle reconciliation.
	schedOpts := []dialer.SchedulerOption{
		dialer.WithDefaultCallerID(cfg.Telephony.DefaultCallerID),
	}
	if cfg.Scheduler.TickIntervalSeconds > 0 {
		schedOpts = append(schedOpts,
			dialer.WithTickInterval(time.Duration(cfg.Scheduler.TickIntervalSeconds)*time.Second))
	}
	scheduler := dialer.NewScheduler(st, tel, cfg.TelephonyCallbackURL(), logger, schedOpts...)
	reconciler := reconcile.New(st, tel, bus, scheduler, registry, logger)

	newSession := func(callSID string, media telephony.MediaStream) (*bridge.Session, error) {
		return bridge.NewSession(bridge.Config{
			CallSID:       callSID,
			VoiceID:       cfg.ElevenLabs.VoiceAgentID,
			SystemPrompt:  cfg.LLM.SystemPrompt,
			STTWebhookURL: cfg.STTWebhookURL(),
		}, bridge.Deps{
			STT:   sttProvider,
			LLM:   llmProvider,
			TTS:   ttsProvider,
			Media: media,
			Log:   logger,
		})
	}

	server := api.NewServer(reconciler, correlator, registry, newSession, health.New(probes), logger)

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("http server listening", "addr", addr, "tls", cfg.Server.TLS != nil)
		var err error
		if cfg.Server.TLS != nil {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildStore opens the configured persistence backend and returns readiness
// probes for it. The in-memory fallback needs no probes and no cleanup.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, []health.Probe, func(), error) {
	if cfg.Store.PostgresDSN == "" {
		slog.Info("using in-memory store")
		return memstore.New(), nil, func() {}, nil
	}

	pg, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	probes := []health.Probe{health.Ping("database", pg.Ping)}
	slog.Info("connected to postgres store")
	return pg, probes, pg.Close, nil
}

// buildSpeechProviders instantiates the STT, TTS, and LLM backends named in
// cfg. A missing ElevenLabs key or LLM provider degrades the corresponding
// capability instead of failing startup; calls then run without it.
func buildSpeechProviders(cfg *config.Config) (stt.Provider, tts.Provider, llm.Provider, error) {
	var sttProvider stt.Provider
	var ttsProvider tts.Provider
	var llmProvider llm.Provider

	if p, err := sttelevenlabs.New(cfg.ElevenLabs.APIKey, cfg.STTWebhookURL()); err == nil {
		sttProvider = p
		slog.Info("provider created", "kind", "stt", "name", "elevenlabs")
	} else if errors.Is(err, stt.ErrNotConfigured) {
		slog.Warn("speech-to-text disabled", "reason", "elevenlabs api key or webhook URL missing")
	} else {
		return nil, nil, nil, fmt.Errorf("create stt provider: %w", err)
	}

	if cfg.ElevenLabs.APIKey != "" {
		var opts []ttselevenlabs.Option
		if cfg.ElevenLabs.Model != "" {
			opts = append(opts, ttselevenlabs.WithModel(cfg.ElevenLabs.Model))
		}
		if cfg.ElevenLabs.VoiceAgentID != "" {
			opts = append(opts, ttselevenlabs.WithDefaultVoice(cfg.ElevenLabs.VoiceAgentID))
		}
		p, err := ttselevenlabs.New(cfg.ElevenLabs.APIKey, opts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create tts provider: %w", err)
		}
		ttsProvider = p
		slog.Info("provider created", "kind", "tts", "name", "elevenlabs", "model", cfg.ElevenLabs.Model)
	} else {
		slog.Warn("text-to-speech disabled", "reason", "elevenlabs api key missing")
	}

	if cfg.LLM.Provider != "" {
		var opts []anyllmlib.Option
		if cfg.LLM.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.LLM.APIKey))
		}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.LLM.BaseURL))
		}
		p, err := anyllm.New(cfg.LLM.Provider, cfg.LLM.Model, opts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Provider, err)
		}
		llmProvider = p
		slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)
	} else {
		slog.Warn("conversation disabled", "reason", "llm.provider not set")
	}

	return sttProvider, ttsProvider, llmProvider, nil
}

// registerCampaignWebhooks subscribes every active campaign's webhook URL to
// the lifecycle event types, scoped to that campaign.
func registerCampaignWebhooks(ctx context.Context, st store.Store, bus *events.Bus, sink *events.WebhookSink) error {
	campaigns, err := st.ListActiveCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("list active campaigns: %w", err)
	}
	for _, c := range campaigns {
		if c.WebhookURL == "" {
			continue
		}
		sink.Register(bus, c.WebhookURL, campaignEventTypes, events.Filter{CampaignID: c.ID})
		slog.Info("campaign webhook registered", "campaign_id", c.ID, "url", c.WebhookURL)
	}
	return nil
}
