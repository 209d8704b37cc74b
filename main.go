package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"scheduler-post-bot/config"
	"scheduler-post-bot/internal/ai"
	"scheduler-post-bot/internal/article"
	"scheduler-post-bot/internal/bot"
	"scheduler-post-bot/internal/channels"
	"scheduler-post-bot/internal/dialogue"
	"scheduler-post-bot/internal/dispatch"
	"scheduler-post-bot/internal/imagegen"
	"scheduler-post-bot/internal/localization"
	"scheduler-post-bot/internal/metrics"
	"scheduler-post-bot/internal/ratelimit"
	"scheduler-post-bot/internal/scheduler"
	"scheduler-post-bot/internal/server"
	"scheduler-post-bot/internal/storage"
	"scheduler-post-bot/locales"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.Info("Starting SchedulerPost Bot...")

	cfg, err := config.LoadConfig(log)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.SetLevel(cfg.LogrusLevel())
	location, err := cfg.Location()
	if err != nil {
		log.Fatalf("Failed to load timezone: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	localizer, err := localization.NewLocalizer(locales.FS, log)
	if err != nil {
		log.Fatalf("Failed to load message catalogue: %v", err)
	}

	journal, err := storage.NewStorage(cfg.DatabasePath, log)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer journal.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	bindings := channels.NewRegistry()
	limiter := ratelimit.New(cfg.DailyPostLimit, location)

	writer, err := ai.NewWriter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, ai.Options{
		PromptFormat: cfg.AiPrompt,
		MinInterval:  cfg.GeminiMinInterval,
		Articles:     article.NewFetcher(article.NewPublicClient(cfg.ArticleTimeout), log),
	}, log)
	if err != nil {
		log.Fatalf("Failed to initialize Gemini client: %v", err)
	}
	defer writer.Close()

	var images dispatch.ImageGenerator
	if cfg.ImagesEnabled() {
		images = imagegen.NewClient(cfg.HuggingFaceAPIKey, cfg.HFBaseURL, cfg.HFImageModel, cfg.HFFallbackModel, log, imagegen.Options{})
		log.Infof("Image generation enabled with model %s", cfg.HFImageModel)
	} else {
		log.Warn("HUGGINGFACE_API_KEY not set, image generation is disabled")
	}

	telegramBot, err := bot.NewBot(cfg.TelegramBotToken, log)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	if err := telegramBot.RegisterCommands(); err != nil {
		log.Warnf("Could not register command menu: %v", err)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Transport: telegramBot.Transport(),
		Bindings:  bindings,
		Text:      writer,
		Images:    images,
		Limiter:   limiter,
		Journal:   journal,
		Metrics:   appMetrics,
		Messages:  localizer,
		Language:  cfg.DefaultLanguage,
	}, log)

	appScheduler, err := scheduler.NewScheduler(dispatcher, log,
		scheduler.WithLocation(location),
		scheduler.WithMetrics(appMetrics),
	)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	engine := dialogue.NewEngine(dialogue.Config{
		Transport:  telegramBot.Transport(),
		Dispatcher: dispatcher,
		Scheduler:  appScheduler,
		Text:       writer,
		Images:     images,
		Limiter:    limiter,
		Bindings:   bindings,
		History:    journal,
		Metrics:    appMetrics,
		Messages:   localizer,
		Language:   cfg.DefaultLanguage,
		Location:   location,
		Identity:   telegramBot.Identity(),
		Timeout:    cfg.DialogueTimeout(),
	}, log)
	if err := engine.ScheduleTimeoutSweep(ctx); err != nil {
		log.Fatalf("Failed to schedule dialogue timeout sweep: %v", err)
	}

	httpServer := server.New(cfg.Port, server.Deps{
		Scheduled: appScheduler,
		Dialogues: engine,
		Journal:   journal,
		Gatherer:  registry,
	}, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Run(ctx); err != nil {
			log.Errorf("HTTP server stopped: %v", err)
		}
	}()

	appScheduler.Start(ctx)
	log.Info("Bot is running...")
	telegramBot.Run(ctx, engine)

	log.Info("Shutting down...")
	if pending := appScheduler.Len(); pending > 0 {
		log.Warnf("Discarding %d scheduled posts that have not fired yet", pending)
	}
	if err := appScheduler.Shutdown(); err != nil {
		log.Errorf("Scheduler shutdown failed: %v", err)
	}
	wg.Wait()
	log.Info("Stopped")
}
