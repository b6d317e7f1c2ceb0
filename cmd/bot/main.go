package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/config"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/data/rawdocStore"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/data/sessionStore"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/sessionModel"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/handlers"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/machine"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/middleware"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/pipeline"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/scoring"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/scoring/deepseek"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/scoring/gemini"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/server"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/transport/telegram"
	"github.com/TsuiCho/AIHR-Telegram-chat-bot/pkg/logger_i"
)

var (
	listenAddr        string
	stopWorkerChannel chan bool
	workerWaitGroup   sync.WaitGroup
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		logger_i.Init(false, logger_i.ParseLevel("info"))
		logger_i.NewLogger("main").Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger_i.Init(cfg.Prod, logger_i.ParseLevel(cfg.LogLevel))
	var logger = logger_i.NewLogger("main")

	flag.StringVar(&listenAddr, "listen-addr", cfg.OpsListenAddr, "ops server listen address")
	flag.Parse()

	stopWorkerChannel = make(chan bool, 1)

	serviceContext, closeExternalServices := context.WithCancel(context.Background())
	defer closeExternalServices()

	//session store
	if err := sessionStore.RunMigrations(cfg.DatabaseFile, cfg.MigrationsDir); err != nil {
		logger.Error("Migrations failed", "error", err)
		return
	}
	db, err := sessionStore.NewSQLiteDB(cfg.DatabaseFile)
	if err != nil {
		logger.Error("Could not open session database", "error", err)
		return
	}
	sessions := sessionStore.NewSQLiteSessionStore(db)

	//raw document store, in-memory when redis is offline
	var rawDocs sessionModel.RawDocumentStore
	if redisDocs := rawdocStore.GetRedisRawDocStore(serviceContext, cfg.RedisAddr, cfg.RedisPassword); redisDocs != nil {
		rawDocs = redisDocs
	} else {
		logger.Error("Redis raw document store is offline")
		rawDocs = rawdocStore.InitInMemoryRawDocStore()
	}

	//scoring provider
	var provider scoring.Provider
	switch cfg.ScoringProvider {
	case "gemini":
		provider, err = gemini.NewGeminiClient(serviceContext, cfg.ScoringAPIKey, cfg.ScoringModel)
		if err != nil {
			logger.Error("Could not initialize gemini provider", "error", err)
			return
		}
	default:
		provider = deepseek.NewDeepSeekClient(cfg.ScoringBaseURL, cfg.ScoringAPIKey, cfg.ScoringModel)
	}

	scorer := scoring.NewClient(provider, scoring.ClientConfig{
		Timeout:      cfg.ScoringTimeout,
		QueueTimeout: cfg.ScoringQueueTimeout,
		MaxAttempts:  cfg.ScoringMaxAttempts,
		BaseDelay:    cfg.ScoringBaseDelay,
		MaxDelay:     cfg.ScoringMaxDelay,
		Concurrency:  cfg.ScoringConcurrency,
	})

	//the poller is the Sender, so it comes up before the machine; the
	//coordinator is attached as its queue once everything else is wired
	poller, err := telegram.NewPoller(cfg.TelegramToken, nil, cfg.MaxFileSize)
	if err != nil {
		logger.Error("Could not connect to telegram", "error", err)
		return
	}

	sessionMachine := machine.NewMachine(sessions, rawDocs, scorer, poller, machine.Config{
		MaxFileSize:        cfg.MaxFileSize,
		MaxExtractAttempts: cfg.MaxExtractAttempts,
		DefaultJobProfile:  cfg.DefaultJobProfile,
	})

	//resume sessions a previous run left mid-pipeline
	go func() {
		if err := sessionMachine.Recover(serviceContext); err != nil {
			logger.Error("Session recovery failed", "error", err)
		}
	}()

	coordinator := pipeline.NewCoordinator(sessionMachine, poller, pipeline.Config{
		MaxProfileChars: config.MaxProfileChars,
		SessionTimeout:  cfg.SessionTimeout,
	})
	coordinator.StartWorkers(stopWorkerChannel, &workerWaitGroup)
	go coordinator.RunWatchdog(serviceContext)

	poller.AttachQueue(coordinator)
	go poller.Run(serviceContext)

	//ops server
	middleware.Init(cfg.OpsAuthToken)
	handlers.InitSessionHandler(sessions)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	stopExecution := make(chan bool, 1)

	shutdownParams := server.ShutdownParams{
		GracefulShutdown: gracefulShutdown,
		StopExecution:    stopExecution,
		WorkerStop:       stopWorkerChannel,
		Group:            &workerWaitGroup,
		CloseServices:    closeExternalServices,
	}
	go server.ShutDownHandler(shutdownParams)
	go server.CreateServer(listenAddr)

	<-stopExecution
	logger.Info("Bot stopped")
}
