package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/config"
	gateway "github.com/chatrelay/whatsapp-gateway/internal/gateways"
	"github.com/chatrelay/whatsapp-gateway/internal/handlers"
	"github.com/chatrelay/whatsapp-gateway/internal/repository"
	"github.com/chatrelay/whatsapp-gateway/internal/services"
	"github.com/chatrelay/whatsapp-gateway/internal/storage"
	"github.com/chatrelay/whatsapp-gateway/internal/webhook"
	xhttp "github.com/chatrelay/whatsapp-gateway/pkg/http"
	"github.com/chatrelay/whatsapp-gateway/pkg/logger"
	"github.com/chatrelay/whatsapp-gateway/pkg/pg"
	"github.com/chatrelay/whatsapp-gateway/pkg/prom"
	"github.com/chatrelay/whatsapp-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	// media fetches happen inline on webhook delivery, so the budget is
	// wider than a plain CRUD API would need
	s.Server.ReadTimeout = time.Second * 30
	s.Server.WriteTimeout = time.Second * 30
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 25))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	graphClient, err := gateway.NewClient(&gateway.Config{
		BaseURL:         config.Get().GraphApiBaseUrl,
		Timeout:         config.Get().GraphApiTimeout,
		MaxConns:        config.Get().GraphApiMaxConns,
		ReadBufferSize:  1024 * 16,
		WriteBufferSize: 1024 * 16,
	})
	if err != nil {
		logger.Error("failed to create graph api client", "error", err)
		return
	}

	blobStore, err := storage.NewDiskStore(config.Get().MediaStorageRoot)
	if err != nil {
		logger.Error("failed to open media storage", "error", err)
		return
	}

	messageRepo := repository.NewMessageRepository(db)
	statusRepo := repository.NewMessageStatusRepository(db)
	userRepo := repository.NewUserRepository(db)
	contactRepo := repository.NewContactRepository(db)

	// services
	resolver := services.NewContactResolver(userRepo, contactRepo)
	mediaService := services.NewMediaService(graphClient, blobStore)
	notifier := services.NewNotifier(redisAdap, config.Get().MediaPublicBase)
	messageService := services.NewMessageService(messageRepo, statusRepo, userRepo, contactRepo, redisAdap, notifier, graphClient)
	healthService := services.NewHealthService()

	processor := webhook.NewProcessor(userRepo, resolver, mediaService, messageService)

	// v1 handlers
	webhookHandler := handlers.NewWebhookHandler(processor)
	messageHandler := handlers.NewMessageHandler(messageService, userRepo)
	contactHandler := handlers.NewContactHandler(messageService, userRepo)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterWebhookRoutes(g, webhookHandler)
	handlers.RegisterMessageRoutes(g, messageHandler)
	handlers.RegisterContactRoutes(g, contactHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// downloaded media is served straight off disk under the public base
	s.Router.ServeFiles(config.Get().MediaPublicBase+"/{filepath:*}", config.Get().MediaStorageRoot)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(config.Get().MetricsAddr, "/metrics")
	}()

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
