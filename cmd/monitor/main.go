package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chatrelay/whatsapp-gateway/internal/config"
	"github.com/chatrelay/whatsapp-gateway/internal/monitor"
	"github.com/chatrelay/whatsapp-gateway/internal/repository"
	"github.com/chatrelay/whatsapp-gateway/internal/services"
	"github.com/chatrelay/whatsapp-gateway/pkg/logger"
	"github.com/chatrelay/whatsapp-gateway/pkg/pg"
	"github.com/chatrelay/whatsapp-gateway/pkg/prom"
	"github.com/chatrelay/whatsapp-gateway/pkg/redis"
	"github.com/chatrelay/whatsapp-gateway/pkg/worker"
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

	messageRepo := repository.NewMessageRepository(db)
	notifier := services.NewNotifier(redisAdap, config.Get().MediaPublicBase)

	pool := worker.NewWorkerManager(1024, config.Get().MonitorWorkers, nil)

	mon := monitor.New(messageRepo, notifier, pool, redisAdap, monitor.Config{
		Interval:     config.Get().MonitorInterval,
		WatermarkKey: config.Get().MonitorWatermarkKey,
	})
	pool.SetWorker(mon.Fanout)

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

	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := pool.Start(); err != nil {
			logger.Error("failed to start worker pool", "error", err)
		}
	}()

	go func() {
		if err := mon.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("monitor stopped", "error", err)
		}
	}()

	select {
	case <-c:
		cancel()
		pool.Exit()
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
