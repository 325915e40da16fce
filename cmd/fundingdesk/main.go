package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fundingdesk/api"
	"fundingdesk/config"
	"fundingdesk/internal/channel"
	"fundingdesk/internal/dashboard"
	"fundingdesk/internal/preview"
	"fundingdesk/logger"
	"fundingdesk/realtime"
	"fundingdesk/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.FundingDesk.Name,
		"version": cfg.FundingDesk.Version,
	}).Info("starting fundingdesk")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Metrics.CloudWatch.Enabled {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	hub := channel.NewHub(cfg.Channels.SubscriberBuffer)
	defer hub.Close()

	client := realtime.New(cfg.Realtime, realtime.WithHub(hub))
	trading := api.NewClient(cfg.API)

	srv, err := dashboard.NewServer(cfg.Dashboard, log, client, trading, preview.FeesFromConfig(cfg.Preview))
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	var archiver *writer.ClosedPositionArchiver
	if cfg.Storage.S3.Enabled {
		archiver, err = writer.NewClosedPositionArchiver(ctx, cfg, client)
		if err != nil {
			log.WithError(err).Error("failed to create closed position archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archiver")
	}

	var publisher *writer.UpdatePublisher
	if cfg.Storage.Kafka.Enabled {
		publisher, err = writer.NewUpdatePublisher(cfg.Storage.Kafka, client)
		if err != nil {
			log.WithError(err).Error("failed to create kafka publisher")
			os.Exit(1)
		}
	}

	var wg sync.WaitGroup

	if srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, cfg.FundingDesk.Name); err != nil {
				log.WithError(err).Error("dashboard stopped with error")
			}
		}()
	}

	if archiver != nil {
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Warn("archiver failed to start")
		}
	}
	if publisher != nil {
		if err := publisher.Start(ctx); err != nil {
			log.WithError(err).Warn("kafka publisher failed to start")
		}
	}

	// A failed first dial is retried by the client's own backoff.
	if err := client.Connect(ctx); err != nil {
		log.WithComponent("main").WithError(err).Warn("initial connection failed")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	// Cancel before closing the hub: relays close browsers with going-away.
	cancel()

	log.Info("closing realtime client")
	client.Close()

	done := make(chan struct{})
	go func() {
		if publisher != nil {
			log.Info("stopping kafka publisher")
			publisher.Stop()
		}
		if archiver != nil {
			log.Info("stopping archiver")
			archiver.Stop()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("fundingdesk stopped")
}
