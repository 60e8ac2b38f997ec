package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/joho/godotenv"

	"feedline/config"
	"feedline/internal/health"
	"feedline/internal/supervisor"
	"feedline/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	presetsPath := flag.String("presets", "config/presets.yaml", "path to preset configuration file")
	presetLabel := flag.String("preset", "", "label of the preset to run")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("failed to configure logger")
		os.Exit(1)
	}

	if cfg.Logging.CloudWatchRegion != "" || cfg.Logging.CloudWatchNS != "" {
		logger.InitCloudWatch(cfg.Logging.CloudWatchRegion, cfg.Logging.CloudWatchNS, "")
	}

	if cfg.Logging.HealthCloudWatchEnabled {
		if err := initHealthCloudWatch(cfg.Logging.CloudWatchRegion); err != nil {
			log.WithError(err).Warn("failed to initialize health CloudWatch export; continuing without it")
		}
	}

	presets, err := config.LoadPresets(*presetsPath)
	if err != nil {
		log.WithError(err).Error("failed to load preset configuration")
		os.Exit(1)
	}

	if *presetLabel == "" {
		log.Error("-preset flag is required")
		os.Exit(1)
	}

	preset, err := presets.ByLabel(*presetLabel)
	if err != nil {
		log.WithError(err).Error("preset not found")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Feedline.Name,
		"version": cfg.Feedline.Version,
		"preset":  preset.Label,
	}).Info("starting feedline")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.StartReport(ctx, log, 30*time.Second)

	sup, err := supervisor.New(cfg, *preset)
	if err != nil {
		log.WithError(err).Error("failed to construct supervisor")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runDone := make(chan error, 1)
	go func() {
		runDone <- sup.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
		<-runDone
	case err := <-runDone:
		if err != nil {
			log.WithError(err).Error("supervisor exited with error")
			os.Exit(1)
		}
	}

	log.Info("feedline stopped")
}

// initHealthCloudWatch builds a dedicated CloudWatch client for
// internal/health's per-channel metric export, independent of
// logger.InitCloudWatch's ambient process-health client — the two
// export under different namespaces (feedline vs feedline-health).
func initHealthCloudWatch(region string) error {
	ctx := context.Background()
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return err
	}
	health.SetCloudWatchClient(cloudwatch.NewFromConfig(awsCfg))
	return nil
}
