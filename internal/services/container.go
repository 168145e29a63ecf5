package services

import (
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/backlog"
	"github.com/garyjia/docman-backlog/internal/classifier"
	"github.com/garyjia/docman-backlog/internal/config"
	"github.com/garyjia/docman-backlog/internal/converter"
	"github.com/garyjia/docman-backlog/internal/duplicate"
	"github.com/garyjia/docman-backlog/internal/lark"
	"github.com/garyjia/docman-backlog/internal/notification"
	"github.com/garyjia/docman-backlog/internal/parser"
	"github.com/garyjia/docman-backlog/internal/storage"
	"github.com/garyjia/docman-backlog/internal/thumbnail"
)

// Container holds the pipeline components built on top of the infrastructure
type Container struct {
	// Pipeline stages
	Parser     *parser.Parser
	Checker    *duplicate.Checker
	Reserver   duplicate.Reserver
	Converter  *converter.Converter
	Thumbnails *thumbnail.Generator
	Classifier *classifier.Classifier

	// Folder and log handling
	FolderManager *storage.FolderManager
	LogWriter     *backlog.LogWriter

	// Run control
	Orchestrator *backlog.Orchestrator
	Coordinator  *backlog.Coordinator
	Notifier     *notification.RunNotifier

	logger *zap.Logger
}

// NewContainer creates and initializes all services
func NewContainer(cfg *config.Config, infra *Infrastructure, logger *zap.Logger) (*Container, error) {
	c := &Container{
		logger: logger,
	}

	// Initialize services by category
	if err := c.initializeParser(cfg, logger); err != nil {
		return nil, err
	}
	c.initializeDuplicateServices(cfg, infra, logger)
	c.initializeConversionServices(cfg, logger)
	c.initializeClassifier(cfg, logger)
	c.initializeBacklogServices(cfg, infra, logger)
	c.initializeNotificationServices(cfg, infra, logger)

	logger.Info("Service container initialized",
		zap.Bool("classifier_enabled", c.Classifier != nil),
		zap.Bool("notifications_enabled", c.Notifier != nil))

	return c, nil
}

// initializeParser loads the naming policy. A missing policy file falls back
// to the built-in policy; an invalid one is an error.
func (c *Container) initializeParser(cfg *config.Config, logger *zap.Logger) error {
	policy := parser.DefaultPolicy()
	if cfg.Backlog.PolicyPath != "" {
		loaded, err := parser.LoadPolicy(cfg.Backlog.PolicyPath)
		switch {
		case err == nil:
			policy = loaded
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn("Naming policy file not found, using built-in policy",
				zap.String("path", cfg.Backlog.PolicyPath))
		default:
			return fmt.Errorf("failed to load naming policy: %w", err)
		}
	}

	p, err := parser.NewParser(policy)
	if err != nil {
		return fmt.Errorf("failed to compile naming policy: %w", err)
	}
	c.Parser = p
	return nil
}

// initializeDuplicateServices wires the checker and the reservation backend.
// Redis is used when configured, the database table otherwise.
func (c *Container) initializeDuplicateServices(cfg *config.Config, infra *Infrastructure, logger *zap.Logger) {
	c.Checker = duplicate.NewChecker(cfg.Storage.DocumentsDir, infra.Repositories.Documents, logger)

	if infra.Redis != nil {
		c.Reserver = duplicate.NewRedisReserver(infra.Redis, cfg.Redis.KeyPrefix, cfg.Backlog.ReservationTTL, logger)
	} else {
		c.Reserver = infra.Repositories.Reservations
	}
}

// initializeConversionServices initializes the converter and thumbnail renderers
func (c *Container) initializeConversionServices(cfg *config.Config, logger *zap.Logger) {
	runner := converter.NewExecRunner(cfg.Converter.Timeout, logger)
	c.Converter = converter.NewConverter(runner, cfg.Converter.ScratchDir, logger)

	renderers := []thumbnail.Renderer{thumbnail.FitzRenderer{Width: cfg.Thumbnail.Width}}
	if cfg.Thumbnail.UseImageMagick {
		renderers = append(renderers, thumbnail.MagickRenderer{Runner: runner, Width: cfg.Thumbnail.Width})
	}
	c.Thumbnails = thumbnail.NewGenerator(cfg.Storage.ThumbnailsDir, logger, renderers...)
}

// initializeClassifier initializes the review hint classifier. Without an
// API key only the keyword rules are used.
func (c *Container) initializeClassifier(cfg *config.Config, logger *zap.Logger) {
	if !cfg.Classifier.Enabled {
		return
	}

	var model classifier.ModelClassifier
	if cfg.Classifier.APIKey != "" {
		model = classifier.NewOpenAIClassifier(classifier.OpenAIConfig{
			APIKey:            cfg.Classifier.APIKey,
			BaseURL:           cfg.Classifier.BaseURL,
			Model:             cfg.Classifier.Model,
			Temperature:       cfg.Classifier.Temperature,
			MaxTokens:         cfg.Classifier.MaxTokens,
			Timeout:           cfg.Classifier.Timeout,
			RequestsPerMinute: cfg.Classifier.RequestsPerMinute,
			BreakerFailures:   cfg.Classifier.BreakerFailures,
			BreakerOpenPeriod: cfg.Classifier.BreakerOpenPeriod,
		}, logger)
	} else {
		logger.Info("No classifier API key, review hints use keyword rules only")
	}
	c.Classifier = classifier.NewClassifier(model, logger)
}

// initializeBacklogServices wires the orchestrator, log writer and coordinator
func (c *Container) initializeBacklogServices(cfg *config.Config, infra *Infrastructure, logger *zap.Logger) {
	c.FolderManager = storage.NewFolderManager(cfg.Backlog.BaseDir, cfg.Backlog.CurrentYear, cfg.Backlog.ArchiveYear, logger)

	deps := backlog.Dependencies{
		Parser:        c.Parser,
		Checker:       c.Checker,
		Converter:     c.Converter,
		Thumbnails:    c.Thumbnails,
		Storage:       infra.Documents,
		Records:       infra.Repositories.Documents,
		Folders:       c.FolderManager,
		Reserver:      c.Reserver,
		ProcessingLog: infra.Repositories.ProcessingLog,
		Observer:      infra.Metrics,
	}
	if c.Classifier != nil {
		deps.Hints = c.Classifier
	}
	c.Orchestrator = backlog.NewOrchestrator(deps, cfg.Storage.ConvertDir, logger)

	logFiles := storage.NewLocalFileStorage(cfg.Backlog.LogsDir, logger)
	c.LogWriter = backlog.NewLogWriter(cfg.Backlog.LogsDir, logFiles, logger)

	c.Coordinator = backlog.NewCoordinator(c.FolderManager, c.Orchestrator, c.Converter, c.LogWriter, logger).
		WithObserver(infra.Metrics).
		WithCloser(infra)
}

// initializeNotificationServices initializes the Lark run notifier
func (c *Container) initializeNotificationServices(cfg *config.Config, infra *Infrastructure, logger *zap.Logger) {
	if infra.LarkClient == nil {
		return
	}

	messages := lark.NewMessageAPI(infra.LarkClient, logger)
	c.Notifier = notification.NewRunNotifier(messages, cfg.Lark.ReceiveIDType, cfg.Lark.ReceiveID, logger).
		WithPending(infra.Repositories.Documents, infra.Metrics)
	c.Coordinator.WithNotifier(c.Notifier)
}
