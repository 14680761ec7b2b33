// main package for the prosody-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/prosody-service/internal/config"
	"github.com/book-expert/prosody-service/internal/core"
	"github.com/book-expert/prosody-service/internal/multistyle"
	"github.com/book-expert/prosody-service/internal/objectstore"
	"github.com/book-expert/prosody-service/internal/prosody"
	"github.com/book-expert/prosody-service/internal/retention"
	"github.com/book-expert/prosody-service/internal/speechtype"
	"github.com/book-expert/prosody-service/internal/synth"
	"github.com/book-expert/prosody-service/internal/transform"
	"github.com/book-expert/prosody-service/internal/whisper"
	"github.com/book-expert/prosody-service/internal/worker"
)

const (
	envOpenAIAPIKey    = "OPENAI_API_KEY"
	healthCheckTimeout = 10 * time.Second
	serviceName        = "prosody-service"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), serviceName+"-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		closeErr := bootstrapLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing bootstrap logger: %v\n", closeErr)
		}
	}()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceName+".log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	registry, err := speechtype.Load(cfg.Paths.SpeechTypesFile)
	if err != nil {
		log.Error("Failed to load speech types: %v", err)

		return fmt.Errorf("failed to load speech types: %w", err)
	}

	log.Info("Loaded %d speech types from %s", len(registry.List()), registry.Path())

	sweeper := retention.NewSweeper(
		retention.DefaultRules(cfg.Paths.UploadsDir, cfg.Paths.GeneratedDir),
		cfg.Retention.MaxAge(),
		cfg.Retention.Interval(),
		log,
	)
	go sweeper.Run(ctx)

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		log.Error("Failed to open object store: %v", err)

		return fmt.Errorf("failed to open object store: %w", err)
	}

	log.Info("Using object store bucket %s", store.Bucket())

	audioTransform, err := transform.New(cfg.Transform.Kind, cfg.Transform.FFmpegPath, cfg.Transform.TempDir, log)
	if err != nil {
		return fmt.Errorf("failed to create audio transform: %w", err)
	}

	engine := prosody.NewEngine(audioTransform, cfg.Paths.GeneratedDir, log)

	workerInstance, err := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{
			Prosody:     cfg.NATS.ProsodySubject,
			Transcribe:  cfg.NATS.TranscribeSubject,
			Synthesize:  cfg.NATS.SynthesizeSubject,
			SpeechTypes: cfg.NATS.SpeechTypesSubject,
			Register:    cfg.NATS.RegisterSubject,
			Delete:      cfg.NATS.DeleteSubject,
		},
		worker.Dependencies{
			Store:         store,
			Engine:        engine,
			Transcriber:   newTranscriber(cfg, log),
			Generator:     newGenerator(ctx, cfg, registry, log),
			SpeechTypes:   registry,
			ReferencesDir: cfg.Paths.ReferencesDir,
			Defaults:      cfg.Prosody,
			Language:      cfg.Whisper.Language,
			Timeout:       cfg.HandlerTimeout(),
		},
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("Prosody-Service initialized with %s transform. Listening for jobs on subject: %s",
		audioTransform.Name(), cfg.NATS.ProsodySubject)

	runErr := workerInstance.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", runErr)
	}

	log.System("Prosody-Service shut down.")

	return nil
}

// newTranscriber returns a nil interface, disabling transcription, when neither a
// self-hosted endpoint nor an API key is configured.
func newTranscriber(cfg *config.Config, log *logger.Logger) core.Transcriber {
	apiKey := os.Getenv(envOpenAIAPIKey)
	if cfg.Whisper.URL == "" && apiKey == "" {
		log.Warn("No Whisper endpoint or %s configured, transcription disabled", envOpenAIAPIKey)

		return nil
	}

	timeout := time.Duration(cfg.Whisper.TimeoutSeconds) * time.Second

	return whisper.NewClient(cfg.Whisper.URL, apiKey, cfg.Whisper.Model, timeout, log)
}

// newGenerator returns a nil interface, disabling synthesis, when no TTS service is
// configured.
func newGenerator(
	ctx context.Context,
	cfg *config.Config,
	registry *speechtype.Registry,
	log *logger.Logger,
) worker.StyleGenerator {
	if cfg.TTS.URL == "" {
		log.Warn("No TTS service configured, multi-style synthesis disabled")

		return nil
	}

	client := synth.NewClient(cfg.TTS.URL, time.Duration(cfg.TTS.TimeoutSeconds)*time.Second, log)

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	healthErr := client.HealthCheck(healthCtx)
	if healthErr != nil {
		log.Warn("TTS service is not healthy yet: %v", healthErr)
	}

	return multistyle.NewGenerator(registry, client, cfg.TTS.Workers, log)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
