package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/prosody-service/internal/audio"
	"github.com/book-expert/prosody-service/internal/config"
	"github.com/book-expert/prosody-service/internal/multistyle"
	"github.com/book-expert/prosody-service/internal/prosody"
	"github.com/book-expert/prosody-service/internal/speechtype"
	"github.com/book-expert/prosody-service/internal/synth"
	"github.com/book-expert/prosody-service/internal/transform"
	"github.com/book-expert/prosody-service/internal/whisper"
)

// Flag descriptions.
const (
	flagInputDesc      = "Input WAV file (or reference clip with --register)"
	flagEditsDesc      = "Edit list (.toml or .json) of silence and prosody modifications"
	flagOutputDesc     = "Output file path (.wav)"
	flagConfigDesc     = "Path to a TOML configuration file"
	flagTranscribeDesc = "Print word-level timestamps of --input and exit"
	flagLanguageDesc   = "Transcription language (overrides the configuration)"
	flagRegisterDesc   = "Register --input as the reference clip of this speech type"
	flagRefTextDesc    = "Transcript of the reference clip for --register"
	flagUnregisterDesc = "Remove this speech type and its stored reference clip"
	flagScriptDesc     = "Styled script to synthesize, e.g. \"{Regular} hi {Whisper} there\""
	flagHealthDesc     = "Check TTS service health and exit"
)

// Flag names.
const (
	flagInput      = "input"
	flagEdits      = "edits"
	flagOutput     = "output"
	flagConfig     = "config"
	flagTranscribe = "transcribe"
	flagLanguage   = "language"
	flagRegister   = "register"
	flagRefText    = "ref-text"
	flagUnregister = "unregister"
	flagScript     = "script"
	flagHealth     = "health"
)

// Error messages.
const (
	errInputRequired     = "--input is required"
	errEditsRequired     = "--edits is required to modify audio"
	errConflictingModes  = "only one of --transcribe, --register, --unregister, --script and --health may be given"
	errTTSNotConfigured  = "no TTS service URL configured"
	errFmtModifyFailed   = "modification failed at stage %s: %s"
	errFmtUnsupportedExt = "unsupported edit list extension %q"
)

const (
	logFileName        = "prosody-cli.log"
	healthCheckTimeout = 10 * time.Second
	envOpenAIAPIKey    = "OPENAI_API_KEY"
)

type mode int

const (
	modeModify mode = iota
	modeTranscribe
	modeRegister
	modeUnregister
	modeSynthesize
	modeHealth
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	input      string
	edits      string
	output     string
	config     string
	language   string
	register   string
	unregister string
	refText    string
	script     string
	transcribe bool
	health     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := run(ctx, os.Args[1:], os.Stdout)

	stop()

	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// run is the application entry point, returning an error on failure.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	selected, err := selectMode(flags)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(flags.config)
	if err != nil {
		return err
	}

	appLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() { _ = appLog.Close() }()

	switch selected {
	case modeHealth:
		return handleHealthCheck(ctx, cfg, appLog, stdout)
	case modeTranscribe:
		return handleTranscribe(ctx, cfg, appLog, flags, stdout)
	case modeRegister:
		return handleRegister(cfg, flags, stdout)
	case modeUnregister:
		return handleUnregister(cfg, appLog, flags, stdout)
	case modeSynthesize:
		return handleSynthesize(ctx, cfg, appLog, flags, stdout)
	case modeModify:
		return handleModify(ctx, cfg, appLog, flags, stdout)
	}

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("prosody-cli", flag.ContinueOnError)
	flagSet.StringVar(&flags.input, flagInput, "", flagInputDesc)
	flagSet.StringVar(&flags.edits, flagEdits, "", flagEditsDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.StringVar(&flags.language, flagLanguage, "", flagLanguageDesc)
	flagSet.StringVar(&flags.register, flagRegister, "", flagRegisterDesc)
	flagSet.StringVar(&flags.unregister, flagUnregister, "", flagUnregisterDesc)
	flagSet.StringVar(&flags.refText, flagRefText, "", flagRefTextDesc)
	flagSet.StringVar(&flags.script, flagScript, "", flagScriptDesc)
	flagSet.BoolVar(&flags.transcribe, flagTranscribe, false, flagTranscribeDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// selectMode validates flag combinations at the boundary.
func selectMode(flags appFlags) (mode, error) {
	selected := modeModify
	count := 0

	for _, candidate := range []struct {
		set  bool
		mode mode
	}{
		{flags.transcribe, modeTranscribe},
		{flags.register != "", modeRegister},
		{flags.unregister != "", modeUnregister},
		{flags.script != "", modeSynthesize},
		{flags.health, modeHealth},
	} {
		if candidate.set {
			selected = candidate.mode
			count++
		}
	}

	switch {
	case count > 1:
		return 0, errors.New(errConflictingModes)
	case selected == modeHealth || selected == modeSynthesize || selected == modeUnregister:
		return selected, nil
	case flags.input == "":
		return 0, errors.New(errInputRequired)
	case selected == modeModify && flags.edits == "":
		return 0, errors.New(errEditsRequired)
	}

	return selected, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()

		return &cfg, nil
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// readEdits parses the edit list by extension: .toml as TOML, .json or no
// extension as JSON.
func readEdits(path string) ([]prosody.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read edits %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return prosody.ParseEditsTOML(data)
	case ".json", "":
		return prosody.ParseEditsJSON(data)
	default:
		return nil, fmt.Errorf(errFmtUnsupportedExt, filepath.Ext(path))
	}
}

func handleModify(ctx context.Context, cfg *config.Config, appLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	records, err := readEdits(flags.edits)
	if err != nil {
		appLog.Error("Failed to read edits: %v", err)

		return err
	}

	audioTransform, err := transform.New(cfg.Transform.Kind, cfg.Transform.FFmpegPath, cfg.Transform.TempDir, appLog)
	if err != nil {
		return fmt.Errorf("failed to create audio transform: %w", err)
	}

	opts := cfg.Prosody
	if flags.output != "" {
		opts.OutputPath = flags.output
	}

	engine := prosody.NewEngine(audioTransform, cfg.Paths.GeneratedDir, appLog)
	result := engine.Run(ctx, flags.input, records, opts)

	encodeErr := writeJSON(stdout, result)
	if encodeErr != nil {
		return encodeErr
	}

	if !result.Success {
		return fmt.Errorf(errFmtModifyFailed, result.Stage, result.Message)
	}

	return nil
}

func handleTranscribe(ctx context.Context, cfg *config.Config, appLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	data, err := os.ReadFile(flags.input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", flags.input, err)
	}

	language := flags.language
	if language == "" {
		language = cfg.Whisper.Language
	}

	client := whisper.NewClient(
		cfg.Whisper.URL,
		os.Getenv(envOpenAIAPIKey),
		cfg.Whisper.Model,
		time.Duration(cfg.Whisper.TimeoutSeconds)*time.Second,
		appLog,
	)

	words, err := client.Transcribe(ctx, data, language)
	if err != nil {
		appLog.Error("Transcription failed: %v", err)

		return fmt.Errorf("transcription failed: %w", err)
	}

	_, err = fmt.Fprintln(stdout, whisper.Format(words))

	return err
}

func handleRegister(cfg *config.Config, flags appFlags, stdout io.Writer) error {
	registry, err := speechtype.Load(cfg.Paths.SpeechTypesFile)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(flags.input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", flags.input, err)
	}

	entry, err := registry.Store(cfg.Paths.ReferencesDir, flags.register, filepath.Base(flags.input), data, flags.refText)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", flags.register, err)
	}

	return writeJSON(stdout, map[string]any{
		"success":    true,
		"speechType": flags.register,
		"filepath":   entry.Audio,
	})
}

// handleUnregister drops the speech type and deletes its clip when the clip
// lives in the references directory.
func handleUnregister(cfg *config.Config, appLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	registry, err := speechtype.Load(cfg.Paths.SpeechTypesFile)
	if err != nil {
		return err
	}

	entry, err := registry.Get(flags.unregister)
	if err != nil {
		return err
	}

	err = registry.Delete(flags.unregister)
	if err != nil {
		return fmt.Errorf("failed to unregister %s: %w", flags.unregister, err)
	}

	if filepath.Dir(entry.Audio) == filepath.Clean(cfg.Paths.ReferencesDir) {
		removeErr := os.Remove(entry.Audio)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			appLog.Warn("Failed to remove reference clip %s: %v", entry.Audio, removeErr)
		}
	}

	return writeJSON(stdout, map[string]any{
		"success":    true,
		"speechType": flags.unregister,
	})
}

func handleSynthesize(ctx context.Context, cfg *config.Config, appLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	if cfg.TTS.URL == "" {
		return errors.New(errTTSNotConfigured)
	}

	registry, err := speechtype.Load(cfg.Paths.SpeechTypesFile)
	if err != nil {
		return err
	}

	client := synth.NewClient(cfg.TTS.URL, time.Duration(cfg.TTS.TimeoutSeconds)*time.Second, appLog)
	generator := multistyle.NewGenerator(registry, client, cfg.TTS.Workers, appLog)

	wave, _, err := generator.Generate(ctx, flags.script, nil)
	if err != nil {
		appLog.Error("Synthesis failed: %v", err)

		return fmt.Errorf("synthesis failed: %w", err)
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = filepath.Join(cfg.Paths.GeneratedDir, multistyle.OUTPUT_PREFIX+uuid.NewString()+".wav")
	}

	err = audio.WriteFile(outputPath, wave)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	return writeJSON(stdout, prosody.Result{Success: true, OutputPath: outputPath, Message: "script synthesized", Stage: ""})
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(ctx context.Context, cfg *config.Config, appLog *logger.Logger, stdout io.Writer) error {
	if cfg.TTS.URL == "" {
		return errors.New(errTTSNotConfigured)
	}

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	client := synth.NewClient(cfg.TTS.URL, healthCheckTimeout, appLog)

	err := client.HealthCheck(healthCtx)
	if err != nil {
		appLog.Error("Health check failed: %v", err)

		return fmt.Errorf("TTS service is not healthy: %w", err)
	}

	_, err = fmt.Fprintln(stdout, "TTS service is healthy")

	return err
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	return nil
}
