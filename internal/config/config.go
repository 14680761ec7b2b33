// Package config provides the configuration structure for the prosody-service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/prosody-service/internal/prosody"
	"github.com/book-expert/prosody-service/internal/transform"
)

// Defaults for values left empty in the configuration file.
const (
	DEFAULT_NATS_URL             = "nats://127.0.0.1:4222"
	DEFAULT_PROSODY_SUBJECT      = "prosody.modify"
	DEFAULT_TRANSCRIBE_SUBJECT   = "prosody.transcribe"
	DEFAULT_SYNTHESIZE_SUBJECT   = "prosody.synthesize"
	DEFAULT_SPEECH_TYPES_SUBJECT = "prosody.speech_types"
	DEFAULT_REGISTER_SUBJECT     = "prosody.register"
	DEFAULT_DELETE_SUBJECT       = "prosody.delete"
	DEFAULT_AUDIO_BUCKET         = "AUDIO_FILES"
	DEFAULT_HANDLER_TIMEOUT_SECS = 120
	DEFAULT_RETENTION_SECS       = 3600
	DEFAULT_TTS_TIMEOUT_SECS     = 300
	DEFAULT_WHISPER_TIMEOUT_SECS = 300
	DEFAULT_TTS_WORKERS          = 2
	DEFAULT_WHISPER_MODEL        = "whisper-1"
	DEFAULT_SPEECH_TYPES_FILE    = "speech_types.json"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	ProsodySubject         string `toml:"prosody_subject"`
	TranscribeSubject      string `toml:"transcribe_subject"`
	SynthesizeSubject      string `toml:"synthesize_subject"`
	SpeechTypesSubject     string `toml:"speech_types_subject"`
	RegisterSubject        string `toml:"register_subject"`
	DeleteSubject          string `toml:"delete_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	HandlerTimeoutSeconds  int    `toml:"handler_timeout_seconds"`
}

// TransformConfig selects the pitch and tempo implementation.
type TransformConfig struct {
	Kind       string `toml:"kind"`
	FFmpegPath string `toml:"ffmpeg_path"`
	TempDir    string `toml:"temp_dir"`
}

// PathsConfig holds the configuration for file paths. UploadsDir and
// GeneratedDir are swept by retention; ReferencesDir holds registered voice
// clips and is never swept.
type PathsConfig struct {
	BaseLogsDir     string `toml:"base_logs_dir"`
	UploadsDir      string `toml:"uploads_dir"`
	GeneratedDir    string `toml:"generated_dir"`
	ReferencesDir   string `toml:"references_dir"`
	SpeechTypesFile string `toml:"speech_types_file"`
}

// RetentionConfig controls the periodic cleanup of old files.
type RetentionConfig struct {
	MaxAgeSeconds   int `toml:"max_age_seconds"`
	IntervalSeconds int `toml:"interval_seconds"`
}

// MaxAge returns the retention window.
func (r RetentionConfig) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeSeconds) * time.Second
}

// Interval returns the time between sweeps.
func (r RetentionConfig) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// TTSConfig points at the speech synthesis service.
type TTSConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Workers        int    `toml:"workers"`
}

// WhisperConfig points at the transcription service.
type WhisperConfig struct {
	URL            string `toml:"url"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Prosody   prosody.Options `toml:"prosody"`
	Transform TransformConfig `toml:"transform"`
	Paths     PathsConfig     `toml:"paths"`
	Retention RetentionConfig `toml:"retention"`
	TTS       TTSConfig       `toml:"tts"`
	Whisper   WhisperConfig   `toml:"whisper"`
}

// Default returns a configuration with every default filled in. Load and
// LoadFile decode on top of it, so keys absent from the file keep these values.
func Default() Config {
	cfg := Config{Prosody: prosody.DefaultOptions()}
	cfg.ApplyDefaults()

	return cfg
}

// Load loads the configuration for the prosody-service.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// LoadFile reads a TOML configuration file directly.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()

	decodeErr := toml.Unmarshal(data, &cfg)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, decodeErr)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills empty strings and non-positive durations.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.URL, DEFAULT_NATS_URL)
	setString(&c.NATS.ProsodySubject, DEFAULT_PROSODY_SUBJECT)
	setString(&c.NATS.TranscribeSubject, DEFAULT_TRANSCRIBE_SUBJECT)
	setString(&c.NATS.SynthesizeSubject, DEFAULT_SYNTHESIZE_SUBJECT)
	setString(&c.NATS.SpeechTypesSubject, DEFAULT_SPEECH_TYPES_SUBJECT)
	setString(&c.NATS.RegisterSubject, DEFAULT_REGISTER_SUBJECT)
	setString(&c.NATS.DeleteSubject, DEFAULT_DELETE_SUBJECT)
	setString(&c.NATS.AudioObjectStoreBucket, DEFAULT_AUDIO_BUCKET)
	setInt(&c.NATS.HandlerTimeoutSeconds, DEFAULT_HANDLER_TIMEOUT_SECS)

	setString(&c.Transform.Kind, transform.KIND_INPROCESS)
	setString(&c.Transform.FFmpegPath, transform.DEFAULT_FFMPEG_BINARY)

	base := filepath.Join(os.TempDir(), "prosody-service")
	setString(&c.Paths.BaseLogsDir, filepath.Join(base, "logs"))
	setString(&c.Paths.UploadsDir, filepath.Join(base, "temp_uploads"))
	setString(&c.Paths.GeneratedDir, filepath.Join(base, "generated_audios"))
	setString(&c.Paths.ReferencesDir, filepath.Join(base, "references"))
	setString(&c.Paths.SpeechTypesFile, filepath.Join(base, DEFAULT_SPEECH_TYPES_FILE))

	setInt(&c.Retention.MaxAgeSeconds, DEFAULT_RETENTION_SECS)
	setInt(&c.Retention.IntervalSeconds, DEFAULT_RETENTION_SECS)

	setInt(&c.TTS.TimeoutSeconds, DEFAULT_TTS_TIMEOUT_SECS)
	setInt(&c.TTS.Workers, DEFAULT_TTS_WORKERS)

	setString(&c.Whisper.Model, DEFAULT_WHISPER_MODEL)
	setInt(&c.Whisper.TimeoutSeconds, DEFAULT_WHISPER_TIMEOUT_SECS)

	if c.Prosody.GlobalSpeedChange == 0 {
		c.Prosody.GlobalSpeedChange = 1
	}
}

// HandlerTimeout returns the per-message deadline of the worker.
func (c *Config) HandlerTimeout() time.Duration {
	return time.Duration(c.NATS.HandlerTimeoutSeconds) * time.Second
}

func setString(field *string, fallback string) {
	if *field == "" {
		*field = fallback
	}
}

func setInt(field *int, fallback int) {
	if *field <= 0 {
		*field = fallback
	}
}
