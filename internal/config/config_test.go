// Package config_test tests the configuration loading for the prosody-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/prosody-service/internal/config"
	"github.com/book-expert/prosody-service/internal/transform"
)

const tomlData = `
[nats]
url = "nats://127.0.0.1:4222"
prosody_subject = "audio.prosody"
transcribe_subject = "audio.transcribe"
synthesize_subject = "audio.synthesize"
audio_object_store_bucket = "AUDIO_FILES"
handler_timeout_seconds = 45

[prosody]
remove_silence = true
fade_duration = 0.02
cross_fade_duration = 0.05
global_speed_change = 1.1

[transform]
kind = "external"
ffmpeg_path = "/usr/bin/ffmpeg"

[paths]
base_logs_dir = "/var/log/prosody"
generated_dir = "/srv/generated"

[retention]
max_age_seconds = 7200

[tts]
url = "http://127.0.0.1:7860"

[whisper]
url = "http://127.0.0.1:9000"
language = "es"
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "audio.prosody", cfg.NATS.ProsodySubject)
	assert.Equal(t, "audio.transcribe", cfg.NATS.TranscribeSubject)
	assert.Equal(t, "audio.synthesize", cfg.NATS.SynthesizeSubject)
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, 45*time.Second, cfg.HandlerTimeout())
	assert.True(t, cfg.Prosody.RemoveSilence)
	assert.InEpsilon(t, 0.02, cfg.Prosody.FadeDuration, 0.001)
	assert.Equal(t, transform.KIND_EXTERNAL, cfg.Transform.Kind)
	assert.Equal(t, "/srv/generated", cfg.Paths.GeneratedDir)
	assert.Equal(t, 2*time.Hour, cfg.Retention.MaxAge())
	assert.Equal(t, "es", cfg.Whisper.Language)
}

func TestLoadFile_KeepsDefaultsForAbsentKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prosody.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlData), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.InEpsilon(t, 1.1, cfg.Prosody.GlobalSpeedChange, 0.001)
	assert.InEpsilon(t, 0.5, cfg.Prosody.MinSilenceLen, 0.001, "absent key keeps its default")
	assert.InEpsilon(t, 0.25, cfg.Prosody.KeepSilence, 0.001)
	assert.InEpsilon(t, -40.0, cfg.Prosody.SilenceThresh, 0.001)
	assert.Equal(t, time.Hour, cfg.Retention.Interval())
	assert.Equal(t, config.DEFAULT_WHISPER_MODEL, cfg.Whisper.Model)
	assert.Equal(t, config.DEFAULT_TTS_WORKERS, cfg.TTS.Workers)
	assert.NotEmpty(t, cfg.Paths.UploadsDir)
	assert.NotEmpty(t, cfg.Paths.ReferencesDir)
	assert.NotEqual(t, cfg.Paths.UploadsDir, cfg.Paths.ReferencesDir, "reference clips live outside the swept uploads")
	assert.Equal(t, "/var/log/prosody", cfg.Paths.BaseLogsDir)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[nats\nurl="), 0o600))

	_, err = config.LoadFile(path)
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	assert.Equal(t, config.DEFAULT_NATS_URL, cfg.NATS.URL)
	assert.Equal(t, config.DEFAULT_PROSODY_SUBJECT, cfg.NATS.ProsodySubject)
	assert.Equal(t, config.DEFAULT_SPEECH_TYPES_SUBJECT, cfg.NATS.SpeechTypesSubject)
	assert.Equal(t, config.DEFAULT_REGISTER_SUBJECT, cfg.NATS.RegisterSubject)
	assert.Equal(t, config.DEFAULT_DELETE_SUBJECT, cfg.NATS.DeleteSubject)
	assert.Equal(t, transform.KIND_INPROCESS, cfg.Transform.Kind)
	assert.InDelta(t, 1.0, cfg.Prosody.GlobalSpeedChange, 0)
	require.NoError(t, cfg.Prosody.Validate())
}
