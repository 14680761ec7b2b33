package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/prosody-service/internal/audio"
	"github.com/book-expert/prosody-service/internal/prosody"
	"github.com/book-expert/prosody-service/internal/speechtype"
)

const testRate = 16000

// writeTestConfig points every path of the configuration into dir.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()

	document := `
[paths]
base_logs_dir = "` + filepath.Join(dir, "logs") + `"
uploads_dir = "` + filepath.Join(dir, "temp_uploads") + `"
generated_dir = "` + filepath.Join(dir, "generated_audios") + `"
references_dir = "` + filepath.Join(dir, "references") + `"
speech_types_file = "` + filepath.Join(dir, "speech_types.json") + `"
`
	path := filepath.Join(dir, "prosody.toml")
	require.NoError(t, os.WriteFile(path, []byte(document), 0o600))

	return path
}

func writeTone(t *testing.T, path string, seconds float64) {
	t.Helper()

	samples := make([]float64, int(seconds*testRate))
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*330*float64(i)/testRate)
	}

	wave, err := audio.NewWaveform(samples, testRate)
	require.NoError(t, err)
	require.NoError(t, audio.WriteFile(path, wave))
}

func TestSelectMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		want          mode
		expectedError string
	}{
		{name: "modify", args: []string{"--input", "a.wav", "--edits", "e.toml"}, want: modeModify},
		{name: "transcribe", args: []string{"--input", "a.wav", "--transcribe"}, want: modeTranscribe},
		{name: "register", args: []string{"--input", "a.wav", "--register", "Sad"}, want: modeRegister},
		{name: "unregister", args: []string{"--unregister", "Sad"}, want: modeUnregister},
		{name: "script", args: []string{"--script", "{Regular} hi"}, want: modeSynthesize},
		{name: "health", args: []string{"--health"}, want: modeHealth},
		{name: "missing input", args: []string{"--edits", "e.toml"}, expectedError: errInputRequired},
		{name: "missing edits", args: []string{"--input", "a.wav"}, expectedError: errEditsRequired},
		{name: "conflict", args: []string{"--health", "--transcribe"}, expectedError: errConflictingModes},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			flags, err := parseFlags(testCase.args)
			require.NoError(t, err)

			got, err := selectMode(flags)
			if testCase.expectedError != "" {
				require.EqualError(t, err, testCase.expectedError)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.want, got)
		})
	}
}

func TestParseFlags_Unknown(t *testing.T) {
	t.Parallel()

	_, err := parseFlags([]string{"--nope"})
	require.Error(t, err)
}

func TestReadEdits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "edits.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[[modifications]]\ntype = \"silence\"\nstart_time = 1.0\n"), 0o600))

	records, err := readEdits(tomlPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "silence", records[0].Type)

	jsonPath := filepath.Join(dir, "edits.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"type":"prosody","start_time":0,"end_time":1}]`), 0o600))

	records, err = readEdits(jsonPath)
	require.NoError(t, err)
	require.Len(t, records, 1)

	yamlPath := filepath.Join(dir, "edits.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("x"), 0o600))

	_, err = readEdits(yamlPath)
	require.Error(t, err)
}

func TestRun_ModifiesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)
	input := filepath.Join(dir, "in.wav")
	output := filepath.Join(dir, "out.wav")
	edits := filepath.Join(dir, "edits.toml")

	writeTone(t, input, 2.0)
	require.NoError(t, os.WriteFile(edits, []byte(`
[[modifications]]
type = "silence"
start_time = 1.0
duration = 0.25
`), 0o600))

	var stdout bytes.Buffer

	err := run(context.Background(), []string{
		"--config", configPath, "--input", input, "--edits", edits, "--output", output,
	}, &stdout)
	require.NoError(t, err)

	var result prosody.Result

	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, output, result.OutputPath)

	wave, err := audio.LoadFile(output)
	require.NoError(t, err)
	assert.Equal(t, int(2.25*testRate), wave.Len())
}

func TestRun_ReportsFailedStage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)
	input := filepath.Join(dir, "in.wav")
	edits := filepath.Join(dir, "edits.json")

	writeTone(t, input, 1.0)
	require.NoError(t, os.WriteFile(edits, []byte(`[{"type":"silence","start_time":5}]`), 0o600))

	var stdout bytes.Buffer

	err := run(context.Background(), []string{"--config", configPath, "--input", input, "--edits", edits}, &stdout)
	require.Error(t, err)

	var result prosody.Result

	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, prosody.STAGE_VALIDATE, result.Stage)
}

func TestRun_RegistersSpeechType(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)
	clip := filepath.Join(dir, "clip.wav")
	writeTone(t, clip, 0.5)

	var stdout bytes.Buffer

	err := run(context.Background(), []string{
		"--config", configPath, "--input", clip, "--register", "Regular", "--ref-text", "hello there",
	}, &stdout)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), `"success": true`)

	registry, err := speechtype.Load(filepath.Join(dir, "speech_types.json"))
	require.NoError(t, err)

	entry, err := registry.Get("Regular")
	require.NoError(t, err)
	assert.Equal(t, "hello there", entry.RefText)
	assert.Equal(t, filepath.Join(dir, "references"), filepath.Dir(entry.Audio))

	stdout.Reset()

	err = run(context.Background(), []string{"--config", configPath, "--unregister", "Regular"}, &stdout)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), `"success": true`)
	assert.NoFileExists(t, entry.Audio)

	registry, err = speechtype.Load(filepath.Join(dir, "speech_types.json"))
	require.NoError(t, err)
	assert.False(t, registry.Has("Regular"))

	err = run(context.Background(), []string{"--config", configPath, "--unregister", "Regular"}, &bytes.Buffer{})
	require.ErrorIs(t, err, speechtype.ErrSpeechTypeNotFound)
}

func TestRun_SynthesisNeedsTTS(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	err := run(context.Background(), []string{"--config", configPath, "--script", "hi"}, &bytes.Buffer{})
	require.EqualError(t, err, errTTSNotConfigured)

	err = run(context.Background(), []string{"--config", configPath, "--health"}, &bytes.Buffer{})
	require.EqualError(t, err, errTTSNotConfigured)
}
