package synth_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/prosody-service/internal/synth"
)

const (
	testAudioData = "fake-wav-data"
	testTimeout   = 5 * time.Second
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synth-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func createSuccessHandler(t *testing.T, captured *synth.Request) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		validateHTTPRequest(t, r)

		decodeErr := json.NewDecoder(r.Body).Decode(captured)
		assert.NoError(t, decodeErr)

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = io.WriteString(w, testAudioData)
	}
}

func validateHTTPRequest(t *testing.T, r *http.Request) {
	t.Helper()

	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "/v1/generate/speech", r.URL.Path)
	assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	assert.Equal(t, "audio/wav", r.Header.Get("Accept"))
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	var captured synth.Request

	server := httptest.NewServer(createSuccessHandler(t, &captured))
	defer server.Close()

	client := synth.NewClient(server.URL+"/", testTimeout, newTestLogger(t))

	audioData, err := client.Synthesize(context.Background(), []byte("reference"), "ref words", "say this")
	require.NoError(t, err)

	assert.Equal(t, testAudioData, string(audioData))
	assert.Equal(t, "say this", captured.Text)
	assert.Equal(t, []byte("reference"), captured.ReferenceAudio)
	assert.Equal(t, "ref words", captured.ReferenceText)
	assert.Equal(t, "en", captured.Language)
}

func TestSynthesize_InputValidation(t *testing.T) {
	t.Parallel()

	client := synth.NewClient("http://127.0.0.1:1", testTimeout, newTestLogger(t))

	_, err := client.Synthesize(context.Background(), []byte("ref"), "", "   ")
	require.ErrorIs(t, err, synth.ErrTextEmpty)

	_, err = client.Synthesize(context.Background(), nil, "", "text")
	require.ErrorIs(t, err, synth.ErrReferenceEmpty)
}

func TestSynthesize_ServiceErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		handler     http.HandlerFunc
		errContains string
	}{
		{
			name: "structured error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"detail":"text too long","error_code":"TEXT_LIMIT"}`)
			},
			errContains: "text too long (code: TEXT_LIMIT)",
		},
		{
			name: "raw error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, "boom")
			},
			errContains: "body: boom",
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				_, _ = io.WriteString(w, "hello")
			},
			errContains: "unexpected content type",
		},
		{
			name: "empty audio",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "audio/wav")
			},
			errContains: "received empty audio data",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tc.handler)
			defer server.Close()

			client := synth.NewClient(server.URL, testTimeout, newTestLogger(t))

			_, err := client.Synthesize(context.Background(), []byte("ref"), "", "text")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errContains)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	var unhealthy atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)

		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client := synth.NewClient(server.URL, testTimeout, newTestLogger(t))
	require.NoError(t, client.HealthCheck(context.Background()))

	unhealthy.Store(true)

	err := client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
