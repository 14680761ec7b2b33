// Package worker_test tests the NATS worker for the prosody service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/prosody-service/internal/audio"
	"github.com/book-expert/prosody-service/internal/core"
	"github.com/book-expert/prosody-service/internal/prosody"
	"github.com/book-expert/prosody-service/internal/script"
	"github.com/book-expert/prosody-service/internal/speechtype"
	"github.com/book-expert/prosody-service/internal/transform"
	"github.com/book-expert/prosody-service/internal/worker"
)

const (
	testRate           = 16000
	prosodySubject     = "test.prosody"
	transcribeSubject  = "test.transcribe"
	synthesizeSubject  = "test.synthesize"
	speechTypesSubject = "test.speech_types"
	registerSubject    = "test.register"
	deleteSubject      = "test.delete"
	testRequestTimeout = 10 * time.Second
)

var (
	errMockDownload = errors.New("mock download error")
	errMockUpload   = errors.New("mock upload error")
)

// mockObjectStore is an in-memory ObjectStore.
type mockObjectStore struct {
	mu                 sync.Mutex
	objects            map[string][]byte
	uploadShouldFail   bool
	downloadShouldFail bool
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte)}
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	data, ok := m.objects[key]
	if !ok {
		return nil, errMockDownload
	}

	return data, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploadShouldFail {
		return errMockUpload
	}

	m.objects[key] = data

	return nil
}

func (m *mockObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

func (m *mockObjectStore) get(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.objects[key]
}

// mockTranscriber returns fixed words.
type mockTranscriber struct {
	mu       sync.Mutex
	language string
}

func (m *mockTranscriber) Transcribe(_ context.Context, _ []byte, language string) ([]core.Word, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.language = language

	return []core.Word{{Text: "hola", Start: 0.5, End: 0.9}, {Text: "mundo", Start: 1.0, End: 1.4}}, nil
}

func (m *mockTranscriber) lastLanguage() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.language
}

// mockGenerator returns one second of tone per call.
type mockGenerator struct {
	mu        sync.Mutex
	overrides map[string]string
	err       error
}

func (m *mockGenerator) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.err = err
}

func (m *mockGenerator) lastOverrides() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.overrides
}

func (m *mockGenerator) Generate(_ context.Context, text string, overrides map[string]string) (*audio.Waveform, []script.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, nil, m.err
	}

	m.overrides = overrides

	wave, err := audio.NewWaveform(toneSamples(1.0), testRate)

	return wave, script.Parse(text), err
}

func toneSamples(seconds float64) []float64 {
	samples := make([]float64, int(seconds*testRate))
	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/testRate)
	}

	return samples
}

func encodedTone(t *testing.T, seconds float64) []byte {
	t.Helper()

	wave, err := audio.NewWaveform(toneSamples(seconds), testRate)
	require.NoError(t, err)

	data, err := audio.EncodeBytes(wave)
	require.NoError(t, err)

	return data
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

type fixture struct {
	store       *mockObjectStore
	transcriber *mockTranscriber
	generator   *mockGenerator
	registry    *speechtype.Registry
	references  string
	conn        *nats.Conn
}

func setupTest(t *testing.T) *fixture {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	dir := t.TempDir()

	registry, err := speechtype.Load(filepath.Join(dir, "speech_types.json"))
	require.NoError(t, err)

	f := &fixture{
		store:       newMockObjectStore(),
		transcriber: &mockTranscriber{},
		generator:   &mockGenerator{},
		registry:    registry,
		references:  filepath.Join(dir, "references"),
		conn:        createTestNatsClient(t),
	}

	engine := prosody.NewEngine(transform.NewInProcess(), t.TempDir(), testLogger)

	workerInstance, err := worker.NewNatsWorker(
		f.conn,
		worker.Subjects{
			Prosody:     prosodySubject,
			Transcribe:  transcribeSubject,
			Synthesize:  synthesizeSubject,
			SpeechTypes: speechTypesSubject,
			Register:    registerSubject,
			Delete:      deleteSubject,
		},
		worker.Dependencies{
			Store:         f.store,
			Engine:        engine,
			Transcriber:   f.transcriber,
			Generator:     f.generator,
			SpeechTypes:   f.registry,
			ReferencesDir: f.references,
			Defaults:      prosody.DefaultOptions(),
			Language:      "es",
			Timeout:       testRequestTimeout,
		},
		testLogger,
	)
	require.NoError(t, err)

	require.NoError(t, workerInstance.Start())
	t.Cleanup(func() { _ = workerInstance.Stop() })

	return f
}

func testHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}

func request(t *testing.T, conn *nats.Conn, subject string, event, reply any) {
	t.Helper()

	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	replyMsg, err := conn.Request(subject, eventData, testRequestTimeout)
	require.NoError(t, err, "Request should succeed and receive a reply")

	require.NoError(t, json.Unmarshal(replyMsg.Data, reply))
}

func floatPtr(v float64) *float64 {
	return &v
}

func TestProsody_Success(t *testing.T) {
	t.Parallel()

	f := setupTest(t)
	require.NoError(t, f.store.Upload(context.Background(), "source.wav", encodedTone(t, 2.0)))

	event := worker.ProsodyRequestedEvent{
		Header:   testHeader(),
		AudioKey: "source.wav",
		Modifications: []prosody.Record{
			{Type: "silence", StartTime: 1.0, Duration: floatPtr(0.5)},
		},
		Options: json.RawMessage(`{"fade_duration":0.01}`),
	}

	var reply worker.ProsodyCompletedEvent

	request(t, f.conn, prosodySubject, event, &reply)

	require.True(t, reply.Success, reply.Message)
	assert.Equal(t, event.Header.WorkflowID, reply.Header.WorkflowID)
	assert.Regexp(t, `^modified_[0-9a-f-]{36}\.wav$`, reply.AudioKey)

	output, err := audio.DecodeBytes(f.store.get(reply.AudioKey))
	require.NoError(t, err)
	assert.Equal(t, int(2.5*testRate), output.Len())
}

func TestProsody_ValidationFailureReplies(t *testing.T) {
	t.Parallel()

	f := setupTest(t)
	require.NoError(t, f.store.Upload(context.Background(), "source.wav", encodedTone(t, 2.0)))

	event := worker.ProsodyRequestedEvent{
		Header:   testHeader(),
		AudioKey: "source.wav",
		Modifications: []prosody.Record{
			{Type: "prosody", StartTime: 0.5, EndTime: floatPtr(1.5), SpeedChange: floatPtr(1.2)},
			{Type: "prosody", StartTime: 1.0, EndTime: floatPtr(1.8)},
		},
	}

	var reply worker.ProsodyCompletedEvent

	request(t, f.conn, prosodySubject, event, &reply)

	assert.False(t, reply.Success)
	assert.Equal(t, prosody.STAGE_VALIDATE, reply.Stage)
	assert.Contains(t, reply.Message, "modification 2")
	assert.Empty(t, reply.AudioKey)
}

func TestProsody_FailureStages(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		setup func(store *mockObjectStore)
		event worker.ProsodyRequestedEvent
		stage prosody.Stage
	}{
		{
			name:  "missing key",
			setup: func(*mockObjectStore) {},
			event: worker.ProsodyRequestedEvent{AudioKey: ""},
			stage: prosody.STAGE_LOAD,
		},
		{
			name:  "download failure",
			setup: func(store *mockObjectStore) { store.downloadShouldFail = true },
			event: worker.ProsodyRequestedEvent{AudioKey: "source.wav"},
			stage: prosody.STAGE_LOAD,
		},
		{
			name:  "not a wav",
			setup: func(store *mockObjectStore) { _ = store.Upload(context.Background(), "source.wav", []byte("garbage")) },
			event: worker.ProsodyRequestedEvent{AudioKey: "source.wav"},
			stage: prosody.STAGE_LOAD,
		},
		{
			name:  "bad options",
			setup: func(*mockObjectStore) {},
			event: worker.ProsodyRequestedEvent{AudioKey: "source.wav", Options: json.RawMessage(`{"fade_duration":"x"}`)},
			stage: prosody.STAGE_VALIDATE,
		},
		{
			name: "upload failure",
			setup: func(store *mockObjectStore) {
				store.uploadShouldFail = true
			},
			event: worker.ProsodyRequestedEvent{AudioKey: "source.wav"},
			stage: prosody.STAGE_ENCODE,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := setupTest(t)
			require.NoError(t, f.store.Upload(context.Background(), "source.wav", encodedTone(t, 0.5)))
			tc.setup(f.store)

			tc.event.Header = testHeader()

			var reply worker.ProsodyCompletedEvent

			request(t, f.conn, prosodySubject, tc.event, &reply)

			assert.False(t, reply.Success)
			assert.Equal(t, tc.stage, reply.Stage)
			assert.NotEmpty(t, reply.Message)
		})
	}
}

func TestProsody_MalformedJSONStillReplies(t *testing.T) {
	t.Parallel()

	f := setupTest(t)

	replyMsg, err := f.conn.Request(prosodySubject, []byte("{not json"), testRequestTimeout)
	require.NoError(t, err)

	var reply worker.ProsodyCompletedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, prosody.STAGE_VALIDATE, reply.Stage)
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	f := setupTest(t)
	require.NoError(t, f.store.Upload(context.Background(), "speech.wav", []byte("RIFF")))

	event := worker.TranscriptionRequestedEvent{Header: testHeader(), AudioKey: "speech.wav"}

	var reply worker.TranscriptionCompletedEvent

	request(t, f.conn, transcribeSubject, event, &reply)

	require.True(t, reply.Success, reply.Message)
	assert.Len(t, reply.Words, 2)
	assert.Equal(t, "(0.50) hola (1.00) mundo", reply.Text)
	assert.Equal(t, "es", f.transcriber.lastLanguage(), "falls back to the configured language")

	request(t, f.conn, transcribeSubject, worker.TranscriptionRequestedEvent{Header: testHeader(), AudioKey: "absent.wav"}, &reply)
	assert.False(t, reply.Success)
	assert.NotEmpty(t, reply.Message)
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	f := setupTest(t)

	event := worker.SynthesisRequestedEvent{
		Header:           testHeader(),
		Text:             "hello {Whisper} there",
		RefTextOverrides: map[string]string{"Whisper": "secret"},
	}

	var reply worker.SynthesisCompletedEvent

	request(t, f.conn, synthesizeSubject, event, &reply)

	require.True(t, reply.Success, reply.Message)
	assert.Regexp(t, `^multi_style_[0-9a-f-]{36}\.wav$`, reply.AudioKey)
	assert.Len(t, reply.Segments, 2)
	assert.InDelta(t, 1.0, reply.Duration, 1e-6)
	assert.Equal(t, "secret", f.generator.lastOverrides()["Whisper"])
	assert.NotEmpty(t, f.store.get(reply.AudioKey))
}

func TestSynthesize_SpeedChangeRunsEngine(t *testing.T) {
	t.Parallel()

	f := setupTest(t)

	event := worker.SynthesisRequestedEvent{Header: testHeader(), Text: "hello", SpeedChange: 2.0}

	var reply worker.SynthesisCompletedEvent

	request(t, f.conn, synthesizeSubject, event, &reply)

	require.True(t, reply.Success, reply.Message)
	assert.InDelta(t, 0.5, reply.Duration, 0.01)
}

func TestSynthesize_Failures(t *testing.T) {
	t.Parallel()

	f := setupTest(t)

	var reply worker.SynthesisCompletedEvent

	request(t, f.conn, synthesizeSubject, worker.SynthesisRequestedEvent{Header: testHeader(), Text: "  "}, &reply)
	assert.False(t, reply.Success)
	assert.Equal(t, worker.ErrTextEmpty.Error(), reply.Message)

	f.generator.fail(assert.AnError)

	request(t, f.conn, synthesizeSubject, worker.SynthesisRequestedEvent{Header: testHeader(), Text: "hi"}, &reply)
	assert.False(t, reply.Success)
	assert.Equal(t, assert.AnError.Error(), reply.Message)
}

func TestNewNatsWorker_Validation(t *testing.T) {
	t.Parallel()

	conn := createTestNatsClient(t)
	engine := prosody.NewEngine(transform.NewInProcess(), "", nil)
	subjects := worker.Subjects{Prosody: prosodySubject}

	_, err := worker.NewNatsWorker(nil, subjects, worker.Dependencies{Store: newMockObjectStore(), Engine: engine}, nil)
	require.ErrorIs(t, err, worker.ErrConnectionNil)

	_, err = worker.NewNatsWorker(conn, subjects, worker.Dependencies{Engine: engine}, nil)
	require.ErrorIs(t, err, worker.ErrStoreNil)

	_, err = worker.NewNatsWorker(conn, subjects, worker.Dependencies{Store: newMockObjectStore()}, nil)
	require.ErrorIs(t, err, worker.ErrEngineNil)

	_, err = worker.NewNatsWorker(conn, worker.Subjects{}, worker.Dependencies{Store: newMockObjectStore(), Engine: engine}, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}

func TestRun_DrainsOnCancel(t *testing.T) {
	t.Parallel()

	conn := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-run.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	workerInstance, err := worker.NewNatsWorker(
		conn,
		worker.Subjects{Prosody: prosodySubject},
		worker.Dependencies{Store: newMockObjectStore(), Engine: prosody.NewEngine(transform.NewInProcess(), "", testLogger)},
		testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestSpeechTypes_ListsVoicesRegisteredElsewhere(t *testing.T) {
	t.Parallel()

	f := setupTest(t)
	require.NoError(t, f.registry.Set("Regular", speechtype.Entry{Audio: "regular.wav"}))

	var reply worker.SpeechTypesListedEvent

	request(t, f.conn, speechTypesSubject, worker.SpeechTypesRequestedEvent{Header: testHeader()}, &reply)
	require.True(t, reply.Success, reply.Message)
	assert.Equal(t, []string{"Regular"}, reply.SpeechTypes)

	other, err := speechtype.Load(f.registry.Path())
	require.NoError(t, err)
	require.NoError(t, other.Set("Whisper", speechtype.Entry{Audio: "whisper.wav"}))

	request(t, f.conn, speechTypesSubject, worker.SpeechTypesRequestedEvent{Header: testHeader()}, &reply)
	require.True(t, reply.Success, reply.Message)
	assert.Equal(t, []string{"Regular", "Whisper"}, reply.SpeechTypes)
}

func TestRegister_StoresClipOutsideUploads(t *testing.T) {
	t.Parallel()

	f := setupTest(t)
	clip := encodedTone(t, 0.5)
	require.NoError(t, f.store.Upload(context.Background(), "sad clip.wav", clip))

	event := worker.SpeechTypeRegisterRequestedEvent{
		Header:     testHeader(),
		SpeechType: " Sad ",
		AudioKey:   "sad clip.wav",
		RefText:    "so sad",
	}

	var reply worker.SpeechTypeRegisteredEvent

	request(t, f.conn, registerSubject, event, &reply)
	require.True(t, reply.Success, reply.Message)
	assert.Equal(t, "Sad", reply.SpeechType)
	assert.Equal(t, f.references, filepath.Dir(reply.FilePath))

	stored, err := os.ReadFile(reply.FilePath)
	require.NoError(t, err)
	assert.Equal(t, clip, stored)

	entry, err := f.registry.Get("Sad")
	require.NoError(t, err)
	assert.Equal(t, "so sad", entry.RefText)

	request(t, f.conn, registerSubject, worker.SpeechTypeRegisterRequestedEvent{
		Header:   testHeader(),
		AudioKey: "sad clip.wav",
	}, &reply)
	require.True(t, reply.Success, reply.Message)
	assert.Equal(t, script.DEFAULT_STYLE, reply.SpeechType, "speech type defaults to the regular style")
}

func TestRegister_Failures(t *testing.T) {
	t.Parallel()

	f := setupTest(t)
	require.NoError(t, f.store.Upload(context.Background(), "notes.txt", []byte("text")))

	tests := []struct {
		name  string
		event worker.SpeechTypeRegisterRequestedEvent
	}{
		{name: "missing object", event: worker.SpeechTypeRegisterRequestedEvent{SpeechType: "Sad", AudioKey: "gone.wav"}},
		{name: "empty key", event: worker.SpeechTypeRegisterRequestedEvent{SpeechType: "Sad"}},
		{name: "unsupported file", event: worker.SpeechTypeRegisterRequestedEvent{SpeechType: "Sad", AudioKey: "notes.txt"}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			testCase.event.Header = testHeader()

			var reply worker.SpeechTypeRegisteredEvent

			request(t, f.conn, registerSubject, testCase.event, &reply)
			assert.False(t, reply.Success)
			assert.NotEmpty(t, reply.Message)
		})
	}

	assert.False(t, f.registry.Has("Sad"))
}

func TestDelete_OnlyGeneratedAudio(t *testing.T) {
	t.Parallel()

	f := setupTest(t)
	ctx := context.Background()

	require.NoError(t, f.store.Upload(ctx, "modified_output.wav", []byte("a")))
	require.NoError(t, f.store.Upload(ctx, "multi_style_output.wav", []byte("b")))
	require.NoError(t, f.store.Upload(ctx, "source.wav", []byte("c")))

	var reply worker.AudioDeletedEvent

	for _, key := range []string{"modified_output.wav", "multi_style_output.wav"} {
		request(t, f.conn, deleteSubject, worker.AudioDeleteRequestedEvent{Header: testHeader(), AudioKey: key}, &reply)
		require.True(t, reply.Success, reply.Message)
		assert.Nil(t, f.store.get(key))
	}

	for _, key := range []string{"source.wav", "modified_/../source.wav", ""} {
		request(t, f.conn, deleteSubject, worker.AudioDeleteRequestedEvent{Header: testHeader(), AudioKey: key}, &reply)
		assert.False(t, reply.Success, key)
	}

	assert.Equal(t, []byte("c"), f.store.get("source.wav"))
}
