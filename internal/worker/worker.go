// Package worker provides a NATS worker that serves prosody, transcription
// and multi-style synthesis requests, along with the speech type registry and
// the removal of generated audio.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/prosody-service/internal/audio"
	"github.com/book-expert/prosody-service/internal/core"
	"github.com/book-expert/prosody-service/internal/prosody"
	"github.com/book-expert/prosody-service/internal/script"
	"github.com/book-expert/prosody-service/internal/speechtype"
)

const defaultHandleMessageTimeout = 120 * time.Second

var (
	// ErrConnectionNil indicates that no NATS connection was supplied.
	ErrConnectionNil = errors.New("nats connection cannot be nil")
	// ErrStoreNil indicates that no object store was supplied.
	ErrStoreNil = errors.New("object store cannot be nil")
	// ErrEngineNil indicates that no prosody engine was supplied.
	ErrEngineNil = errors.New("prosody engine cannot be nil")
	// ErrSubjectEmpty indicates that the prosody subject is empty.
	ErrSubjectEmpty = errors.New("prosody subject cannot be empty")
	// ErrAudioKeyEmpty indicates a request without a source object.
	ErrAudioKeyEmpty = errors.New("audio key cannot be empty")
	// ErrTextEmpty indicates a synthesis request without text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrDeleteNotAllowed indicates a delete request for an object the
	// service did not generate.
	ErrDeleteNotAllowed = errors.New("only generated audio can be deleted")
)

// Engine is the slice of the prosody engine the worker drives.
type Engine interface {
	Process(ctx context.Context, wave *audio.Waveform, directives []prosody.Directive, opts prosody.Options) (*audio.Waveform, error)
	ModifyBytes(ctx context.Context, wavData []byte, directives []prosody.Directive, opts prosody.Options) ([]byte, error)
}

// StyleGenerator renders styled scripts.
type StyleGenerator interface {
	Generate(ctx context.Context, text string, overrides map[string]string) (*audio.Waveform, []script.Segment, error)
}

// SpeechTypes is the slice of the speech type registry the worker serves.
type SpeechTypes interface {
	Refresh() (bool, error)
	List() []string
	Store(clipDir, name, fileName string, data []byte, refText string) (speechtype.Entry, error)
}

// Subjects names the request subjects. Only Prosody is required; an empty
// subject disables its handler.
type Subjects struct {
	Prosody     string
	Transcribe  string
	Synthesize  string
	SpeechTypes string
	Register    string
	Delete      string
}

// Dependencies are the collaborators of the worker. Transcriber, Generator
// and SpeechTypes are optional; their subjects are not served when nil.
// Registered clips are written to ReferencesDir.
type Dependencies struct {
	Store         core.ObjectStore
	Engine        Engine
	Transcriber   core.Transcriber
	Generator     StyleGenerator
	SpeechTypes   SpeechTypes
	ReferencesDir string
	Defaults      prosody.Options
	Language      string
	Timeout       time.Duration
}

// NatsWorker listens for requests on NATS subjects and replies to each one.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	deps           Dependencies
	subscriptions  []*nats.Subscription
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	deps Dependencies,
	log *logger.Logger,
) (*NatsWorker, error) {
	switch {
	case natsConnection == nil:
		return nil, ErrConnectionNil
	case deps.Store == nil:
		return nil, ErrStoreNil
	case deps.Engine == nil:
		return nil, ErrEngineNil
	case subjects.Prosody == "":
		return nil, ErrSubjectEmpty
	}

	if deps.Timeout <= 0 {
		deps.Timeout = defaultHandleMessageTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		deps:           deps,
		subscriptions:  nil,
		log:            log,
	}, nil
}

// Run subscribes, serves until ctx is cancelled and drains on the way out.
func (w *NatsWorker) Run(ctx context.Context) error {
	err := w.Start()
	if err != nil {
		return err
	}

	<-ctx.Done()

	return w.Stop()
}

// Start subscribes every enabled subject.
func (w *NatsWorker) Start() error {
	handlers := []struct {
		subject string
		enabled bool
		handler nats.MsgHandler
	}{
		{w.subjects.Prosody, true, w.handleProsody},
		{w.subjects.Transcribe, w.deps.Transcriber != nil, w.handleTranscribe},
		{w.subjects.Synthesize, w.deps.Generator != nil, w.handleSynthesize},
		{w.subjects.SpeechTypes, w.deps.SpeechTypes != nil, w.handleSpeechTypes},
		{w.subjects.Register, w.deps.SpeechTypes != nil, w.handleRegister},
		{w.subjects.Delete, true, w.handleDelete},
	}

	for _, entry := range handlers {
		if entry.subject == "" || !entry.enabled {
			continue
		}

		sub, err := w.natsConnection.Subscribe(entry.subject, entry.handler)
		if err != nil {
			_ = w.Stop()

			return fmt.Errorf("failed to subscribe to subject %s: %w", entry.subject, err)
		}

		w.subscriptions = append(w.subscriptions, sub)
		w.log.Info("Subscribed to %s", entry.subject)
	}

	return nil
}

// Stop drains every subscription.
func (w *NatsWorker) Stop() error {
	var drainErrs []error

	for _, sub := range w.subscriptions {
		drainErr := sub.Drain()
		if drainErr != nil {
			drainErrs = append(drainErrs, fmt.Errorf("failed to drain subscription %s: %w", sub.Subject, drainErr))
		}
	}

	w.subscriptions = nil

	return errors.Join(drainErrs...)
}

func (w *NatsWorker) handleProsody(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.deps.Timeout)
	defer cancel()

	w.respond(msg, w.processProsody(ctx, msg.Data))
}

func (w *NatsWorker) handleTranscribe(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.deps.Timeout)
	defer cancel()

	w.respond(msg, w.processTranscription(ctx, msg.Data))
}

func (w *NatsWorker) handleSynthesize(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.deps.Timeout)
	defer cancel()

	w.respond(msg, w.processSynthesis(ctx, msg.Data))
}

func (w *NatsWorker) handleSpeechTypes(msg *nats.Msg) {
	w.respond(msg, w.processSpeechTypes(msg.Data))
}

func (w *NatsWorker) handleRegister(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.deps.Timeout)
	defer cancel()

	w.respond(msg, w.processRegister(ctx, msg.Data))
}

func (w *NatsWorker) handleDelete(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.deps.Timeout)
	defer cancel()

	w.respond(msg, w.processDelete(ctx, msg.Data))
}

// respond marshals and publishes the reply event.
func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	if msg.Reply == "" {
		w.log.Warn("Message on %s has no reply subject, dropping result", msg.Subject)

		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event: %v", err)
	}
}

// requestOptions decodes per-request overrides on top of the defaults. The
// output path is always cleared because results go to the object store.
func (w *NatsWorker) requestOptions(raw json.RawMessage) (prosody.Options, error) {
	opts := w.deps.Defaults

	if len(raw) > 0 && string(raw) != "null" {
		err := json.Unmarshal(raw, &opts)
		if err != nil {
			return prosody.Options{}, fmt.Errorf("%w: %w", prosody.ErrInvalidOptions, err)
		}
	}

	opts.OutputPath = ""

	return opts, nil
}

func (w *NatsWorker) download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrAudioKeyEmpty
	}

	data, err := w.deps.Store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio for key '%s': %w", key, err)
	}

	return data, nil
}
