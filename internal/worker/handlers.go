package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/book-expert/prosody-service/internal/audio"
	"github.com/book-expert/prosody-service/internal/multistyle"
	"github.com/book-expert/prosody-service/internal/prosody"
	"github.com/book-expert/prosody-service/internal/script"
	"github.com/book-expert/prosody-service/internal/whisper"
)

func (w *NatsWorker) processProsody(ctx context.Context, data []byte) *ProsodyCompletedEvent {
	var event ProsodyRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal prosody request: %v", err)

		return prosodyFailure(event, prosody.STAGE_VALIDATE, fmt.Errorf("failed to unmarshal event: %w", err))
	}

	w.log.Info("Prosody request %s: %d modifications on %s",
		event.Header.WorkflowID, len(event.Modifications), event.AudioKey)

	opts, err := w.requestOptions(event.Options)
	if err != nil {
		return prosodyFailure(event, prosody.STAGE_VALIDATE, err)
	}

	directives, err := prosody.DirectivesFromRecords(event.Modifications)
	if err != nil {
		return prosodyFailure(event, prosody.STAGE_VALIDATE, err)
	}

	source, err := w.download(ctx, event.AudioKey)
	if err != nil {
		w.log.Error("Prosody request %s: %v", event.Header.WorkflowID, err)

		return prosodyFailure(event, prosody.STAGE_LOAD, err)
	}

	output, err := w.deps.Engine.ModifyBytes(ctx, source, directives, opts)
	if err != nil {
		w.log.Error("Prosody request %s failed: %v", event.Header.WorkflowID, err)

		result := prosody.ResultFromError(err)

		return &ProsodyCompletedEvent{
			Header:   event.Header,
			Success:  false,
			AudioKey: "",
			Message:  result.Message,
			Stage:    result.Stage,
		}
	}

	audioKey := prosody.OUTPUT_PREFIX + uuid.NewString() + ".wav"

	err = w.deps.Store.Upload(ctx, audioKey, output)
	if err != nil {
		w.log.Error("Failed to upload audio data for key '%s': %v", audioKey, err)

		return prosodyFailure(event, prosody.STAGE_ENCODE, err)
	}

	w.log.Info("Prosody request %s stored as %s", event.Header.WorkflowID, audioKey)

	return &ProsodyCompletedEvent{
		Header:   event.Header,
		Success:  true,
		AudioKey: audioKey,
		Message:  "audio modified",
		Stage:    "",
	}
}

func prosodyFailure(event ProsodyRequestedEvent, stage prosody.Stage, err error) *ProsodyCompletedEvent {
	return &ProsodyCompletedEvent{
		Header:   event.Header,
		Success:  false,
		AudioKey: "",
		Message:  err.Error(),
		Stage:    stage,
	}
}

func (w *NatsWorker) processTranscription(ctx context.Context, data []byte) *TranscriptionCompletedEvent {
	var event TranscriptionRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return &TranscriptionCompletedEvent{Header: event.Header, Message: fmt.Sprintf("failed to unmarshal event: %v", err)}
	}

	source, err := w.download(ctx, event.AudioKey)
	if err != nil {
		w.log.Error("Transcription request %s: %v", event.Header.WorkflowID, err)

		return &TranscriptionCompletedEvent{Header: event.Header, Message: err.Error()}
	}

	language := event.Language
	if language == "" {
		language = w.deps.Language
	}

	words, err := w.deps.Transcriber.Transcribe(ctx, source, language)
	if err != nil {
		w.log.Error("Transcription request %s failed: %v", event.Header.WorkflowID, err)

		return &TranscriptionCompletedEvent{Header: event.Header, Message: err.Error()}
	}

	w.log.Info("Transcription request %s: %d words", event.Header.WorkflowID, len(words))

	return &TranscriptionCompletedEvent{
		Header:  event.Header,
		Success: true,
		Words:   words,
		Text:    whisper.Format(words),
		Message: "",
	}
}

func (w *NatsWorker) processSynthesis(ctx context.Context, data []byte) *SynthesisCompletedEvent {
	var event SynthesisRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return &SynthesisCompletedEvent{Header: event.Header, Message: fmt.Sprintf("failed to unmarshal event: %v", err)}
	}

	if strings.TrimSpace(event.Text) == "" {
		return &SynthesisCompletedEvent{Header: event.Header, Message: ErrTextEmpty.Error()}
	}

	wave, segments, err := w.deps.Generator.Generate(ctx, event.Text, event.RefTextOverrides)
	if err != nil {
		w.log.Error("Synthesis request %s failed: %v", event.Header.WorkflowID, err)

		return &SynthesisCompletedEvent{Header: event.Header, Message: err.Error()}
	}

	wave, err = w.postProcess(ctx, wave, event)
	if err != nil {
		w.log.Error("Synthesis request %s post-processing failed: %v", event.Header.WorkflowID, err)

		return &SynthesisCompletedEvent{Header: event.Header, Message: err.Error()}
	}

	encoded, err := audio.EncodeBytes(wave)
	if err != nil {
		return &SynthesisCompletedEvent{Header: event.Header, Message: err.Error()}
	}

	audioKey := multistyle.OUTPUT_PREFIX + uuid.NewString() + ".wav"

	err = w.deps.Store.Upload(ctx, audioKey, encoded)
	if err != nil {
		w.log.Error("Failed to upload audio data for key '%s': %v", audioKey, err)

		return &SynthesisCompletedEvent{Header: event.Header, Message: err.Error()}
	}

	w.log.Info("Synthesis request %s stored as %s (%.2fs)", event.Header.WorkflowID, audioKey, wave.Seconds())

	return &SynthesisCompletedEvent{
		Header:   event.Header,
		Success:  true,
		AudioKey: audioKey,
		Segments: segments,
		Duration: wave.Seconds(),
		Message:  "",
	}
}

// postProcess runs the joined script through the engine when the request
// asks for a tempo change or silence removal.
func (w *NatsWorker) postProcess(ctx context.Context, wave *audio.Waveform, event SynthesisRequestedEvent) (*audio.Waveform, error) {
	speed := event.SpeedChange
	if speed == 0 {
		speed = 1
	}

	if speed == 1 && !event.RemoveSilence {
		return wave, nil
	}

	opts := w.deps.Defaults
	opts.GlobalSpeedChange = speed
	opts.GlobalPitchChange = 0
	opts.RemoveSilence = event.RemoveSilence
	opts.OutputPath = ""

	processed, err := w.deps.Engine.Process(ctx, wave, nil, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to post-process script audio: %w", err)
	}

	return processed, nil
}

func (w *NatsWorker) processSpeechTypes(data []byte) *SpeechTypesListedEvent {
	var event SpeechTypesRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return &SpeechTypesListedEvent{Header: event.Header, Message: fmt.Sprintf("failed to unmarshal event: %v", err)}
	}

	_, refreshErr := w.deps.SpeechTypes.Refresh()
	if refreshErr != nil {
		w.log.Warn("Failed to reload speech types, listing the loaded set: %v", refreshErr)
	}

	return &SpeechTypesListedEvent{
		Header:      event.Header,
		Success:     true,
		SpeechTypes: w.deps.SpeechTypes.List(),
		Message:     "",
	}
}

func (w *NatsWorker) processRegister(ctx context.Context, data []byte) *SpeechTypeRegisteredEvent {
	var event SpeechTypeRegisterRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return &SpeechTypeRegisteredEvent{Header: event.Header, Message: fmt.Sprintf("failed to unmarshal event: %v", err)}
	}

	speechType := strings.TrimSpace(event.SpeechType)
	if speechType == "" {
		speechType = script.DEFAULT_STYLE
	}

	fileName := event.FileName
	if fileName == "" {
		fileName = path.Base(event.AudioKey)
	}

	clip, err := w.download(ctx, event.AudioKey)
	if err != nil {
		w.log.Error("Register request %s: %v", event.Header.WorkflowID, err)

		return &SpeechTypeRegisteredEvent{Header: event.Header, SpeechType: speechType, Message: err.Error()}
	}

	entry, err := w.deps.SpeechTypes.Store(w.deps.ReferencesDir, speechType, fileName, clip, event.RefText)
	if err != nil {
		w.log.Error("Failed to register speech type %s: %v", speechType, err)

		return &SpeechTypeRegisteredEvent{Header: event.Header, SpeechType: speechType, Message: err.Error()}
	}

	w.log.Info("Registered speech type %s from %s", speechType, entry.Audio)

	return &SpeechTypeRegisteredEvent{
		Header:     event.Header,
		Success:    true,
		SpeechType: speechType,
		FilePath:   entry.Audio,
		Message:    fmt.Sprintf("speech type %s registered", speechType),
	}
}

func (w *NatsWorker) processDelete(ctx context.Context, data []byte) *AudioDeletedEvent {
	var event AudioDeleteRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return &AudioDeletedEvent{Header: event.Header, Message: fmt.Sprintf("failed to unmarshal event: %v", err)}
	}

	if event.AudioKey == "" {
		return &AudioDeletedEvent{Header: event.Header, Message: ErrAudioKeyEmpty.Error()}
	}

	if !isGeneratedKey(event.AudioKey) {
		return &AudioDeletedEvent{
			Header:  event.Header,
			Message: fmt.Sprintf("%v: %s", ErrDeleteNotAllowed, event.AudioKey),
		}
	}

	err = w.deps.Store.Delete(ctx, event.AudioKey)
	if err != nil {
		w.log.Error("Failed to delete audio for key '%s': %v", event.AudioKey, err)

		return &AudioDeletedEvent{Header: event.Header, Message: err.Error()}
	}

	w.log.Info("Deleted %s", event.AudioKey)

	return &AudioDeletedEvent{Header: event.Header, Success: true, Message: "audio deleted"}
}

// isGeneratedKey reports whether key names an object this service wrote.
func isGeneratedKey(key string) bool {
	if strings.Contains(key, "/") {
		return false
	}

	return strings.HasPrefix(key, prosody.OUTPUT_PREFIX) || strings.HasPrefix(key, multistyle.OUTPUT_PREFIX)
}
