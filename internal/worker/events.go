package worker

import (
	"encoding/json"

	"github.com/book-expert/events"

	"github.com/book-expert/prosody-service/internal/core"
	"github.com/book-expert/prosody-service/internal/prosody"
	"github.com/book-expert/prosody-service/internal/script"
)

// ProsodyRequestedEvent asks for the modifications to be applied to the WAV
// stored under AudioKey. Options, when present, override the configured
// defaults key by key.
type ProsodyRequestedEvent struct {
	Header        events.EventHeader `json:"header"`
	AudioKey      string             `json:"audio_key"`
	Modifications []prosody.Record   `json:"modifications"`
	Options       json.RawMessage    `json:"options,omitempty"`
}

// ProsodyCompletedEvent is the reply to a ProsodyRequestedEvent.
type ProsodyCompletedEvent struct {
	Header   events.EventHeader `json:"header"`
	Success  bool               `json:"success"`
	AudioKey string             `json:"audio_key,omitempty"`
	Message  string             `json:"message,omitempty"`
	Stage    prosody.Stage      `json:"stage,omitempty"`
}

// TranscriptionRequestedEvent asks for word timings of the WAV under AudioKey.
type TranscriptionRequestedEvent struct {
	Header   events.EventHeader `json:"header"`
	AudioKey string             `json:"audio_key"`
	Language string             `json:"language,omitempty"`
}

// TranscriptionCompletedEvent carries the words and their "(1.23) word"
// rendering.
type TranscriptionCompletedEvent struct {
	Header  events.EventHeader `json:"header"`
	Success bool               `json:"success"`
	Words   []core.Word        `json:"words,omitempty"`
	Text    string             `json:"text,omitempty"`
	Message string             `json:"message,omitempty"`
}

// SynthesisRequestedEvent asks for a styled script to be spoken. SpeedChange
// and RemoveSilence post-process the joined audio with the prosody engine.
type SynthesisRequestedEvent struct {
	Header           events.EventHeader `json:"header"`
	Text             string             `json:"text"`
	RefTextOverrides map[string]string  `json:"ref_text_overrides,omitempty"`
	SpeedChange      float64            `json:"speed_change,omitempty"`
	RemoveSilence    bool               `json:"remove_silence,omitempty"`
}

// SynthesisCompletedEvent is the reply to a SynthesisRequestedEvent.
type SynthesisCompletedEvent struct {
	Header   events.EventHeader `json:"header"`
	Success  bool               `json:"success"`
	AudioKey string             `json:"audio_key,omitempty"`
	Segments []script.Segment   `json:"segments,omitempty"`
	Duration float64            `json:"duration,omitempty"`
	Message  string             `json:"message,omitempty"`
}

// SpeechTypesRequestedEvent asks for the registered speech type names.
type SpeechTypesRequestedEvent struct {
	Header events.EventHeader `json:"header"`
}

// SpeechTypesListedEvent is the reply to a SpeechTypesRequestedEvent.
type SpeechTypesListedEvent struct {
	Header      events.EventHeader `json:"header"`
	Success     bool               `json:"success"`
	SpeechTypes []string           `json:"speech_types"`
	Message     string             `json:"message,omitempty"`
}

// SpeechTypeRegisterRequestedEvent registers the clip stored under AudioKey
// as a reference voice. SpeechType defaults to the Regular style and
// FileName to the base name of AudioKey.
type SpeechTypeRegisterRequestedEvent struct {
	Header     events.EventHeader `json:"header"`
	SpeechType string             `json:"speech_type,omitempty"`
	AudioKey   string             `json:"audio_key"`
	FileName   string             `json:"file_name,omitempty"`
	RefText    string             `json:"ref_text,omitempty"`
}

// SpeechTypeRegisteredEvent is the reply to a SpeechTypeRegisterRequestedEvent.
type SpeechTypeRegisteredEvent struct {
	Header     events.EventHeader `json:"header"`
	Success    bool               `json:"success"`
	SpeechType string             `json:"speech_type,omitempty"`
	FilePath   string             `json:"file_path,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// AudioDeleteRequestedEvent removes a generated object from the store.
type AudioDeleteRequestedEvent struct {
	Header   events.EventHeader `json:"header"`
	AudioKey string             `json:"audio_key"`
}

// AudioDeletedEvent is the reply to an AudioDeleteRequestedEvent.
type AudioDeletedEvent struct {
	Header  events.EventHeader `json:"header"`
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
}
