// Package whisper provides a Whisper transcription client that returns
// word-level timestamps.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/prosody-service/internal/core"
)

// DEFAULT_BASE_URL is the OpenAI-compatible transcription endpoint.
const DEFAULT_BASE_URL = "https://api.openai.com/v1/audio/transcriptions"

// Error messages.
const (
	errFailedToCreateFormFile  = "failed to create form file: %w"
	errFailedToCopyFileData    = "failed to copy file data: %w"
	errFailedToWriteModelField = "failed to write model field: %w"
	errFailedToWriteLangField  = "failed to write language field: %w"
	errFailedToWriteRespFormat = "failed to write response format field: %w"
	errFailedToWriteGranular   = "failed to write timestamp granularity field: %w"
	errFailedToCloseWriter     = "failed to close multipart writer: %w"
	errFailedToCreateRequest   = "failed to create request: %w"
	errFailedToCloseRespBody   = "failed to close response body: %v"
	errFailedToMakeRequest     = "failed to make request: %w"
	errAPIRequestFailed        = "API request failed with status %d: %s"
	errFailedToDecodeResponse  = "failed to decode response: %w"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
)

// Form field names.
const (
	formFieldFile           = "file"
	formFieldModel          = "model"
	formFieldLanguage       = "language"
	formFieldResponseFormat = "response_format"
	formFieldGranularities  = "timestamp_granularities[]"
	responseFormatVerbose   = "verbose_json"
	granularityWord         = "word"
	uploadFileName          = "audio.wav"
)

// ErrEmptyAudio is returned when there is nothing to transcribe.
var ErrEmptyAudio = errors.New("audio data cannot be empty")

// Client provides Whisper API client functionality.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	log        *logger.Logger
}

// Response is the verbose_json transcription payload. Word timings arrive
// either at the top level or nested in segments depending on the server.
type Response struct {
	Text     string      `json:"text"`
	Words    []core.Word `json:"words"`
	Segments []Segment   `json:"segments"`
}

// Segment is one recognised utterance.
type Segment struct {
	Text  string      `json:"text"`
	Start float64     `json:"start"`
	End   float64     `json:"end"`
	Words []core.Word `json:"words"`
}

// NewClient creates a new Whisper API client. An empty baseURL selects the
// hosted API; an empty apiKey sends no Authorization header.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DEFAULT_BASE_URL
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		log:     log,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Transcribe returns the word-level timestamps of wavData.
func (c *Client) Transcribe(ctx context.Context, wavData []byte, language string) ([]core.Word, error) {
	response, err := c.request(ctx, wavData, language)
	if err != nil {
		return nil, err
	}

	return response.WordList(), nil
}

// TranscribeText returns the plain transcript of wavData.
func (c *Client) TranscribeText(ctx context.Context, wavData []byte, language string) (string, error) {
	response, err := c.request(ctx, wavData, language)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(response.Text), nil
}

// WordList flattens the word timings of the response.
func (r *Response) WordList() []core.Word {
	if len(r.Words) > 0 {
		return r.Words
	}

	var words []core.Word

	for _, segment := range r.Segments {
		words = append(words, segment.Words...)
	}

	return words
}

// Format renders words as "(1.23) word (1.80) word".
func Format(words []core.Word) string {
	parts := make([]string, 0, len(words))

	for _, word := range words {
		text := strings.TrimSpace(word.Text)
		if text == "" {
			continue
		}

		parts = append(parts, "("+strconv.FormatFloat(word.Start, 'f', 2, 64)+") "+text)
	}

	return strings.Join(parts, " ")
}

func (c *Client) request(ctx context.Context, wavData []byte, language string) (*Response, error) {
	if len(wavData) == 0 {
		return nil, ErrEmptyAudio
	}

	body, contentType, err := c.buildForm(wavData, language)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
	if err != nil {
		return nil, fmt.Errorf(errFailedToCreateRequest, err)
	}

	if c.apiKey != "" {
		req.Header.Set(headerAuthorization, "Bearer "+c.apiKey)
	}

	req.Header.Set(headerContentType, contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFailedToMakeRequest, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.log.Warn(errFailedToCloseRespBody, closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf(errAPIRequestFailed, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var whisperResp Response

	decodeErr := json.NewDecoder(resp.Body).Decode(&whisperResp)
	if decodeErr != nil {
		return nil, fmt.Errorf(errFailedToDecodeResponse, decodeErr)
	}

	return &whisperResp, nil
}

func (c *Client) buildForm(wavData []byte, language string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, uploadFileName)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCreateFormFile, err)
	}

	_, err = part.Write(wavData)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCopyFileData, err)
	}

	err = writer.WriteField(formFieldModel, c.model)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToWriteModelField, err)
	}

	err = writer.WriteField(formFieldResponseFormat, responseFormatVerbose)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToWriteRespFormat, err)
	}

	err = writer.WriteField(formFieldGranularities, granularityWord)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToWriteGranular, err)
	}

	if language != "" {
		err = writer.WriteField(formFieldLanguage, language)
		if err != nil {
			return nil, "", fmt.Errorf(errFailedToWriteLangField, err)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf(errFailedToCloseWriter, closeErr)
	}

	return &buf, writer.FormDataContentType(), nil
}
