// Package synth provides the client for the standalone voice-cloning TTS
// service.
//
// A request carries the reference clip, its transcript and the text to speak;
// the service answers with a WAV body. An empty reference text asks the
// service to transcribe the reference itself.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

const defaultLanguage = "en"

// Error messages.
const (
	errUnexpectedContentType   = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "TTS service returned non-OK status: %s, body: %s"
	errFmtCloseBody            = "failed to close TTS response body: %v"
)

var (
	// ErrTextEmpty is returned when there is no target text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrReferenceEmpty is returned when no reference audio is supplied.
	ErrReferenceEmpty = errors.New("reference audio cannot be empty")
	// ErrEmptyAudio is returned when the service answers with no audio.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// Client talks to the TTS HTTP service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	language   string
	log        *logger.Logger
}

// Request is the JSON payload of a generation call. ReferenceAudio is sent
// base64 encoded.
type Request struct {
	Text           string `json:"text"`
	ReferenceAudio []byte `json:"reference_audio"`
	ReferenceText  string `json:"reference_text"`
	Language       string `json:"language"`
}

// ErrorResponse is the structured error body of the service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewClient creates a client for the service at baseURL
// (e.g. "http://localhost:7860").
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		log:      log,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize speaks targetText in the voice of referenceAudio and returns WAV
// bytes.
func (c *Client) Synthesize(
	ctx context.Context,
	referenceAudio []byte,
	referenceText, targetText string,
) ([]byte, error) {
	if strings.TrimSpace(targetText) == "" {
		return nil, ErrTextEmpty
	}

	if len(referenceAudio) == 0 {
		return nil, ErrReferenceEmpty
	}

	requestBody, err := json.Marshal(Request{
		Text:           targetText,
		ReferenceAudio: referenceAudio,
		ReferenceText:  referenceText,
		Language:       c.language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeWAV) {
		return nil, fmt.Errorf(errUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the TTS service is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *Client) closeBody(resp *http.Response) {
	closeErr := resp.Body.Close()
	if closeErr != nil {
		c.log.Warn(errFmtCloseBody, closeErr)
	}
}

// parseErrorResponse prefers the structured error body and falls back to the
// raw text.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, strings.TrimSpace(string(body)))
}
