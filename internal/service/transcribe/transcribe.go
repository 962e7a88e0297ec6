package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config tunes the transcription client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Service converts recorded audio to text via an OpenAI-style
// transcription endpoint. Each request builds its multipart payload in
// memory, so concurrent calls never share a resource.
type Service struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewService configures the transcription client.
func NewService(cfg Config) *Service {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// result mirrors the transcription endpoint's response body.
type result struct {
	Text string `json:"text"`
}

// Transcribe sends the audio payload and returns the recognized text.
// The part's filename and content type matter: the upstream rejects
// payloads whose MIME type it cannot determine.
func (s *Service) Transcribe(ctx context.Context, audio []byte, filename, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build multipart payload: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	if err := writer.WriteField("model", s.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call transcription api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription api status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return out.Text, nil
}
