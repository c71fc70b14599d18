package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultTranscriptionModel is the Whisper model Groq serves.
const DefaultTranscriptionModel = "whisper-large-v3"

// Transcribe converts an audio file to text through the
// /audio/transcriptions endpoint of ep. ep.Model defaults to
// DefaultTranscriptionModel.
func (c *OpenAIClient) Transcribe(ctx context.Context, ep Endpoint, path string) (string, error) {
	model := ep.Model
	if model == "" {
		model = DefaultTranscriptionModel
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy file to form: %w", err)
	}
	_ = writer.WriteField("model", model)
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close form writer: %w", err)
	}

	url := strings.TrimSuffix(ep.APIBase, "/") + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Transcriber turns voice notes into text for the chat channels.
type Transcriber struct {
	client *OpenAIClient
	ep     Endpoint
}

// Transcribe converts the audio file at path to text.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	return t.client.Transcribe(ctx, t.ep, path)
}

// Transcriber returns a speech-to-text client on the Groq credentials, or
// nil when Groq has no key.
func (r *Router) Transcriber() *Transcriber {
	s, _ := SpecByName("groq")
	c, ok := r.credentials(s)
	if !ok {
		return nil
	}
	base := c.APIBase
	if base == "" {
		base = s.DefaultAPIBase
	}
	return &Transcriber{
		client: r.client,
		ep:     Endpoint{Provider: s.Name, APIKey: c.APIKey, APIBase: base},
	}
}
