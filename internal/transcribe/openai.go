package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
)

// OpenAIProvider transcribes audio through the provider's
// transcription endpoint. Eino covers chat models only, so this
// speaks the audio API directly.
type OpenAIProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	// mediaBase resolves bare file references to a download URL.
	mediaBase string
}

func NewOpenAIProvider(baseURL, apiKey, model, mediaBase string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIProvider{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		mediaBase:  strings.TrimRight(mediaBase, "/"),
	}
}

type providerErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

type verboseTranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, fileRef string) (Result, error) {
	audio, name, err := p.fetchAudio(ctx, fileRef)
	if err != nil {
		return Result{}, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return Result{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Result{}, fmt.Errorf("write upload form: %w", err)
	}
	_ = writer.WriteField("model", p.model)
	_ = writer.WriteField("response_format", "verbose_json")
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("close upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call transcription api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errBody providerErrorBody
		_ = json.Unmarshal(raw, &errBody)
		return Result{}, &ProviderError{
			StatusCode: resp.StatusCode,
			Code:       errBody.Error.Code,
			Message:    firstNonEmpty(errBody.Error.Message, string(raw)),
		}
	}

	var decoded verboseTranscription
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode transcription: %w", err)
	}

	chunks := make([]Chunk, 0, len(decoded.Segments))
	for i, seg := range decoded.Segments {
		idx := i
		dur := seg.End - seg.Start
		chunks = append(chunks, Chunk{
			Text:            strings.TrimSpace(seg.Text),
			SegmentIndex:    &idx,
			DurationSeconds: &dur,
		})
	}
	return Result{Text: strings.TrimSpace(decoded.Text), Chunks: chunks}, nil
}

// fetchAudio downloads the voice file. A fileRef that is already a
// URL is used as-is; bare references resolve against the media base.
func (p *OpenAIProvider) fetchAudio(ctx context.Context, fileRef string) ([]byte, string, error) {
	url := fileRef
	if !strings.HasPrefix(fileRef, "http://") && !strings.HasPrefix(fileRef, "https://") {
		if p.mediaBase == "" {
			return nil, "", fmt.Errorf("no media base configured for file reference %q", fileRef)
		}
		url = p.mediaBase + "/" + fileRef
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download audio: unexpected status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read audio body: %w", err)
	}

	name := path.Base(url)
	if name == "" || name == "." || name == "/" {
		name = "voice.webm"
	}
	return audio, name, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
