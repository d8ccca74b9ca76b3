package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/thomasrice/voicemode/internal/audio"
	"github.com/thomasrice/voicemode/internal/config"
)

type openAIRecognizer struct {
	cfg    config.TranscriberConfig
	apiKey string
	client *http.Client
	log    *slog.Logger
}

func newOpenAIRecognizer(cfg config.TranscriberConfig, log *slog.Logger) (Recognizer, error) {
	key, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}
	return &openAIRecognizer{
		cfg:    cfg,
		apiKey: key,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutS) * time.Second},
		log:    log.With(slog.String("component", "transcribe")),
	}, nil
}

// Transcribe uploads the clip and retries transient failures with exponential
// backoff. Auth and malformed-request rejections fail on the first attempt;
// every retry re-sends the full clip.
func (r *openAIRecognizer) Transcribe(ctx context.Context, clip audio.Clip) (Result, error) {
	wavData, err := audio.EncodeWAV(clip)
	if err != nil {
		return Result{}, fmt.Errorf("encode clip: %w", err)
	}

	attempt := 0
	operation := func() (Result, error) {
		attempt++
		res, err := r.post(ctx, wavData)
		if err != nil {
			if !retryable(err) {
				return Result{}, backoff.Permanent(err)
			}
			r.log.Warn("transcription attempt failed",
				slog.Int("attempt", attempt),
				slogError(err))
			return Result{}, err
		}
		return res, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(r.cfg.RetryInitialBackoffMS) * time.Millisecond
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(r.cfg.MaxRetries+1)))
	if err != nil {
		if retryable(err) {
			return Result{}, &RetryExhaustedError{Attempts: attempt, Err: err}
		}
		return Result{}, err
	}
	return res, nil
}

func (r *openAIRecognizer) post(ctx context.Context, wavData []byte) (Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "speech.wav")
	if err != nil {
		return Result{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return Result{}, fmt.Errorf("write form file: %w", err)
	}
	_ = writer.WriteField("model", r.cfg.Model)
	if r.cfg.Language != "" {
		_ = writer.WriteField("language", r.cfg.Language)
	}
	_ = writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(), body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &TransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, classifyStatus(resp.StatusCode, respBody)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}
	return Result{Text: out.Text}, nil
}

func (r *openAIRecognizer) endpoint() string {
	return strings.TrimRight(r.cfg.BaseURL, "/") + "/audio/transcriptions"
}

func classifyStatus(status int, body []byte) error {
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	message := ""
	if err := json.Unmarshal(body, &resp); err == nil {
		message = resp.Error.Message
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = fmt.Sprintf("transcription error (%d)", status)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &AuthError{Status: status, Message: message}
	}
	return &APIError{Status: status, Message: message}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
