// Package remote transcribes images with a hosted OpenAI-compatible vision
// model instead of the local runtime.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"handscribe/internal/common/fsutil"
	"handscribe/internal/pipeline"
)

// Instruction is the prompt sent with every image.
const Instruction = "Transcribe all handwritten text from this image accurately. " +
	"Preserve line breaks and formatting as closely as possible."

// EnvAPIKey is the environment variable holding the API key.
const EnvAPIKey = "OPENAI_API_KEY"

const defaultMaxTokens = 1000

// ErrNoAPIKey is returned when neither the environment nor the key file
// provides a credential.
var ErrNoAPIKey = errors.New("no API key: set " + EnvAPIKey + " or openai_api_key_file")

// Config selects the endpoint and credentials.
type Config struct {
	BaseURL    string
	Model      string
	APIKeyFile string
	MaxTokens  int
	Timeout    time.Duration
}

// Client implements the transcriber interface of the CLI.
type Client struct {
	cfg        Config
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// ResolveAPIKey reads the key from getenv, then from keyFile.
func ResolveAPIKey(getenv func(string) string, keyFile string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if k := strings.TrimSpace(getenv(EnvAPIKey)); k != "" {
		return k, nil
	}
	k, err := fsutil.ReadSecret(keyFile)
	if err != nil {
		return "", fmt.Errorf("read api key file: %w", err)
	}
	if k == "" {
		return "", ErrNoAPIKey
	}
	return k, nil
}

// New constructs a Client with the given key.
func New(cfg Config, apiKey string, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = pipeline.DefaultTimeout
	}
	return &Client{
		cfg:        cfg,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		log:        log,
	}
}

type imageURL struct {
	URL string `json:"url"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Transcribe sends img as a PNG data URL and returns the model's text. Errors
// are *pipeline.Failure values.
func (c *Client) Transcribe(ctx context.Context, img image.Image) (pipeline.Result, error) {
	start := time.Now()
	rgb, err := pipeline.NormalizeRGB(img)
	if err != nil {
		return pipeline.Result{}, &pipeline.Failure{Kind: pipeline.TranscriptionError, Stage: pipeline.StatePreprocessing, Message: err.Error(), Err: err}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, rgb); err != nil {
		return pipeline.Result{}, c.fail(pipeline.StateEncoding, fmt.Errorf("encode image: %w", err))
	}
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: Instruction},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())}},
			},
		}},
		MaxTokens: c.cfg.MaxTokens,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return pipeline.Result{}, c.fail(pipeline.StateEncoding, fmt.Errorf("marshal request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return pipeline.Result{}, c.fail(pipeline.StateGenerating, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return pipeline.Result{}, c.fail(pipeline.StateGenerating, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return pipeline.Result{}, c.fail(pipeline.StateGenerating, fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return pipeline.Result{}, c.fail(pipeline.StateDecoding, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return pipeline.Result{}, c.fail(pipeline.StateDecoding, errors.New("response has no choices"))
	}
	res := pipeline.Result{
		ID:        uuid.NewString(),
		Markdown:  strings.TrimSpace(out.Choices[0].Message.Content),
		NewTokens: out.Usage.CompletionTokens,
		Elapsed:   time.Since(start),
		Backend:   "openai",
	}
	c.log.Info().Str("id", res.ID).Str("model", c.cfg.Model).Dur("took", res.Elapsed).Msg("remote transcription done")
	return res, nil
}

func (c *Client) fail(stage pipeline.State, err error) *pipeline.Failure {
	c.log.Error().Err(err).Str("stage", string(stage)).Msg("remote transcription failed")
	return &pipeline.Failure{Kind: pipeline.TranscriptionError, Stage: stage, Message: err.Error(), Err: err}
}
