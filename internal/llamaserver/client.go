// Package llamaserver runs the vision-language model in a llama.cpp server and
// exposes it as a pipeline.Backend.
package llamaserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"handscribe/internal/pipeline"
)

const defaultEOS = "<|im_end|>"

// Client talks to a running llama-server. It implements pipeline.Backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	eos     string
	special map[int]struct{}

	// stop terminates the owned process; nil when attached to an external server.
	stop func() error
}

var _ pipeline.Backend = (*Client)(nil)

func newHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	return &http.Client{Transport: tr, Timeout: 0}
}

// Connect attaches to the server at baseURL, which must already be healthy,
// and resolves the EOS token and control-token ids.
func Connect(ctx context.Context, baseURL string, log zerolog.Logger) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(),
		log:        log,
	}
	if err := c.Health(ctx); err != nil {
		return nil, err
	}
	if err := c.init(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) init(ctx context.Context) error {
	var props struct {
		EOSToken string `json:"eos_token"`
	}
	if err := c.getJSON(ctx, "/props", &props); err != nil {
		return fmt.Errorf("read props: %w", err)
	}
	c.eos = props.EOSToken
	if c.eos == "" {
		c.eos = defaultEOS
	}
	c.special = make(map[int]struct{}, len(pipeline.SpecialTokens))
	for _, tok := range pipeline.SpecialTokens {
		ids, err := c.Tokenize(ctx, tok)
		if err != nil {
			return fmt.Errorf("resolve control token %s: %w", tok, err)
		}
		if len(ids) == 1 {
			c.special[ids[0]] = struct{}{}
		}
	}
	c.log.Debug().Str("eos", c.eos).Int("control_tokens", len(c.special)).Msg("llama-server tokenizer ready")
	return nil
}

// Health returns nil once the server has loaded its model.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Path: "/health", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return nil
}

// EOS implements pipeline.Tokenizer.
func (c *Client) EOS() string { return c.eos }

// IsSpecial implements pipeline.Tokenizer.
func (c *Client) IsSpecial(id int) bool {
	_, ok := c.special[id]
	return ok
}

type tokenizeRequest struct {
	Content      string `json:"content"`
	AddSpecial   bool   `json:"add_special"`
	ParseSpecial bool   `json:"parse_special"`
}

type tokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

// Tokenize implements pipeline.Tokenizer. Control-token text is parsed into
// single ids and no BOS is added.
func (c *Client) Tokenize(ctx context.Context, text string) ([]int, error) {
	var out tokenizeResponse
	if err := c.postJSON(ctx, "/tokenize", tokenizeRequest{Content: text, ParseSpecial: true}, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

type detokenizeRequest struct {
	Tokens []int `json:"tokens"`
}

type detokenizeResponse struct {
	Content string `json:"content"`
}

// Detokenize implements pipeline.Tokenizer.
func (c *Client) Detokenize(ctx context.Context, ids []int) (string, error) {
	var out detokenizeResponse
	if err := c.postJSON(ctx, "/detokenize", detokenizeRequest{Tokens: ids}, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

type multimodalPrompt struct {
	PromptString   string   `json:"prompt_string"`
	MultimodalData []string `json:"multimodal_data,omitempty"`
}

type completionRequest struct {
	Prompt       multimodalPrompt `json:"prompt"`
	NPredict     int              `json:"n_predict"`
	Temperature  float64          `json:"temperature"`
	TopP         float64          `json:"top_p"`
	TopK         int              `json:"top_k,omitempty"`
	Stop         []string         `json:"stop,omitempty"`
	ReturnTokens bool             `json:"return_tokens"`
	Stream       bool             `json:"stream"`
	CachePrompt  bool             `json:"cache_prompt"`
}

type completionResponse struct {
	Content      string `json:"content"`
	Tokens       []int  `json:"tokens"`
	Stop         bool   `json:"stop"`
	StoppedEOS   bool   `json:"stopped_eos"`
	StoppedLimit bool   `json:"stopped_limit"`
	TokensEval   int    `json:"tokens_evaluated"`
}

// Generate implements pipeline.Generator: it returns in.IDs followed by the
// generated ids.
func (c *Client) Generate(ctx context.Context, in pipeline.Inputs, p pipeline.GenerateParams) ([]int, error) {
	req := completionRequest{
		Prompt:       multimodalPrompt{PromptString: in.Prompt},
		NPredict:     p.MaxNewTokens,
		Temperature:  p.Temperature,
		TopP:         p.TopP,
		ReturnTokens: true,
	}
	if !p.Sample {
		req.Temperature = 0
		req.TopK = 1
	}
	if p.EOS != "" {
		req.Stop = []string{p.EOS}
	}
	for _, img := range in.Images {
		req.Prompt.MultimodalData = append(req.Prompt.MultimodalData, base64.StdEncoding.EncodeToString(img))
	}
	var out completionResponse
	if err := c.postJSON(ctx, "/completion", req, &out); err != nil {
		return nil, err
	}
	c.log.Debug().Int("prompt_tokens", out.TokensEval).Int("new_tokens", len(out.Tokens)).
		Bool("stopped_eos", out.StoppedEOS).Bool("stopped_limit", out.StoppedLimit).Msg("llama-server completion")
	seq := make([]int, 0, len(in.IDs)+len(out.Tokens))
	seq = append(seq, in.IDs...)
	return append(seq, out.Tokens...), nil
}

// Close stops the owned process, if any.
func (c *Client) Close() error {
	if c.stop == nil {
		return nil
	}
	return c.stop()
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Path: req.URL.Path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// HTTPError is a non-2xx answer from llama-server.
type HTTPError struct {
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llama-server %s: status %d: %s", e.Path, e.Status, e.Body)
}

// IsHTTPStatus reports whether err is an HTTPError with the given status.
func IsHTTPStatus(err error, status int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == status
}
