package cli

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"handscribe/internal/common/fsutil"
	"handscribe/internal/config"
	"handscribe/internal/device"
	"handscribe/internal/hub"
	"handscribe/internal/llamaserver"
	"handscribe/internal/pipeline"
	"handscribe/internal/registry"
	"handscribe/internal/remote"
	"handscribe/pkg/types"
)

// EnvHFToken is read before hf_token_file.
const EnvHFToken = "HF_TOKEN"

// transcriber turns one image into markdown.
type transcriber interface {
	Transcribe(ctx context.Context, img image.Image) (pipeline.Result, error)
}

// localService is the in-process pipeline as the commands see it.
type localService interface {
	transcriber
	Acquire(ctx context.Context) (*pipeline.Resource, error)
	Close() error
}

// resolveHFToken reads the hub token from the environment, then from the
// configured secret file. An empty token means anonymous access.
func resolveHFToken(getenv func(string) string, file string) (string, error) {
	if t := strings.TrimSpace(getenv(EnvHFToken)); t != "" {
		return t, nil
	}
	t, err := fsutil.ReadSecret(file)
	if err != nil {
		return "", fmt.Errorf("read hf token file: %w", err)
	}
	return t, nil
}

// buildLocal assembles the lazily loaded local pipeline. Nothing is probed,
// downloaded or spawned until the first Acquire.
func buildLocal(cfg config.Config, log zerolog.Logger, getenv func(string) string, version string) (*pipeline.Service, error) {
	cacheDir, err := fsutil.ExpandHome(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	token, err := resolveHFToken(getenv, cfg.HFTokenFile)
	if err != nil {
		return nil, err
	}
	pub := pipeline.LogPublisher{Log: log}

	fetcher := &hub.Client{
		Endpoint:    cfg.HubEndpoint,
		Repo:        cfg.ModelRepo,
		Revision:    cfg.Revision,
		CacheDir:    cacheDir,
		Token:       token,
		Connections: cfg.TransferConns,
		Progress:    newProgressLog(log).report,
		Log:         log.With().Str("component", "hub").Logger(),
		Version:     version,
	}
	launcher := llamaserver.NewLauncher(llamaserver.Config{
		URL:          cfg.LlamaURL,
		Bin:          cfg.LlamaBin,
		Host:         cfg.LlamaHost,
		PortStart:    cfg.LlamaPortStart,
		PortEnd:      cfg.LlamaPortEnd,
		CtxSize:      cfg.LlamaCtxSize,
		Threads:      cfg.LlamaThreads,
		ExtraArgs:    cfg.LlamaExtraArgs,
		ReadyTimeout: time.Duration(cfg.ReadySeconds) * time.Second,
	}, pub, log.With().Str("component", "llama-server").Logger())

	loader := pipeline.NewLoader(pipeline.LoaderConfig{
		Device:        device.ParsePreference(cfg.Device),
		ModelHalf:     cfg.ModelHalf,
		ModelFull:     cfg.ModelFull,
		ProjectorHalf: cfg.ProjectorHalf,
		ProjectorFull: cfg.ProjectorFull,
	}, pipeline.LoaderOptions{
		Prober:    device.NvidiaSMI{Bin: cfg.NvidiaSMI},
		Fetcher:   fetcher,
		Binder:    launcher,
		Publisher: pub,
		Logger:    log,
	})

	ec := pipeline.DefaultEngineConfig()
	ec.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	engine := pipeline.NewEngine(ec, pub, log)
	return pipeline.NewService(loader, engine, cfg.ModelRepo, log), nil
}

// buildRemote constructs the OpenAI-compatible backend.
func buildRemote(cfg config.Config, log zerolog.Logger, getenv func(string) string) (*remote.Client, error) {
	key, err := remote.ResolveAPIKey(getenv, cfg.OpenAIAPIKeyFile)
	if err != nil {
		return nil, err
	}
	return remote.New(remote.Config{
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		APIKeyFile: cfg.OpenAIAPIKeyFile,
		MaxTokens:  1000,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, key, log), nil
}

// httpService adapts the pipeline service to the HTTP layer.
type httpService struct {
	*pipeline.Service
	cacheDir string
}

// ListModels scans the weight cache. A cache that does not exist yet is empty.
func (s httpService) ListModels() ([]types.Model, error) {
	models, err := registry.LoadDir(s.cacheDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return models, err
}
