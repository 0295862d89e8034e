package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaConfig зависимости OllamaProvider.
type OllamaConfig struct {
	Host         string
	HTTPClient   *http.Client
	Encoding     string
	TokenizerDir func(name string) string
	Logger       *slog.Logger
}

// OllamaProvider отдаёт модели, которые обслуживает локальный сервер Ollama.
type OllamaProvider struct {
	client     *api.Client
	host       string
	tokenizers *tokenizerSet
	logger     *slog.Logger
}

func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	host := cfg.Host
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &OllamaProvider{
		client:     api.NewClient(parsed, httpClient),
		host:       host,
		tokenizers: newTokenizerSet(cfg.Encoding, cfg.TokenizerDir),
		logger:     cfg.Logger,
	}, nil
}

// Ping проверяет, что сервер Ollama доступен.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Version(ctx); err != nil {
		return fmt.Errorf("ollama at %s unreachable: %w", p.host, err)
	}
	return nil
}

func (p *OllamaProvider) LoadTokenizer(ctx context.Context, name string) (Tokenizer, error) {
	if name == "" {
		return nil, ErrEmptyModelName
	}
	return p.tokenizers.get(name)
}

// LoadModel возвращает модель, только если Ollama уже её скачала.
func (p *OllamaProvider) LoadModel(ctx context.Context, name string) (Model, error) {
	if name == "" {
		return nil, ErrEmptyModelName
	}
	if _, err := p.client.Show(ctx, &api.ShowRequest{Model: name}); err != nil {
		return nil, fmt.Errorf("load model %s: %w", name, err)
	}
	tok, err := p.tokenizers.get(name)
	if err != nil {
		return nil, err
	}
	return &ollamaModel{client: p.client, name: name, tokenizer: tok, logger: p.logger}, nil
}

// Pull скачивает модель в хранилище Ollama и возвращает её описание.
func (p *OllamaProvider) Pull(ctx context.Context, name string) (PullResult, error) {
	if name == "" {
		return PullResult{}, ErrEmptyModelName
	}

	result := PullResult{Backend: "ollama", Model: name}
	lastStatus := ""
	err := p.client.Pull(ctx, &api.PullRequest{Model: name}, func(resp api.ProgressResponse) error {
		if resp.Digest != "" {
			result.Digest = resp.Digest
		}
		if resp.Total > result.Size {
			result.Size = resp.Total
		}
		if resp.Status != lastStatus {
			lastStatus = resp.Status
			if p.logger != nil {
				p.logger.Info("model pull", slog.String("model", name), slog.String("status", resp.Status))
			}
		}
		return nil
	})
	if err != nil {
		return PullResult{}, fmt.Errorf("pull model %s: %w", name, err)
	}

	show, err := p.client.Show(ctx, &api.ShowRequest{Model: name})
	if err != nil {
		return PullResult{}, fmt.Errorf("show model %s: %w", name, err)
	}
	result.Format = show.Details.Format
	result.Family = show.Details.Family
	return result, nil
}

// IsNotFound сообщает, что Ollama не знает такую модель.
func IsNotFound(err error) bool {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusNotFound
	}
	return false
}

type ollamaModel struct {
	client    *api.Client
	name      string
	tokenizer Tokenizer
	logger    *slog.Logger
}

func (m *ollamaModel) Generate(ctx context.Context, inputIDs []int, params GenerateParams) ([]int, error) {
	prompt, err := m.tokenizer.Decode(inputIDs)
	if err != nil {
		return nil, fmt.Errorf("decode prompt: %w", err)
	}

	stream := false
	req := &api.GenerateRequest{
		Model:   m.name,
		Prompt:  prompt,
		Stream:  &stream,
		Options: ollamaOptions(params),
	}

	var out strings.Builder
	err = m.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}

	ids, err := m.tokenizer.Encode(out.String())
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	// Ollama не умеет ограничивать длину снизу, короткий ответ отдаём как есть.
	if len(ids) < params.MinLength && m.logger != nil {
		m.logger.Debug("generated output below min length",
			slog.String("model", m.name),
			slog.Int("tokens", len(ids)),
			slog.Int("min_length", params.MinLength))
	}
	return ids, nil
}

func ollamaOptions(params GenerateParams) map[string]any {
	opts := map[string]any{
		"num_predict": params.MaxLength,
		"top_p":       params.TopP,
	}
	if !params.DoSample {
		opts["temperature"] = 0
	}
	return opts
}
