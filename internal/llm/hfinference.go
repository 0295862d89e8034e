package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"vgpt/internal/retry"
)

// HFInferenceConfig зависимости HFInferenceProvider.
type HFInferenceConfig struct {
	BaseURL      string
	APIToken     string
	HTTPClient   *http.Client
	Retry        retry.Policy
	Encoding     string
	TokenizerDir func(name string) string
	Logger       *slog.Logger
}

// HFInferenceProvider вызывает модели, размещённые в Hugging Face Inference API.
type HFInferenceProvider struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	policy     retry.Policy
	tokenizers *tokenizerSet
	logger     *slog.Logger
}

func NewHFInferenceProvider(cfg HFInferenceConfig) *HFInferenceProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	policy := cfg.Retry
	if policy.Operation == "" {
		policy.Operation = "hf_inference"
	}
	return &HFInferenceProvider{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		httpClient: httpClient,
		policy:     policy,
		tokenizers: newTokenizerSet(cfg.Encoding, cfg.TokenizerDir),
		logger:     cfg.Logger,
	}
}

func (p *HFInferenceProvider) LoadTokenizer(ctx context.Context, name string) (Tokenizer, error) {
	if name == "" {
		return nil, ErrEmptyModelName
	}
	return p.tokenizers.get(name)
}

func (p *HFInferenceProvider) LoadModel(ctx context.Context, name string) (Model, error) {
	if name == "" {
		return nil, ErrEmptyModelName
	}
	tok, err := p.tokenizers.get(name)
	if err != nil {
		return nil, err
	}
	return &hfModel{provider: p, name: name, tokenizer: tok}, nil
}

// Pull для размещённых моделей скачивать нечего: проверяем, что модель существует.
func (p *HFInferenceProvider) Pull(ctx context.Context, name string) (PullResult, error) {
	if name == "" {
		return PullResult{}, ErrEmptyModelName
	}
	if _, err := p.do(ctx, http.MethodGet, name, nil); err != nil {
		return PullResult{}, fmt.Errorf("check model %s: %w", name, err)
	}
	return PullResult{Backend: "hfinference", Model: name}, nil
}

// Ping проверяет доступность API.
func (p *HFInferenceProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.baseURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hf inference at %s unreachable: %w", p.baseURL, err)
	}
	resp.Body.Close()
	return nil
}

func (p *HFInferenceProvider) do(ctx context.Context, method, model string, payload any) ([]byte, error) {
	var buf []byte
	if payload != nil {
		var err error
		buf, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	url := fmt.Sprintf("%s/models/%s", p.baseURL, model)
	resp, body, err := retry.DoHTTP(ctx, p.policy, p.logger, func(ctx context.Context) (*http.Response, []byte, error) {
		var reader io.Reader
		if buf != nil {
			reader = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, nil, fmt.Errorf("build request: %w", err)
		}
		if buf != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if p.apiToken != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiToken)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp, nil, err
		}
		return resp, body, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, hfErrorMessage(body))
	}
	return body, nil
}

type hfModel struct {
	provider  *HFInferenceProvider
	name      string
	tokenizer Tokenizer
}

func (m *hfModel) Generate(ctx context.Context, inputIDs []int, params GenerateParams) ([]int, error) {
	prompt, err := m.tokenizer.Decode(inputIDs)
	if err != nil {
		return nil, fmt.Errorf("decode prompt: %w", err)
	}

	body, err := m.provider.do(ctx, http.MethodPost, m.name, hfRequest{
		Inputs: prompt,
		Parameters: hfParameters{
			MaxLength: params.MaxLength,
			MinLength: params.MinLength,
			TopP:      params.TopP,
			DoSample:  params.DoSample,
		},
		Options: hfOptions{WaitForModel: true},
	})
	if err != nil {
		return nil, fmt.Errorf("hf generate: %w", err)
	}

	text, err := parseGeneratedText(body)
	if err != nil {
		return nil, err
	}
	ids, err := m.tokenizer.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	return ids, nil
}

// parseGeneratedText понимает и массив, и одиночный объект: API отвечает по-разному
// в зависимости от типа задачи модели.
func parseGeneratedText(body []byte) (string, error) {
	var list []hfGenerated
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return "", ErrEmptyOutput
		}
		return list[0].GeneratedText, nil
	}

	var single hfGenerated
	if err := json.Unmarshal(body, &single); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if single.Error != "" {
		return "", errors.New(single.Error)
	}
	return single.GeneratedText, nil
}

func hfErrorMessage(body []byte) string {
	var parsed hfGenerated
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(body)
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
	Options    hfOptions    `json:"options"`
}

type hfParameters struct {
	MaxLength int     `json:"max_length"`
	MinLength int     `json:"min_length"`
	TopP      float64 `json:"top_p"`
	DoSample  bool    `json:"do_sample"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type hfGenerated struct {
	GeneratedText string `json:"generated_text"`
	Error         string `json:"error,omitempty"`
}
