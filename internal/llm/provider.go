package llm

import (
	"context"
	"errors"
)

var (
	ErrEmptyModelName = errors.New("model name is required")
	ErrEmptyOutput    = errors.New("empty response from model")
)

// GenerateParams параметры генерации одного ответа.
type GenerateParams struct {
	MaxLength int     // верхняя граница длины ответа в токенах
	MinLength int     // нижняя граница длины ответа в токенах
	TopP      float64 // порог nucleus sampling
	DoSample  bool    // false означает жадное декодирование
}

// DefaultGenerateParams значения, с которыми модель вызывается по умолчанию.
func DefaultGenerateParams() GenerateParams {
	return GenerateParams{
		MaxLength: 128,
		MinLength: 8,
		TopP:      0.9,
		DoSample:  true,
	}
}

// Tokenizer переводит текст в идентификаторы токенов и обратно.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Model генерирует продолжение для закодированного запроса.
type Model interface {
	Generate(ctx context.Context, inputIDs []int, params GenerateParams) ([]int, error)
}

// Provider загружает модель и парный к ней токенизатор по идентификатору.
type Provider interface {
	LoadModel(ctx context.Context, name string) (Model, error)
	LoadTokenizer(ctx context.Context, name string) (Tokenizer, error)
}

// Puller скачивает артефакты модели на сторону бэкенда.
type Puller interface {
	Pull(ctx context.Context, name string) (PullResult, error)
}

// PullResult описание скачанной модели, сохраняется в манифест кэша.
type PullResult struct {
	Backend string `json:"backend"`
	Model   string `json:"model"`
	Digest  string `json:"digest,omitempty"`
	Format  string `json:"format,omitempty"`
	Family  string `json:"family,omitempty"`
	Size    int64  `json:"size,omitempty"`
}
