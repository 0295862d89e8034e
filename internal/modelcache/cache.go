// Package modelcache раскладывает артефакты моделей по локальному каталогу
// и гарантирует, что первая загрузка выполняется один раз.
package modelcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"vgpt/internal/llm"
)

const manifestFile = "manifest.json"

// Manifest записывается в каталог модели после успешной загрузки.
type Manifest struct {
	llm.PullResult
	Name         string    `json:"name"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Cache каталог вида <root>/model/<name> и <root>/tokenizer/<name>.
type Cache struct {
	root    string
	fetcher llm.Puller
	logger  *slog.Logger
	group   singleflight.Group
}

func New(root string, fetcher llm.Puller, logger *slog.Logger) *Cache {
	return &Cache{root: root, fetcher: fetcher, logger: logger}
}

// SanitizeName делает идентификатор модели пригодным для имени каталога.
func SanitizeName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

func (c *Cache) ModelPath(name string) string {
	return filepath.Join(c.root, "model", SanitizeName(name))
}

func (c *Cache) TokenizerPath(name string) string {
	return filepath.Join(c.root, "tokenizer", SanitizeName(name))
}

// Prepare создаёт родительские каталоги кэша.
func (c *Cache) Prepare() error {
	for _, dir := range []string{filepath.Join(c.root, "model"), filepath.Join(c.root, "tokenizer")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	return nil
}

// Exists сообщает, что каталоги модели и токенизатора существуют и не пусты.
func (c *Cache) Exists(name string) bool {
	return nonEmptyDir(c.ModelPath(name)) && nonEmptyDir(c.TokenizerPath(name))
}

// Ensure скачивает модель, если её ещё нет в кэше. Параллельные вызовы
// для одного имени ждут одну загрузку.
func (c *Cache) Ensure(ctx context.Context, name string) (Manifest, error) {
	if name == "" {
		return Manifest{}, llm.ErrEmptyModelName
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		if nonEmptyDir(c.ModelPath(name)) {
			manifest, err := c.readManifest(name)
			if err == nil {
				return manifest, nil
			}
			if !errors.Is(err, os.ErrNotExist) {
				return Manifest{}, err
			}
		}
		return c.download(ctx, name)
	})
	if err != nil {
		return Manifest{}, err
	}
	return v.(Manifest), nil
}

func (c *Cache) download(ctx context.Context, name string) (Manifest, error) {
	if c.fetcher == nil {
		return Manifest{}, fmt.Errorf("model %s is not cached and no fetcher is configured", name)
	}
	if c.logger != nil {
		c.logger.Info("downloading model", slog.String("model", name), slog.String("path", c.ModelPath(name)))
	}

	result, err := c.fetcher.Pull(ctx, name)
	if err != nil {
		return Manifest{}, err
	}

	if err := os.MkdirAll(c.TokenizerPath(name), 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create tokenizer dir: %w", err)
	}
	manifest := Manifest{PullResult: result, Name: name, DownloadedAt: time.Now().UTC()}
	if err := c.writeManifest(name, manifest); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

func (c *Cache) readManifest(name string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(c.ModelPath(name), manifestFile))
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return manifest, nil
}

// writeManifest пишет во временный файл и переименовывает, чтобы прерванная
// загрузка не оставила каталог, который выглядит заполненным.
func (c *Cache) writeManifest(name string, manifest Manifest) error {
	dir := c.ModelPath(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, manifestFile+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, manifestFile)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func nonEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}
