package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"vgpt/internal/transport"
)

// encodingMu сериализует загрузку словарей: загрузчик tiktoken общий для процесса.
var encodingMu sync.Mutex

// BPETokenizer токенизатор на основе словаря tiktoken.
type BPETokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewBPETokenizer загружает словарь encoding. Если cacheDir не пуст,
// файл словаря скачивается туда один раз и дальше читается с диска.
func NewBPETokenizer(encoding, cacheDir string) (*BPETokenizer, error) {
	if encoding == "" {
		return nil, fmt.Errorf("tokenizer encoding is required")
	}

	encodingMu.Lock()
	defer encodingMu.Unlock()

	tiktoken.SetBpeLoader(&cachingBpeLoader{
		dir:    cacheDir,
		client: transport.NewHTTPClient(2 * time.Minute),
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &BPETokenizer{encoding: encoding, enc: enc}, nil
}

func (t *BPETokenizer) Encode(text string) ([]int, error) {
	return t.enc.Encode(text, nil, nil), nil
}

func (t *BPETokenizer) Decode(ids []int) (string, error) {
	return t.enc.Decode(ids), nil
}

func (t *BPETokenizer) Encoding() string {
	return t.encoding
}

// cachingBpeLoader читает файл словаря из dir, а при промахе скачивает его
// и сохраняет туда же. Пустой dir означает загрузку без кэша.
type cachingBpeLoader struct {
	dir    string
	client *http.Client
}

func (l *cachingBpeLoader) LoadTiktokenBpe(source string) (map[string]int, error) {
	var cached string
	if l.dir != "" {
		cached = filepath.Join(l.dir, path.Base(source))
		if data, err := os.ReadFile(cached); err == nil {
			return parseBpe(data)
		}
	}

	data, err := l.fetch(source)
	if err != nil {
		return nil, err
	}
	ranks, err := parseBpe(data)
	if err != nil {
		return nil, err
	}
	if cached != "" {
		if err := writeFileAtomic(cached, data); err != nil {
			return nil, err
		}
	}
	return ranks, nil
}

func (l *cachingBpeLoader) fetch(source string) ([]byte, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build vocabulary request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download vocabulary %s: %w", source, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download vocabulary %s: unexpected status %d", source, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", source, err)
	}
	return data, nil
}

// parseBpe разбирает формат .tiktoken: "<base64 токена> <ранг>" на строку.
func parseBpe(data []byte) (map[string]int, error) {
	ranks := make(map[string]int)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; scanner.Scan(); line++ {
		fields := bytes.Fields(scanner.Bytes())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("vocabulary line %d: expected token and rank", line)
		}
		token, err := base64.StdEncoding.DecodeString(string(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("vocabulary line %d: %w", line, err)
		}
		rank, err := strconv.Atoi(string(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("vocabulary line %d: %w", line, err)
		}
		ranks[string(token)] = rank
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan vocabulary: %w", err)
	}
	if len(ranks) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	return ranks, nil
}

func writeFileAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tokenizer cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// tokenizerSet держит по одному токенизатору на модель.
type tokenizerSet struct {
	mu       sync.Mutex
	encoding string
	cacheDir func(name string) string
	loaded   map[string]*BPETokenizer
}

func newTokenizerSet(encoding string, cacheDir func(name string) string) *tokenizerSet {
	return &tokenizerSet{
		encoding: encoding,
		cacheDir: cacheDir,
		loaded:   make(map[string]*BPETokenizer),
	}
}

func (s *tokenizerSet) get(name string) (*BPETokenizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.loaded[name]; ok {
		return tok, nil
	}
	dir := ""
	if s.cacheDir != nil {
		dir = s.cacheDir(name)
	}
	tok, err := NewBPETokenizer(s.encoding, dir)
	if err != nil {
		return nil, err
	}
	s.loaded[name] = tok
	return tok, nil
}
