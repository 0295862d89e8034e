package llm

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// byteVocabulary словарь из 256 однобайтовых токенов: кодирует любой текст.
func byteVocabulary() []byte {
	var b strings.Builder
	for i := 0; i < 256; i++ {
		fmt.Fprintf(&b, "%s %d\n", base64.StdEncoding.EncodeToString([]byte{byte(i)}), i)
	}
	return []byte(b.String())
}

func TestBPETokenizerRoundTripFromCache(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "p50k_base.tiktoken"), byteVocabulary(), 0o600); err != nil {
		t.Fatalf("seed vocabulary: %v", err)
	}

	tok, err := NewBPETokenizer("p50k_base", dir)
	if err != nil {
		t.Fatalf("new tokenizer: %v", err)
	}
	if tok.Encoding() != "p50k_base" {
		t.Fatalf("unexpected encoding: %s", tok.Encoding())
	}

	prompt := "Be friendly. [CONTEXT] hello EOS hi there EOS héllo"
	ids, err := tok.Encode(prompt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(ids) != len(prompt) {
		t.Fatalf("expected one token per byte, got %d for %d bytes", len(ids), len(prompt))
	}
	got, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != prompt {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestCachingBpeLoaderDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(byteVocabulary())
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "tokenizer", "m")
	loader := &cachingBpeLoader{dir: dir, client: server.Client()}
	source := server.URL + "/encodings/r50k_base.tiktoken"

	ranks, err := loader.LoadTiktokenBpe(source)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if len(ranks) != 256 || ranks["A"] != 'A' {
		t.Fatalf("unexpected ranks: %d entries", len(ranks))
	}
	if _, err := os.Stat(filepath.Join(dir, "r50k_base.tiktoken")); err != nil {
		t.Fatalf("vocabulary not cached: %v", err)
	}

	server.Close()
	if _, err := loader.LoadTiktokenBpe(source); err != nil {
		t.Fatalf("cached load: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one download, got %d", hits.Load())
	}
}

func TestCachingBpeLoaderBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	loader := &cachingBpeLoader{dir: dir, client: server.Client()}
	if _, err := loader.LoadTiktokenBpe(server.URL + "/x.tiktoken"); err == nil {
		t.Fatalf("expected error on 404")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("failed download must not leave files, got %d", len(entries))
	}
}

func TestParseBpe(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"no rank":   "QQ==\n",
		"bad rank":  "QQ== x\n",
		"bad token": "@@@ 1\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseBpe([]byte(input)); err == nil {
				t.Fatalf("expected error for %q", input)
			}
		})
	}
}

func TestTokenizerSetReusesPerModel(t *testing.T) {
	dir := t.TempDir()
	var asked []string
	set := newTokenizerSet("p50k_base", func(name string) string {
		asked = append(asked, name)
		sub := filepath.Join(dir, name)
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(sub, "p50k_base.tiktoken"), byteVocabulary(), 0o600); err != nil {
			t.Fatalf("seed vocabulary: %v", err)
		}
		return sub
	})

	first, err := set.get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := set.get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first != second {
		t.Fatalf("tokenizer must be reused for the same model")
	}
	if len(asked) != 1 || asked[0] != "a" {
		t.Fatalf("unexpected cache dir lookups: %v", asked)
	}
}

func TestNewBPETokenizerRequiresEncoding(t *testing.T) {
	if _, err := NewBPETokenizer("", ""); err == nil {
		t.Fatalf("expected error for empty encoding")
	}
}
