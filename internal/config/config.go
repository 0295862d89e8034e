package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultModelName   = "llama3.2:1b"
	DefaultInstruction = "You are friendly, helpful, and conversational. Respond to the following:\n"
)

type Config struct {
	HTTPAddr       string            `toml:"http_addr"`
	LogLevel       string            `toml:"log_level"`
	RequestTimeout time.Duration     `toml:"-"`
	SessionTTL     time.Duration     `toml:"-"`
	Model          ModelConfig       `toml:"model"`
	Generation     GenerationConfig  `toml:"generation"`
	Prompt         PromptConfig      `toml:"prompt"`
	Ollama         OllamaConfig      `toml:"ollama"`
	HFInference    HFInferenceConfig `toml:"hf_inference"`
	Browser        BrowserConfig     `toml:"browser"`
	Audit          AuditConfig       `toml:"audit"`
	DNS            DNSConfig         `toml:"dns"`
	RateLimit      RateLimitConfig   `toml:"rate_limit"`
}

type ModelConfig struct {
	Name              string `toml:"name"`
	Backend           string `toml:"backend"`
	AssetsDir         string `toml:"assets_dir"`
	TokenizerEncoding string `toml:"tokenizer_encoding"`
}

// GenerationConfig параметры сэмплирования, передаваемые модели на каждом ходе.
type GenerationConfig struct {
	MaxLength int     `toml:"max_length"`
	MinLength int     `toml:"min_length"`
	TopP      float64 `toml:"top_p"`
	DoSample  bool    `toml:"do_sample"`
}

type PromptConfig struct {
	Instruction string `toml:"instruction"`
	Knowledge   string `toml:"knowledge"`
}

type OllamaConfig struct {
	Host string `toml:"host"`
}

type HFInferenceConfig struct {
	BaseURL  string `toml:"base_url"`
	APIToken string `toml:"api_token"`
}

type BrowserConfig struct {
	Open      bool          `toml:"open"`
	Delay     time.Duration `toml:"-"`
	PublicURL string        `toml:"public_url"`
}

type AuditConfig struct {
	DBPath string `toml:"db_path"`
}

type DNSConfig struct {
	Addr string `toml:"addr"`
	Zone string `toml:"zone"`
}

type RateLimitConfig struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// fileDurations длительности из TOML читаются строками ("2h", "3s").
type fileDurations struct {
	RequestTimeout string `toml:"http_client_timeout"`
	SessionTTL     string `toml:"session_ttl"`
	BrowserDelay   string `toml:"browser_delay"`
}

func defaults() Config {
	return Config{
		HTTPAddr:       "127.0.0.1:8000",
		LogLevel:       "info",
		RequestTimeout: 60 * time.Second,
		SessionTTL:     2 * time.Hour,
		Model: ModelConfig{
			Name:              DefaultModelName,
			Backend:           "ollama",
			AssetsDir:         "assets/machine_learning",
			TokenizerEncoding: "cl100k_base",
		},
		Generation: GenerationConfig{
			MaxLength: 128,
			MinLength: 8,
			TopP:      0.9,
			DoSample:  true,
		},
		Prompt: PromptConfig{
			Instruction: DefaultInstruction,
		},
		Ollama: OllamaConfig{
			Host: "http://127.0.0.1:11434",
		},
		HFInference: HFInferenceConfig{
			BaseURL: "https://api-inference.huggingface.co",
		},
		Browser: BrowserConfig{
			Open:  true,
			Delay: 3 * time.Second,
		},
		DNS: DNSConfig{
			Zone: "chat.",
		},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
	}
}

// Load собирает конфигурацию: значения по умолчанию, затем TOML-файл,
// затем .env и переменные окружения. Отсутствующие файлы не являются ошибкой.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if err := loadFile(getEnv("VGPT_CONFIG", "vgpt.toml"), &cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	var durations fileDurations
	if _, err := toml.Decode(string(data), &durations); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	if err := setDuration(&cfg.RequestTimeout, durations.RequestTimeout, "http_client_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.SessionTTL, durations.SessionTTL, "session_ttl"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Browser.Delay, durations.BrowserDelay, "browser_delay"); err != nil {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := setDuration(&cfg.RequestTimeout, os.Getenv("HTTP_CLIENT_TIMEOUT"), "HTTP_CLIENT_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.SessionTTL, os.Getenv("SESSION_TTL"), "SESSION_TTL"); err != nil {
		return err
	}

	cfg.Model.Name = getEnv("MODEL_NAME", cfg.Model.Name)
	cfg.Model.Backend = getEnv("MODEL_BACKEND", cfg.Model.Backend)
	cfg.Model.AssetsDir = getEnv("ASSETS_DIR", cfg.Model.AssetsDir)
	cfg.Model.TokenizerEncoding = getEnv("TOKENIZER_ENCODING", cfg.Model.TokenizerEncoding)

	var err error
	if cfg.Generation.MaxLength, err = parseIntDefault(os.Getenv("GEN_MAX_LENGTH"), cfg.Generation.MaxLength); err != nil {
		return fmt.Errorf("parse GEN_MAX_LENGTH: %w", err)
	}
	if cfg.Generation.MinLength, err = parseIntDefault(os.Getenv("GEN_MIN_LENGTH"), cfg.Generation.MinLength); err != nil {
		return fmt.Errorf("parse GEN_MIN_LENGTH: %w", err)
	}
	if cfg.Generation.TopP, err = parseFloatDefault(os.Getenv("GEN_TOP_P"), cfg.Generation.TopP); err != nil {
		return fmt.Errorf("parse GEN_TOP_P: %w", err)
	}
	if cfg.Generation.DoSample, err = parseBoolDefault(os.Getenv("GEN_DO_SAMPLE"), cfg.Generation.DoSample); err != nil {
		return fmt.Errorf("parse GEN_DO_SAMPLE: %w", err)
	}

	cfg.Prompt.Instruction = getEnv("INSTRUCTION", cfg.Prompt.Instruction)
	cfg.Prompt.Knowledge = getEnv("KNOWLEDGE", cfg.Prompt.Knowledge)

	cfg.Ollama.Host = getEnv("OLLAMA_HOST", cfg.Ollama.Host)
	cfg.HFInference.BaseURL = getEnv("HF_API_BASE_URL", cfg.HFInference.BaseURL)
	cfg.HFInference.APIToken = getEnv("HF_API_TOKEN", cfg.HFInference.APIToken)

	if cfg.Browser.Open, err = parseBoolDefault(os.Getenv("OPEN_BROWSER"), cfg.Browser.Open); err != nil {
		return fmt.Errorf("parse OPEN_BROWSER: %w", err)
	}
	if err := setDuration(&cfg.Browser.Delay, os.Getenv("BROWSER_DELAY"), "BROWSER_DELAY"); err != nil {
		return err
	}
	cfg.Browser.PublicURL = getEnv("PUBLIC_URL", cfg.Browser.PublicURL)

	cfg.Audit.DBPath = getEnv("AUDIT_DB_PATH", cfg.Audit.DBPath)
	cfg.DNS.Addr = getEnv("DNS_ADDR", cfg.DNS.Addr)
	cfg.DNS.Zone = getEnv("DNS_ZONE", cfg.DNS.Zone)

	if cfg.RateLimit.RPS, err = parseFloatDefault(os.Getenv("RATE_LIMIT_RPS"), cfg.RateLimit.RPS); err != nil {
		return fmt.Errorf("parse RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimit.Burst, err = parseIntDefault(os.Getenv("RATE_LIMIT_BURST"), cfg.RateLimit.Burst); err != nil {
		return fmt.Errorf("parse RATE_LIMIT_BURST: %w", err)
	}
	return nil
}

// Validate проверяет значения, которые нельзя исправить молча.
func (c Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("model name is empty")
	}
	switch c.Model.Backend {
	case "ollama", "hfinference":
	default:
		return fmt.Errorf("unknown model backend %q", c.Model.Backend)
	}
	if c.Generation.MaxLength <= 0 {
		return fmt.Errorf("generation max_length must be positive, got %d", c.Generation.MaxLength)
	}
	if c.Generation.MinLength < 0 || c.Generation.MinLength > c.Generation.MaxLength {
		return fmt.Errorf("generation min_length %d out of range [0, %d]", c.Generation.MinLength, c.Generation.MaxLength)
	}
	if c.Generation.TopP <= 0 || c.Generation.TopP > 1 {
		return fmt.Errorf("generation top_p %v out of range (0, 1]", c.Generation.TopP)
	}
	return nil
}

// BrowserURL адрес, который открывается в браузере после старта.
func (c Config) BrowserURL() string {
	if c.Browser.PublicURL != "" {
		return c.Browser.PublicURL
	}
	return "http://" + c.HTTPAddr + "/"
}

func setDuration(dst *time.Duration, value, key string) error {
	if value == "" {
		return nil
	}
	parsed, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	return time.ParseDuration(value)
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

// parseBoolDefault parses optional boolean with default value.
func parseBoolDefault(value string, def bool) (bool, error) {
	if value == "" {
		return def, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, err
	}
	return parsed, nil
}

func parseIntDefault(value string, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	return strconv.Atoi(value)
}

func parseFloatDefault(value string, def float64) (float64, error) {
	if value == "" {
		return def, nil
	}
	return strconv.ParseFloat(value, 64)
}
