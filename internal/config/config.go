package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DocumentConfig locates the handbook.
type DocumentConfig struct {
	// Path is the raw handbook (.txt, .md or .pdf).
	Path string `yaml:"path" toml:"path"`
	// ClausesPath is an already structured clause file. When set it is
	// used instead of structuring Path.
	ClausesPath string `yaml:"clauses_path,omitempty" toml:"clauses_path"`
	// Name labels chunks as their source.
	Name string `yaml:"name" toml:"name"`
}

// StructurerConfig selects how clause headings are recognised.
type StructurerConfig struct {
	// Matcher is "article", "chinese" or "regex".
	Matcher string `yaml:"matcher" toml:"matcher"`
	// Pattern is the heading regex when Matcher is "regex". A named
	// group "id" selects the clause id.
	Pattern            string   `yaml:"pattern,omitempty" toml:"pattern"`
	StripPageNoise     bool     `yaml:"strip_page_noise" toml:"strip_page_noise"`
	NoisePatterns      []string `yaml:"noise_patterns,omitempty" toml:"noise_patterns"`
	SkipTOC            bool     `yaml:"skip_toc" toml:"skip_toc"`
	CollapseWhitespace bool     `yaml:"collapse_whitespace" toml:"collapse_whitespace"`
	// StopAtSections ends clause bodies at chapter headings, using
	// SectionPattern or the built-in 第X章/附则 pattern.
	StopAtSections bool   `yaml:"stop_at_sections" toml:"stop_at_sections"`
	SectionPattern string `yaml:"section_pattern,omitempty" toml:"section_pattern"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	Model             string  `yaml:"model" toml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs" toml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
}

// GeminiEmbedderConfig holds configuration for the Gemini embedder.
type GeminiEmbedderConfig struct {
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	Model             string  `yaml:"model" toml:"model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type" toml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty" toml:"openai"`
	Gemini *GeminiEmbedderConfig `yaml:"gemini,omitempty" toml:"gemini"`
	// AllowPartial builds the index from the chunks that embedded
	// successfully instead of failing the whole build.
	AllowPartial bool `yaml:"allow_partial" toml:"allow_partial"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type" toml:"type"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty" toml:"sqlite"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty" toml:"qdrant"`
	PGVector *PGVectorConfig `yaml:"pgvector,omitempty" toml:"pgvector"`
}

// SQLiteConfig points at the index database file.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" toml:"url"`
	APIKey      string `yaml:"api_key" toml:"api_key"`
	Collection  string `yaml:"collection" toml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
}

// PGVectorConfig contains connection details for PostgreSQL with pgvector.
type PGVectorConfig struct {
	DSNEnv string `yaml:"dsn_env" toml:"dsn_env"`
	Table  string `yaml:"table" toml:"table"`
}

// CacheConfig enables the Redis embedding cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	Addr       string `yaml:"addr" toml:"addr"`
	Password   string `yaml:"password" toml:"password"`
	DB         int    `yaml:"db" toml:"db"`
	Prefix     string `yaml:"prefix" toml:"prefix"`
	TTLSeconds int    `yaml:"ttl_seconds" toml:"ttl_seconds"`
}

// LLMConfig selects the language model that writes answers.
type LLMConfig struct {
	Type        string  `yaml:"type" toml:"type"`
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	Model       string  `yaml:"model" toml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env" toml:"api_key_env"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs" toml:"timeout_secs"`
}

// AnswerConfig tunes retrieval for answers.
type AnswerConfig struct {
	TopK int `yaml:"top_k" toml:"top_k"`
}

// SummarizerConfig configures the handbook overview shown in chat.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences" toml:"max_sentences"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr    string `yaml:"addr" toml:"addr"`
	GinMode string `yaml:"gin_mode" toml:"gin_mode"`
}

// LogConfig configures diagnostic output.
type LogConfig struct {
	Verbose bool `yaml:"verbose" toml:"verbose"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Document    DocumentConfig    `yaml:"document" toml:"document"`
	Structurer  StructurerConfig  `yaml:"structurer" toml:"structurer"`
	Embedder    EmbedderConfig    `yaml:"embedder" toml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store" toml:"vector_store"`
	Cache       CacheConfig       `yaml:"cache" toml:"cache"`
	LLM         LLMConfig         `yaml:"llm" toml:"llm"`
	Answer      AnswerConfig      `yaml:"answer" toml:"answer"`
	Summarizer  SummarizerConfig  `yaml:"summarizer" toml:"summarizer"`
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Log         LogConfig         `yaml:"log" toml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables override file values.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	case isTOML(path):
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}
	overrideByEnv(cfg)
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/handbook-rag/config.yaml.
// If neither exists, it writes defaults to ~/.config/handbook-rag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	overrideByEnv(cfg)
	applyConfigDefaults(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if isTOML(path) {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects configurations that cannot be wired.
func (c *AppConfig) Validate() error {
	switch c.Structurer.Matcher {
	case "article", "chinese":
	case "regex":
		if c.Structurer.Pattern == "" {
			return fmt.Errorf("structurer.pattern is required for the regex matcher")
		}
	default:
		return fmt.Errorf("unknown structurer matcher: %s", c.Structurer.Matcher)
	}
	switch c.Embedder.Type {
	case "tfidf", "openai", "gemini":
	default:
		return fmt.Errorf("unknown embedder: %s", c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "sqlite":
		if c.VectorStore.SQLite == nil || c.VectorStore.SQLite.Path == "" {
			return fmt.Errorf("vector_store.sqlite.path is required")
		}
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return fmt.Errorf("vector_store.qdrant.url is required")
		}
	case "pgvector":
		if c.VectorStore.PGVector == nil || c.VectorStore.PGVector.DSNEnv == "" {
			return fmt.Errorf("vector_store.pgvector.dsn_env is required")
		}
	default:
		return fmt.Errorf("unknown vector store: %s", c.VectorStore.Type)
	}
	switch c.LLM.Type {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm: %s", c.LLM.Type)
	}
	if c.Answer.TopK <= 0 {
		return fmt.Errorf("answer.top_k must be positive, got %d", c.Answer.TopK)
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when the cache is enabled")
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "handbook-rag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Document:   DocumentConfig{Path: "handbook.txt", Name: "employee handbook"},
		Structurer: StructurerConfig{Matcher: "article", StripPageNoise: true},
		Embedder:   EmbedderConfig{Type: "tfidf"},
		VectorStore: VectorStoreConfig{
			Type:   "memory",
			SQLite: &SQLiteConfig{Path: filepath.Join("data", "index.db")},
		},
		Cache: CacheConfig{Addr: "127.0.0.1:6379", Prefix: "handbook:embedding", TTLSeconds: 7 * 24 * 3600},
		LLM: LLMConfig{
			Type:        "openai",
			BaseURL:     "https://open.bigmodel.cn/api/paas/v4",
			Model:       "glm-4",
			APIKeyEnv:   "LLM_API_KEY",
			Temperature: 0.7,
			TimeoutSecs: 120,
		},
		Answer:     AnswerConfig{TopK: 3},
		Summarizer: SummarizerConfig{MaxSentences: 3},
		Server:     ServerConfig{Addr: ":8080", GinMode: "release"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Structurer.Matcher == "" {
		cfg.Structurer.Matcher = "article"
		if cfg.Structurer.Pattern != "" {
			cfg.Structurer.Matcher = "regex"
		}
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.Embedder.Type == "gemini" {
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiEmbedderConfig{}
		}
		if cfg.Embedder.Gemini.APIKeyEnv == "" {
			cfg.Embedder.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil && cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "employee_handbook"
	}
	if cfg.LLM.Type == "" {
		cfg.LLM.Type = "openai"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "LLM_API_KEY"
	}
	if cfg.Answer.TopK == 0 {
		cfg.Answer.TopK = 3
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

func overrideByEnv(cfg *AppConfig) {
	cfg.Document.Path = getEnv("HANDBOOK_DOCUMENT", cfg.Document.Path)
	cfg.Document.ClausesPath = getEnv("HANDBOOK_CLAUSES", cfg.Document.ClausesPath)
	cfg.Structurer.Matcher = getEnv("HANDBOOK_MATCHER", cfg.Structurer.Matcher)
	cfg.Answer.TopK = getEnvAsInt("HANDBOOK_TOP_K", cfg.Answer.TopK)

	cfg.Embedder.Type = getEnv("EMBEDDER_TYPE", cfg.Embedder.Type)
	cfg.VectorStore.Type = getEnv("VECTOR_STORE_TYPE", cfg.VectorStore.Type)

	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.APIKeyEnv = getEnv("LLM_API_KEY_ENV", cfg.LLM.APIKeyEnv)

	cfg.Cache.Addr = getEnv("REDIS_ADDR", cfg.Cache.Addr)
	cfg.Cache.Password = getEnv("REDIS_PASSWORD", cfg.Cache.Password)
	cfg.Cache.DB = getEnvAsInt("REDIS_DB", cfg.Cache.DB)

	cfg.Server.Addr = getEnv("HANDBOOK_ADDR", cfg.Server.Addr)
	cfg.Server.GinMode = getEnv("GIN_MODE", cfg.Server.GinMode)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
