package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"ragqa/internal/domain"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type          string               `yaml:"type"`
	Dimension     int                  `yaml:"dimension"`
	CacheCapacity int                  `yaml:"cache_capacity"`
	OpenAI        OpenAIEmbedderConfig `yaml:"openai"`
}

// ChunkerConfig configures how documents are split into chunks. For the
// word chunker sizes are in words, for the sentence chunker in sentences.
type ChunkerConfig struct {
	Type      string `yaml:"type"`
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"overlap"`
}

// Chunk window defaults. Word windows are counted in words, sentence windows in sentences.
const (
	defaultWordChunkSize     = 800
	defaultWordOverlap       = 100
	defaultSentenceChunkSize = 5
	defaultSentenceOverlap   = 1
	maxSentencesPerChunk     = 50
)

// RetrievalConfig controls how many chunks are retrieved per question.
type RetrievalConfig struct {
	TopK          int `yaml:"top_k"`
	SnippetLength int `yaml:"snippet_length"`
}

// OpenAIGeneratorConfig holds configuration for the chat-completions client.
type OpenAIGeneratorConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type         string                `yaml:"type"`
	MaxSentences int                   `yaml:"max_sentences"`
	OpenAI       OpenAIGeneratorConfig `yaml:"openai"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string       `yaml:"type"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadFiles int    `yaml:"max_upload_files"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	// Keys missing from the file keep their default values.
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applySentenceDefaults(cfg, data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// applySentenceDefaults replaces the word-sized window defaults with sentence
// ones when the file selects the sentence chunker without giving a size.
func applySentenceDefaults(cfg *AppConfig, data []byte) error {
	if cfg.Chunker.Type != "sentence" {
		return nil
	}
	var set struct {
		Chunker struct {
			ChunkSize *int `yaml:"chunk_size"`
			Overlap   *int `yaml:"overlap"`
		} `yaml:"chunker"`
	}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return err
	}
	if set.Chunker.ChunkSize == nil {
		cfg.Chunker.ChunkSize = defaultSentenceChunkSize
	}
	if set.Chunker.Overlap == nil {
		cfg.Chunker.Overlap = defaultSentenceOverlap
	}
	return nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragqa/config.yaml and returns them.
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
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the values the pipeline cannot run with. Every error wraps
// domain.ErrConfiguration.
func (c *AppConfig) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...)))
	}

	switch c.Chunker.Type {
	case "word", "sentence":
	default:
		bad("unknown chunker type %q", c.Chunker.Type)
	}
	if c.Chunker.ChunkSize <= 0 {
		bad("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.Type == "sentence" && c.Chunker.ChunkSize > maxSentencesPerChunk {
		bad("chunker.chunk_size counts sentences for the sentence chunker and must be at most %d, got %d",
			maxSentencesPerChunk, c.Chunker.ChunkSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		bad("chunker.overlap must be in [0, chunk_size), got %d with chunk_size %d", c.Chunker.Overlap, c.Chunker.ChunkSize)
	}
	if c.Retrieval.TopK <= 0 {
		bad("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	switch c.Embedder.Type {
	case "openai", "hashing":
	default:
		bad("unknown embedder type %q", c.Embedder.Type)
	}
	if c.Embedder.Dimension <= 0 {
		bad("embedder.dimension must be positive, got %d", c.Embedder.Dimension)
	}
	if c.Embedder.CacheCapacity <= 0 {
		bad("embedder.cache_capacity must be positive, got %d", c.Embedder.CacheCapacity)
	}
	switch c.Generator.Type {
	case "openai", "extractive":
	default:
		bad("unknown generator type %q", c.Generator.Type)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			bad("vector_store.qdrant.host is required")
		}
	default:
		bad("unknown vector store type %q", c.VectorStore.Type)
	}
	if c.Server.MaxUploadFiles <= 0 {
		bad("server.max_upload_files must be positive, got %d", c.Server.MaxUploadFiles)
	}
	return errors.Join(errs...)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Chunker:     ChunkerConfig{Type: "word", ChunkSize: defaultWordChunkSize, Overlap: defaultWordOverlap},
		Embedder:    EmbedderConfig{Type: "openai"},
		Generator:   GeneratorConfig{Type: "openai", OpenAI: OpenAIGeneratorConfig{Temperature: 0.3}},
		VectorStore: VectorStoreConfig{Type: "memory"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

// applyConfigDefaults fills zero values left by an explicit empty key. Chunk
// overlap and temperature are left alone since zero is meaningful for both.
func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "word"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = defaultWordChunkSize
		if cfg.Chunker.Type == "sentence" {
			cfg.Chunker.ChunkSize = defaultSentenceChunkSize
		}
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.SnippetLength == 0 {
		cfg.Retrieval.SnippetLength = 200
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 1536
	}
	if cfg.Embedder.CacheCapacity == 0 {
		cfg.Embedder.CacheCapacity = 1024
	}
	eo := &cfg.Embedder.OpenAI
	if eo.BaseURL == "" {
		eo.BaseURL = "https://api.openai.com/v1"
	}
	if eo.APIKeyEnv == "" {
		eo.APIKeyEnv = "OPENAI_API_KEY"
	}
	if eo.Model == "" {
		eo.Model = "text-embedding-3-small"
	}
	if eo.TimeoutSecs == 0 {
		eo.TimeoutSecs = 30
	}
	if eo.BatchSize == 0 {
		eo.BatchSize = 32
	}
	if eo.Concurrency == 0 {
		eo.Concurrency = 4
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "openai"
	}
	if cfg.Generator.MaxSentences == 0 {
		cfg.Generator.MaxSentences = 3
	}
	gen := &cfg.Generator.OpenAI
	if gen.BaseURL == "" {
		gen.BaseURL = "https://api.openai.com/v1"
	}
	if gen.APIKeyEnv == "" {
		gen.APIKeyEnv = "OPENAI_API_KEY"
	}
	if gen.Model == "" {
		gen.Model = "gpt-3.5-turbo"
	}
	if gen.MaxTokens == 0 {
		gen.MaxTokens = 300
	}
	if gen.TimeoutSecs == 0 {
		gen.TimeoutSecs = 60
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "ragqa_chunks"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.MaxUploadFiles == 0 {
		cfg.Server.MaxUploadFiles = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
