package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Frame size bounds mirror the capture pipeline's limits so a bad value
// fails at config load, not at session start.
const (
	minFrameSize     = 1024
	maxFrameSize     = 16384
	defaultFrameSize = 4096
)

// Default API key environment variables per backend.
const (
	geminiKeyEnv = "GEMINI_API_KEY"
	openaiKeyEnv = "OPENAI_API_KEY"
)

// Default chat models per backend.
var defaultChatModels = map[Backend]string{
	BackendGemini: "gemini-2.0-flash",
	BackendOpenAI: "gpt-4o-mini",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: run on defaults.
			err = nil
		} else {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every default applied, equivalent to loading
// an empty file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills the zero-valued fields that have defaults. Explicit
// values are never overwritten, so defaults that depend on another field
// (API key env on backend) follow whatever backend the file picked.
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogInfo
	}

	if cfg.Chat.Backend == "" {
		cfg.Chat.Backend = BackendGemini
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = defaultChatModels[cfg.Chat.Backend]
	}
	if cfg.Chat.APIKeyEnv == "" {
		cfg.Chat.APIKeyEnv = defaultKeyEnv(cfg.Chat.Backend)
	}
	if cfg.Chat.HistoryDir == "" {
		cfg.Chat.HistoryDir = defaultHistoryDir()
	}

	if cfg.Voice.Backend == "" {
		cfg.Voice.Backend = BackendGemini
	}
	if cfg.Voice.APIKeyEnv == "" {
		cfg.Voice.APIKeyEnv = defaultKeyEnv(cfg.Voice.Backend)
	}
	if cfg.Voice.FrameSize == 0 {
		cfg.Voice.FrameSize = defaultFrameSize
	}

	if cfg.Embeddings.Backend == EmbeddingsOpenAI && cfg.Embeddings.APIKeyEnv == "" {
		cfg.Embeddings.APIKeyEnv = openaiKeyEnv
	}
	if cfg.Embeddings.Backend == EmbeddingsOllama && cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:11434"
	}

	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = "localhost:9464"
	}
}

// defaultKeyEnv maps a backend to its conventional API key variable.
func defaultKeyEnv(b Backend) string {
	if b == BackendOpenAI {
		return openaiKeyEnv
	}
	return geminiKeyEnv
}

// defaultHistoryDir resolves the per-user conversation store location.
// Falls back to a relative directory when the OS config dir is unknown.
func defaultHistoryDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "parley-history"
	}
	return filepath.Join(base, "parley", "history")
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found; recoverable oddities
// are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	if !cfg.Chat.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("chat.backend %q is invalid; valid values: gemini, openai", cfg.Chat.Backend))
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}
	if cfg.Chat.SearchGrounding && cfg.Chat.Backend != BackendGemini {
		slog.Warn("chat.search_grounding is only supported by the gemini backend; ignoring",
			"backend", cfg.Chat.Backend,
		)
	}

	if !cfg.Voice.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("voice.backend %q is invalid; valid values: gemini, openai", cfg.Voice.Backend))
	}
	if cfg.Voice.FrameSize < minFrameSize || cfg.Voice.FrameSize > maxFrameSize {
		errs = append(errs, fmt.Errorf("voice.frame_size %d is out of range [%d, %d]", cfg.Voice.FrameSize, minFrameSize, maxFrameSize))
	}

	if cfg.Embeddings.Backend != "" && !cfg.Embeddings.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("embeddings.backend %q is invalid; valid values: openai, ollama", cfg.Embeddings.Backend))
	}

	return errors.Join(errs...)
}

// APIKey resolves the chat backend's API key from the environment. Empty when
// the variable is unset.
func (c ChatConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// APIKey resolves the voice backend's API key from the environment.
func (c VoiceConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// APIKey resolves the embeddings backend's API key from the environment.
func (c EmbeddingsConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}
