// Package config provides the configuration schema and loader for the
// parley client.
//
// Configuration is a single YAML file. API keys never appear in it: each
// backend section names an environment variable (api_key_env) and the key is
// read from the process environment at startup.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Backend selects which first-party protocol a chat or voice section speaks.
type Backend string

const (
	// BackendGemini uses the Google Gemini API (genai for chat,
	// BidiGenerateContent for voice).
	BackendGemini Backend = "gemini"

	// BackendOpenAI uses the OpenAI API (chat completions for chat, the
	// Realtime API for voice).
	BackendOpenAI Backend = "openai"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	return b == BackendGemini || b == BackendOpenAI
}

// EmbeddingsBackend selects the provider used to vectorise conversations for
// history search.
type EmbeddingsBackend string

const (
	EmbeddingsOpenAI EmbeddingsBackend = "openai"
	EmbeddingsOllama EmbeddingsBackend = "ollama"
)

// IsValid reports whether e is a recognised embeddings backend.
func (e EmbeddingsBackend) IsValid() bool {
	return e == EmbeddingsOpenAI || e == EmbeddingsOllama
}

// Config is the root configuration structure for parley, typically loaded
// from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Chat       ChatConfig       `yaml:"chat"`
	Voice      VoiceConfig      `yaml:"voice"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level controls verbosity. Default: info.
	Level LogLevel `yaml:"level"`
}

// ChatConfig configures the streaming text-chat surface.
type ChatConfig struct {
	// Backend selects the protocol. Default: gemini.
	Backend Backend `yaml:"backend"`

	// Model selects the model within the backend. Defaults per backend
	// (e.g., "gemini-2.0-flash" or "gpt-4o-mini").
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// Defaults per backend (GEMINI_API_KEY or OPENAI_API_KEY).
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the backend's default API endpoint. Leave empty to
	// use the built-in default.
	BaseURL string `yaml:"base_url"`

	// SystemPromptFile is the path of a text file whose content is sent as
	// the system prompt with every request. Empty means no system prompt.
	SystemPromptFile string `yaml:"system_prompt_file"`

	// HistoryDir is the directory of the local conversation store. Default:
	// <user config dir>/parley/history.
	HistoryDir string `yaml:"history_dir"`

	// Temperature controls sampling randomness. Zero means backend default.
	Temperature float64 `yaml:"temperature"`

	// SearchGrounding enables Google Search grounding on the Gemini backend,
	// so replies carry source citations. Ignored by other backends.
	SearchGrounding bool `yaml:"search_grounding"`
}

// VoiceConfig configures the live voice session surface.
type VoiceConfig struct {
	// Backend selects the realtime protocol. Default: gemini.
	Backend Backend `yaml:"backend"`

	// Model selects the realtime model. Empty means the backend's default.
	Model string `yaml:"model"`

	// Voice selects the synthesis voice. Empty means the backend's default.
	Voice string `yaml:"voice"`

	// APIKeyEnv names the environment variable holding the API key.
	// Defaults per backend (GEMINI_API_KEY or OPENAI_API_KEY).
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the backend's default websocket endpoint.
	BaseURL string `yaml:"base_url"`

	// Instructions is the system-level prompt for live sessions.
	Instructions string `yaml:"instructions"`

	// FrameSize is the number of microphone samples per outbound frame, in
	// [1024, 16384]. Default: 4096 (≈256ms at 16kHz).
	FrameSize int `yaml:"frame_size"`
}

// EmbeddingsConfig configures the provider that vectorises conversations for
// `history search`. When Backend is empty, search is disabled and
// conversations are stored without vectors.
type EmbeddingsConfig struct {
	// Backend selects the embeddings provider. Empty disables search.
	Backend EmbeddingsBackend `yaml:"backend"`

	// Model selects the embedding model. Empty means the backend's default.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// Only used by the openai backend; defaults to OPENAI_API_KEY.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the backend endpoint. For ollama this is the server
	// address, default "http://localhost:11434".
	BaseURL string `yaml:"base_url"`
}

// MetricsConfig configures the optional observability endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics and /healthz on ListenAddr while a command
	// runs. Default: off.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the TCP address of the endpoint. Default: "localhost:9464".
	ListenAddr string `yaml:"listen_addr"`
}
