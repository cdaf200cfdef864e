package commands

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/pkg/embeddings"
	embedollama "github.com/parley-ai/parley/pkg/embeddings/ollama"
	embedopenai "github.com/parley-ai/parley/pkg/embeddings/openai"
	chatprov "github.com/parley-ai/parley/pkg/provider/chat"
	chatgemini "github.com/parley-ai/parley/pkg/provider/chat/gemini"
	chatopenai "github.com/parley-ai/parley/pkg/provider/chat/openai"
	"github.com/parley-ai/parley/pkg/provider/live"
	livegemini "github.com/parley-ai/parley/pkg/provider/live/gemini"
	liveopenai "github.com/parley-ai/parley/pkg/provider/live/openai"
)

// buildChatProvider constructs the streaming chat backend selected by the
// chat config section.
func buildChatProvider(ctx context.Context) (chatprov.Provider, error) {
	c := cfg.Chat
	key := c.APIKey()
	if key == "" {
		return nil, fmt.Errorf("chat: no API key in $%s", c.APIKeyEnv)
	}

	switch c.Backend {
	case config.BackendGemini:
		var opts []chatgemini.Option
		if c.BaseURL != "" {
			opts = append(opts, chatgemini.WithBaseURL(c.BaseURL))
		}
		if c.SearchGrounding {
			opts = append(opts, chatgemini.WithSearchGrounding())
		}
		return chatgemini.New(ctx, key, c.Model, opts...)
	case config.BackendOpenAI:
		var opts []chatopenai.Option
		if c.BaseURL != "" {
			opts = append(opts, chatopenai.WithBaseURL(c.BaseURL))
		}
		return chatopenai.New(key, c.Model, opts...)
	}
	return nil, fmt.Errorf("chat: unknown backend %q", c.Backend)
}

// buildLiveProvider constructs the realtime voice backend selected by the
// voice config section.
func buildLiveProvider() (live.Provider, error) {
	v := cfg.Voice
	key := v.APIKey()
	if key == "" {
		return nil, fmt.Errorf("voice: no API key in $%s", v.APIKeyEnv)
	}

	switch v.Backend {
	case config.BackendGemini:
		var opts []livegemini.Option
		if v.Model != "" {
			opts = append(opts, livegemini.WithModel(v.Model))
		}
		if v.BaseURL != "" {
			opts = append(opts, livegemini.WithBaseURL(v.BaseURL))
		}
		return livegemini.New(key, opts...), nil
	case config.BackendOpenAI:
		var opts []liveopenai.Option
		if v.Model != "" {
			opts = append(opts, liveopenai.WithModel(v.Model))
		}
		if v.BaseURL != "" {
			opts = append(opts, liveopenai.WithBaseURL(v.BaseURL))
		}
		return liveopenai.New(key, opts...), nil
	}
	return nil, fmt.Errorf("voice: unknown backend %q", v.Backend)
}

// buildEmbeddings constructs the embeddings provider, or returns (nil, nil)
// when no backend is configured and history search is simply off.
func buildEmbeddings() (embeddings.Provider, error) {
	e := cfg.Embeddings
	switch e.Backend {
	case "":
		return nil, nil
	case config.EmbeddingsOpenAI:
		key := e.APIKey()
		if key == "" {
			return nil, fmt.Errorf("embeddings: no API key in $%s", e.APIKeyEnv)
		}
		var opts []embedopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, embedopenai.WithBaseURL(e.BaseURL))
		}
		return embedopenai.New(key, e.Model, opts...)
	case config.EmbeddingsOllama:
		return embedollama.New(e.BaseURL, e.Model)
	}
	return nil, fmt.Errorf("embeddings: unknown backend %q", e.Backend)
}
