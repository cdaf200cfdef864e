// Package openai provides a chat provider backed by the OpenAI API.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/parley-ai/parley/pkg/provider/chat"
)

var _ chat.Provider = (*Provider)(nil)

// Provider implements chat.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI chat Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Stream implements chat.Provider.
func (p *Provider) Stream(ctx context.Context, req chat.Request) (<-chan chat.Event, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}
	params.StreamOptions = oai.ChatCompletionStreamOptionsParam{
		IncludeUsage: param.NewOpt(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan chat.Event, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(evt chat.Event) bool {
			select {
			case ch <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		acc := newToolCallAccumulator()
		var (
			reason chat.FinishReason
			usage  chat.Usage
		)

		for stream.Next() {
			chunk := stream.Current()

			// The usage-only chunk at the end of the stream has no choices.
			if chunk.Usage.TotalTokens > 0 {
				usage = chat.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				if !send(chat.Event{Kind: chat.EventText, Text: choice.Delta.Content}) {
					return
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				acc.add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
			}

			if choice.FinishReason != "" {
				reason = mapFinishReason(choice.FinishReason)
			}
		}

		if err := stream.Err(); err != nil {
			send(chat.Event{Kind: chat.EventFinish, Finish: &chat.Finish{
				Reason: chat.FinishError,
				Err:    fmt.Errorf("openai: stream: %w", err),
			}})
			return
		}

		for _, tc := range acc.calls() {
			call := tc
			if !send(chat.Event{Kind: chat.EventToolCall, ToolCall: &call}) {
				return
			}
		}

		if reason == "" {
			reason = chat.FinishStop
		}
		send(chat.Event{Kind: chat.EventFinish, Finish: &chat.Finish{
			Reason: reason,
			Usage:  usage,
		}})
	}()

	return ch, nil
}

// Complete implements chat.Provider.
func (p *Provider) Complete(ctx context.Context, req chat.Request) (*chat.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &chat.Response{
		Text: choice.Message.Content,
		Usage: chat.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if fixed, err := chat.NormalizeArgs(args); err == nil {
			args = fixed
		}
		result.ToolCalls = append(result.ToolCalls, chat.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}

// mapFinishReason converts an OpenAI finish reason string.
func mapFinishReason(reason string) chat.FinishReason {
	switch reason {
	case "length":
		return chat.FinishMaxTokens
	case "tool_calls", "function_call":
		return chat.FinishToolCalls
	default:
		return chat.FinishStop
	}
}

// toolCallAccumulator reassembles tool calls that arrive as indexed
// fragments across stream chunks.
type toolCallAccumulator struct {
	byIndex map[int]*chat.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: map[int]*chat.ToolCall{}}
}

// add merges one fragment. ID and name stick once seen; argument fragments
// concatenate in arrival order.
func (a *toolCallAccumulator) add(index int, id, name, argsFragment string) {
	tc, ok := a.byIndex[index]
	if !ok {
		tc = &chat.ToolCall{}
		a.byIndex[index] = tc
	}
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += argsFragment
}

// calls returns the completed tool calls in index order, with arguments
// normalized to valid JSON. Arguments that cannot be repaired pass through
// as received.
func (a *toolCallAccumulator) calls() []chat.ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	out := make([]chat.ToolCall, 0, len(a.byIndex))
	for i := 0; i < len(a.byIndex); i++ {
		tc, ok := a.byIndex[i]
		if !ok {
			continue
		}
		if fixed, err := chat.NormalizeArgs(tc.Arguments); err == nil {
			tc.Arguments = fixed
		}
		out = append(out, *tc)
	}
	return out
}

// buildParams converts a chat.Request into OpenAI SDK params.
func (p *Provider) buildParams(req chat.Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	for _, td := range req.Tools {
		toolParam := oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		}
		params.Tools = append(params.Tools, toolParam)
	}

	return params, nil
}

// convertMessage converts a chat.Message to an OpenAI SDK message param.
func convertMessage(m chat.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case chat.RoleSystem:
		return oai.SystemMessage(m.Text), nil

	case chat.RoleUser:
		if len(m.Attachments) == 0 {
			return oai.UserMessage(m.Text), nil
		}
		parts := make([]oai.ChatCompletionContentPartUnionParam, 0, len(m.Attachments)+1)
		if m.Text != "" {
			parts = append(parts, oai.TextContentPart(m.Text))
		}
		for _, att := range m.Attachments {
			part, err := convertAttachment(att)
			if err != nil {
				return oai.ChatCompletionMessageParamUnion{}, err
			}
			parts = append(parts, part)
		}
		return oai.UserMessage(parts), nil

	case chat.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Text != "" {
			asst.Content.OfString = oai.String(m.Text)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case chat.RoleTool:
		return oai.ToolMessage(m.Text, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

// convertAttachment maps a mime-typed blob onto an OpenAI content part.
// Images travel as base64 data URLs, audio as input_audio parts, and plain
// text is inlined.
func convertAttachment(att chat.Attachment) (oai.ChatCompletionContentPartUnionParam, error) {
	switch {
	case strings.HasPrefix(att.MIMEType, "image/"):
		url := "data:" + att.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
		return oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL: url,
		}), nil

	case att.MIMEType == "audio/wav" || att.MIMEType == "audio/x-wav":
		return oai.InputAudioContentPart(oai.ChatCompletionContentPartInputAudioInputAudioParam{
			Data:   base64.StdEncoding.EncodeToString(att.Data),
			Format: "wav",
		}), nil

	case att.MIMEType == "audio/mpeg":
		return oai.InputAudioContentPart(oai.ChatCompletionContentPartInputAudioInputAudioParam{
			Data:   base64.StdEncoding.EncodeToString(att.Data),
			Format: "mp3",
		}), nil

	case strings.HasPrefix(att.MIMEType, "text/"):
		return oai.TextContentPart(string(att.Data)), nil

	default:
		return oai.ChatCompletionContentPartUnionParam{}, fmt.Errorf("openai: unsupported attachment type %q", att.MIMEType)
	}
}
