// Package gemini provides a chat provider backed by the Google Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/parley-ai/parley/pkg/provider/chat"
)

var _ chat.Provider = (*Provider)(nil)

// Provider implements chat.Provider using the Gemini API.
type Provider struct {
	client    *genai.Client
	model     string
	grounding bool
}

// config holds optional configuration for the provider.
type config struct {
	baseURL   string
	grounding bool
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Gemini API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithSearchGrounding enables Google Search grounding. Grounded responses
// carry source attributions, surfaced as citation events.
func WithSearchGrounding() Option {
	return func(c *config) {
		c.grounding = true
	}
}

// New constructs a new Gemini chat Provider.
func New(ctx context.Context, apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{APIKey: apiKey}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Provider{client: client, model: model, grounding: cfg.grounding}, nil
}

// Stream implements chat.Provider.
func (p *Provider) Stream(ctx context.Context, req chat.Request) (<-chan chat.Event, error) {
	cfg, contents, err := p.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}

	ch := make(chan chat.Event, 32)
	go func() {
		defer close(ch)

		send := func(evt chat.Event) bool {
			select {
			case ch <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			usage       chat.Usage
			reason      chat.FinishReason
			sawToolCall bool
		)

		for chunk, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
			if err != nil {
				send(chat.Event{Kind: chat.EventFinish, Finish: &chat.Finish{
					Reason: chat.FinishError,
					Err:    fmt.Errorf("gemini: stream: %w", err),
				}})
				return
			}
			if chunk.UsageMetadata != nil {
				usage = convertUsage(chunk.UsageMetadata)
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			cand := chunk.Candidates[0]

			if cand.Content != nil {
				for _, part := range cand.Content.Parts {
					evt, ok := convertPart(part)
					if !ok {
						continue
					}
					if evt.Kind == chat.EventToolCall {
						sawToolCall = true
					}
					if !send(evt) {
						return
					}
				}
			}

			for _, c := range convertCitations(cand.GroundingMetadata) {
				cit := c
				if !send(chat.Event{Kind: chat.EventCitation, Citation: &cit}) {
					return
				}
			}

			switch cand.FinishReason {
			case "", genai.FinishReasonUnspecified:
				// mid-stream chunk
			case genai.FinishReasonStop:
				reason = chat.FinishStop
			case genai.FinishReasonMaxTokens:
				reason = chat.FinishMaxTokens
			default:
				send(chat.Event{Kind: chat.EventFinish, Finish: &chat.Finish{
					Reason: chat.FinishError,
					Usage:  usage,
					Err:    fmt.Errorf("gemini: generation stopped: %s", cand.FinishReason),
				}})
				return
			}
		}

		if reason == "" {
			reason = chat.FinishStop
		}
		// Gemini reports STOP even when the turn ended on a function call.
		if sawToolCall && reason == chat.FinishStop {
			reason = chat.FinishToolCalls
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
	cfg, contents, err := p.buildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: no candidates in response")
	}

	cand := resp.Candidates[0]
	result := &chat.Response{
		Citations: convertCitations(cand.GroundingMetadata),
	}
	if resp.UsageMetadata != nil {
		result.Usage = convertUsage(resp.UsageMetadata)
	}
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			evt, ok := convertPart(part)
			if !ok {
				continue
			}
			switch evt.Kind {
			case chat.EventText:
				result.Text += evt.Text
			case chat.EventToolCall:
				result.ToolCalls = append(result.ToolCalls, *evt.ToolCall)
			}
		}
	}
	return result, nil
}

// buildRequest converts a chat.Request into genai config and contents.
func (p *Provider) buildRequest(req chat.Request) (*genai.GenerateContentConfig, []*genai.Content, error) {
	cfg := &genai.GenerateContentConfig{}

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.SystemPrompt)},
		}
	}
	if req.Temperature != 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	for _, td := range req.Tools {
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        td.Name,
					Description: td.Description,
					Parameters:  convertSchema(td.Parameters),
				},
			},
		})
	}
	if p.grounding {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}

	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("no contents")
	}

	return cfg, contents, nil
}

// convertMessages maps conversation history onto genai contents. Consecutive
// messages with the same wire role merge into one content, which the API
// requires for multi-part turns.
func convertMessages(msgs []chat.Message) ([]*genai.Content, error) {
	var (
		contents []*genai.Content
		last     *genai.Content
	)

	appendParts := func(role string, parts []*genai.Part) {
		if last != nil && last.Role == role {
			last.Parts = append(last.Parts, parts...)
			return
		}
		c := &genai.Content{Role: role, Parts: parts}
		contents = append(contents, c)
		last = c
	}

	for _, m := range msgs {
		switch m.Role {
		case chat.RoleUser, chat.RoleSystem:
			// Gemini has no system role in contents; stray system messages
			// travel as user text.
			parts := []*genai.Part{}
			if m.Text != "" {
				parts = append(parts, genai.NewPartFromText(m.Text))
			}
			for _, att := range m.Attachments {
				parts = append(parts, genai.NewPartFromBytes(att.Data, att.MIMEType))
			}
			if len(parts) == 0 {
				continue
			}
			appendParts("user", parts)

		case chat.RoleAssistant:
			parts := []*genai.Part{}
			if m.Text != "" {
				parts = append(parts, genai.NewPartFromText(m.Text))
			}
			for _, tc := range m.ToolCalls {
				args, err := decodeArgs(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("tool call %q: %w", tc.Name, err)
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(parts) == 0 {
				continue
			}
			appendParts("model", parts)

		case chat.RoleTool:
			result, err := decodeArgs(m.Text)
			if err != nil {
				result = map[string]any{"output": m.Text}
			}
			parts := []*genai.Part{genai.NewPartFromFunctionResponse(m.ToolCallID, result)}
			appendParts("user", parts)

		default:
			return nil, fmt.Errorf("unknown message role %q", m.Role)
		}
	}

	return contents, nil
}

// decodeArgs parses a JSON argument string into a map, repairing almost-JSON
// along the way.
func decodeArgs(raw string) (map[string]any, error) {
	fixed, err := chat.NormalizeArgs(raw)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(fixed), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// convertPart maps one response part onto a stream event. The second return
// is false for parts that carry nothing to surface.
func convertPart(part *genai.Part) (chat.Event, bool) {
	switch {
	case part == nil:
		return chat.Event{}, false

	case part.Text != "":
		return chat.Event{Kind: chat.EventText, Text: part.Text}, true

	case part.InlineData != nil:
		return chat.Event{Kind: chat.EventBlob, Blob: &chat.Attachment{
			MIMEType: part.InlineData.MIMEType,
			Data:     part.InlineData.Data,
		}}, true

	case part.FunctionCall != nil:
		fc := part.FunctionCall
		args := "{}"
		if len(fc.Args) > 0 {
			if data, err := json.Marshal(fc.Args); err == nil {
				args = string(data)
			}
		}
		id := fc.ID
		if id == "" {
			// The REST API omits call IDs; the name stands in so responses
			// can be routed back.
			id = fc.Name
		}
		return chat.Event{Kind: chat.EventToolCall, ToolCall: &chat.ToolCall{
			ID:        id,
			Name:      fc.Name,
			Arguments: args,
		}}, true

	default:
		return chat.Event{}, false
	}
}

// convertCitations maps grounding metadata onto citations. When the response
// carries span-level supports each supported span yields one citation per
// source; otherwise the bare source list is returned.
func convertCitations(gm *genai.GroundingMetadata) []chat.Citation {
	if gm == nil {
		return nil
	}

	var out []chat.Citation
	if len(gm.GroundingSupports) > 0 {
		for _, sup := range gm.GroundingSupports {
			for _, idx := range sup.GroundingChunkIndices {
				if int(idx) >= len(gm.GroundingChunks) {
					continue
				}
				src := gm.GroundingChunks[idx]
				if src == nil || src.Web == nil {
					continue
				}
				c := chat.Citation{URI: src.Web.URI, Title: src.Web.Title}
				if sup.Segment != nil {
					c.Start = int(sup.Segment.StartIndex)
					c.End = int(sup.Segment.EndIndex)
				}
				out = append(out, c)
			}
		}
		return out
	}

	for _, src := range gm.GroundingChunks {
		if src == nil || src.Web == nil {
			continue
		}
		out = append(out, chat.Citation{URI: src.Web.URI, Title: src.Web.Title})
	}
	return out
}

// convertSchema converts a JSON Schema map into the genai schema type.
func convertSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}

	s := &genai.Schema{}
	if v, ok := m["type"].(string); ok {
		s.Type = convertSchemaType(v)
	}
	if v, ok := m["description"].(string); ok {
		s.Description = v
	}
	if v, ok := m["format"].(string); ok {
		s.Format = v
	}
	if v, ok := m["enum"].([]any); ok {
		for _, e := range v {
			s.Enum = append(s.Enum, fmt.Sprintf("%v", e))
		}
	}
	if v, ok := m["required"].([]any); ok {
		for _, e := range v {
			if name, ok := e.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if v, ok := m["items"].(map[string]any); ok {
		s.Items = convertSchema(v)
	}
	if v, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(v))
		for k, prop := range v {
			if pm, ok := prop.(map[string]any); ok {
				s.Properties[k] = convertSchema(pm)
			}
		}
	}
	return s
}

func convertSchemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}

func convertUsage(md *genai.GenerateContentResponseUsageMetadata) chat.Usage {
	return chat.Usage{
		PromptTokens:     int(md.PromptTokenCount),
		CompletionTokens: int(md.CandidatesTokenCount),
		TotalTokens:      int(md.TotalTokenCount),
	}
}
