package chat

import (
	"github.com/parley-ai/parley/internal/history"
	provider "github.com/parley-ai/parley/pkg/provider/chat"
)

// toStored projects the session log into history records. Attachment
// payloads are deliberately left behind; only the metadata survives.
func toStored(entries []turnRecord) []history.Message {
	msgs := make([]history.Message, len(entries))
	for i, e := range entries {
		msgs[i] = history.Message{
			Role:        string(e.msg.Role),
			Text:        e.msg.Text,
			Timestamp:   e.at,
			Attachments: e.attMeta,
			Citations:   toStoredCitations(e.citations),
			ToolCalls:   toStoredCalls(e.msg.ToolCalls),
			ToolCallID:  e.msg.ToolCallID,
		}
	}
	return msgs
}

// fromStored rebuilds the session log from history records. Citations and
// attachment metadata ride along so a later save does not lose them; the
// provider view carries text, roles and tool linkage only.
func fromStored(msgs []history.Message) []turnRecord {
	entries := make([]turnRecord, len(msgs))
	for i, m := range msgs {
		entries[i] = turnRecord{
			msg: provider.Message{
				Role:       provider.Role(m.Role),
				Text:       m.Text,
				ToolCalls:  fromStoredCalls(m.ToolCalls),
				ToolCallID: m.ToolCallID,
			},
			citations: fromStoredCitations(m.Citations),
			attMeta:   m.Attachments,
			at:        m.Timestamp,
		}
	}
	return entries
}

func metaOf(a provider.Attachment) history.Attachment {
	return history.Attachment{
		Name:     a.Name,
		MIMEType: a.MIMEType,
		Size:     len(a.Data),
	}
}

func attachmentMeta(atts []provider.Attachment) []history.Attachment {
	if len(atts) == 0 {
		return nil
	}
	meta := make([]history.Attachment, len(atts))
	for i, a := range atts {
		meta[i] = metaOf(a)
	}
	return meta
}

func toStoredCitations(cits []provider.Citation) []history.Citation {
	if len(cits) == 0 {
		return nil
	}
	out := make([]history.Citation, len(cits))
	for i, c := range cits {
		out[i] = history.Citation{URI: c.URI, Title: c.Title, Start: c.Start, End: c.End}
	}
	return out
}

func fromStoredCitations(cits []history.Citation) []provider.Citation {
	if len(cits) == 0 {
		return nil
	}
	out := make([]provider.Citation, len(cits))
	for i, c := range cits {
		out[i] = provider.Citation{URI: c.URI, Title: c.Title, Start: c.Start, End: c.End}
	}
	return out
}

func toStoredCalls(calls []provider.ToolCall) []history.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]history.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = history.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func fromStoredCalls(calls []history.ToolCall) []provider.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]provider.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = provider.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}
