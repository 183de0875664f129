// Package summarizer turns memory content into condensed text using an LLM
// provider. It owns prompt construction for the three summary styles and
// the three target lengths; tier selection (which style/length to use for
// automatic summaries) lives in pkg/core.
package summarizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/pxl-research/tai-mcp-memory/pkg/llm"
)

// Style is the kind of summary to produce.
type Style string

const (
	// StyleAbstractive rephrases and synthesizes the information.
	StyleAbstractive Style = "abstractive"

	// StyleExtractive selects key sentences directly from the text.
	StyleExtractive Style = "extractive"

	// StyleQueryFocused answers a specific query. Requires a query.
	StyleQueryFocused Style = "query_focused"
)

// Length is the target summary length.
type Length string

const (
	LengthShort    Length = "short"
	LengthMedium   Length = "medium"
	LengthDetailed Length = "detailed"
)

// ErrQueryRequired indicates a query_focused summary was requested without
// a query. This is a caller contract violation, not a runtime failure.
var ErrQueryRequired = errors.New("query must be provided for query_focused summaries")

// Summarizer generates summaries through an LLM provider.
type Summarizer struct {
	provider llm.Provider
}

// New creates a Summarizer on top of the given provider.
func New(provider llm.Provider) *Summarizer {
	return &Summarizer{provider: provider}
}

// Generate produces a summary of text with the given style and length.
// query is only consulted for StyleQueryFocused, where it is mandatory.
//
// An empty result from the provider is reported as an error so callers can
// treat it as a failed (degraded) generation.
func (s *Summarizer) Generate(ctx context.Context, text string, style Style, length Length, query string) (string, error) {
	if style == StyleQueryFocused && query == "" {
		return "", ErrQueryRequired
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt(style, length, query)},
		{Role: "user", Content: fmt.Sprintf("Please summarize the following text:\n\n%s", text)},
	}

	summary, err := s.provider.GenerateWithMessages(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	if summary == "" {
		return "", errors.New("generate summary: empty response")
	}

	return summary, nil
}

// systemPrompt builds the instruction for the requested style and length.
func systemPrompt(style Style, length Length, query string) string {
	prompt := fmt.Sprintf("You are a highly skilled summarization AI. Your task is to provide a %s summary.", length)

	switch style {
	case StyleAbstractive:
		prompt += " The summary should be abstractive, meaning you should rephrase and synthesize the information."
	case StyleExtractive:
		prompt += " The summary should be extractive, meaning you should select key sentences directly from the text."
	case StyleQueryFocused:
		prompt += fmt.Sprintf(" The summary should be focused on answering the following query: '%s'.", query)
	}

	prompt += " Ensure the summary is concise, accurate, and captures the main points."

	switch length {
	case LengthShort:
		prompt += " Keep the summary very brief, around 1-2 sentences."
	case LengthMedium:
		prompt += " Aim for a summary of 3-5 sentences."
	case LengthDetailed:
		prompt += " Provide a comprehensive summary, covering all important aspects, around 5-10 sentences."
	}

	return prompt
}
