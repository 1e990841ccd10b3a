package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/internal/llm"
)

// LLMTranslator translates chunks through an OpenAI-compatible chat API.
type LLMTranslator struct {
	client            *llm.Client
	costPerThousandTk float64
}

func NewLLMTranslator(client *llm.Client, costPerThousandTokens float64) *LLMTranslator {
	return &LLMTranslator{
		client:            client,
		costPerThousandTk: costPerThousandTokens,
	}
}

func (t *LLMTranslator) TranslateChunk(ctx context.Context, req ChunkRequest) (ChunkResult, error) {
	content, usage, err := t.client.SimpleChat(ctx, buildPrompt(req), buildSystemPrompt(req))
	if err != nil {
		return ChunkResult{}, fmt.Errorf("translate chunk %d: %w", req.Index, err)
	}

	return ChunkResult{
		Text: strings.TrimSpace(content),
		Usage: jobs.ChunkUsage{
			Tokens: int64(usage.TotalTokens),
			Cost:   float64(usage.TotalTokens) / 1000 * t.costPerThousandTk,
		},
	}, nil
}

func buildSystemPrompt(req ChunkRequest) string {
	var sb strings.Builder
	sb.WriteString("You are a professional document translator. ")
	if req.SourceLanguage != "" {
		fmt.Fprintf(&sb, "Translate from %s into %s. ", req.SourceLanguage, req.TargetLanguage)
	} else {
		fmt.Fprintf(&sb, "Translate into %s. ", req.TargetLanguage)
	}
	tone := req.Tone
	if tone == "" {
		tone = jobs.ToneNeutral
	}
	fmt.Fprintf(&sb, "Use a %s tone. ", tone)
	sb.WriteString("Preserve paragraph breaks and formatting. Output only the translation.")
	return sb.String()
}

func buildPrompt(req ChunkRequest) string {
	if len(req.ContextBefore) == 0 {
		return req.Text
	}
	var sb strings.Builder
	sb.WriteString("Preceding passages, already translated, for context only (do not re-translate):\n\n")
	for _, chunk := range req.ContextBefore {
		sb.WriteString(chunk)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Translate the following passage:\n\n")
	sb.WriteString(req.Text)
	return sb.String()
}
