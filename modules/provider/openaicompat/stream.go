package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flemzord/roundtable/internal/provider"
)

type oaiStreamChunk struct {
	Choices []oaiStreamChoice `json:"choices"`
	Usage   *oaiUsage         `json:"usage,omitempty"`
}

type oaiStreamChoice struct {
	Delta        oaiStreamDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type oaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}

// parseSSEStream reads SSE lines until [DONE], EOF or an error and hands
// each chunk to emit. It stops early when emit returns false.
func parseSSEStream(ctx context.Context, scanner *bufio.Scanner, emit func(provider.StreamChunk) bool) {
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			emit(provider.StreamChunk{Err: err})
			return
		}

		// Some providers omit the space after "data:".
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimPrefix(data, " ")
		if data == "[DONE]" {
			return
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			emit(provider.StreamChunk{Err: fmt.Errorf("parse SSE chunk: %w", err)})
			return
		}

		var sc provider.StreamChunk
		if chunk.Usage != nil {
			u := chunk.Usage.toProvider()
			sc.Usage = &u
		}
		if len(chunk.Choices) > 0 {
			choice := chunk.Choices[0]
			sc.Content = choice.Delta.Content
			if choice.FinishReason != nil {
				sc.FinishReason = mapFinishReason(*choice.FinishReason)
			}
		}
		if sc.Content == "" && sc.FinishReason == "" && sc.Usage == nil {
			continue
		}
		if !emit(sc) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			emit(provider.StreamChunk{Err: ctx.Err()})
			return
		}
		emit(provider.StreamChunk{Err: fmt.Errorf("%w: stream read error: %w", provider.ErrProviderDown, err)})
	}
}
