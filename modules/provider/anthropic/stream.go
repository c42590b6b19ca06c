package anthropic

import (
	"context"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/flemzord/roundtable/internal/provider"
)

const streamBufferSize = 16

// Stream implements provider.Provider. The first event is read before
// returning so connection and HTTP errors surface directly.
func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req), p.keyOption())

	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil {
			return nil, mapError(err)
		}
		ch := make(chan provider.StreamChunk)
		close(ch)
		return ch, nil
	}
	first := stream.Current()

	ch := make(chan provider.StreamChunk, streamBufferSize)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()
		consume(ctx, stream, first, ch)
	}()
	return ch, nil
}

func consume(
	ctx context.Context,
	stream *ssestream.Stream[sdkanthropic.MessageStreamEventUnion],
	first sdkanthropic.MessageStreamEventUnion,
	ch chan<- provider.StreamChunk,
) {
	var inputTokens int64
	handle := func(event sdkanthropic.MessageStreamEventUnion) bool {
		switch ev := event.AsAny().(type) {
		case sdkanthropic.MessageStartEvent:
			inputTokens = ev.Message.Usage.InputTokens
		case sdkanthropic.ContentBlockDeltaEvent:
			if text, ok := ev.Delta.AsAny().(sdkanthropic.TextDelta); ok && text.Text != "" {
				return emit(ctx, ch, provider.StreamChunk{Content: text.Text})
			}
		case sdkanthropic.MessageDeltaEvent:
			u := usage(inputTokens, ev.Usage.OutputTokens)
			return emit(ctx, ch, provider.StreamChunk{
				FinishReason: convertStopReason(ev.Delta.StopReason),
				Usage:        &u,
			})
		}
		return true
	}

	if !handle(first) {
		return
	}
	for stream.Next() {
		if !handle(stream.Current()) {
			return
		}
	}
	if err := stream.Err(); err != nil {
		emit(ctx, ch, provider.StreamChunk{Err: mapError(err)})
	}
}

// emit sends chunk unless ctx is done first. It reports whether the chunk
// was delivered.
func emit(ctx context.Context, ch chan<- provider.StreamChunk, chunk provider.StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
