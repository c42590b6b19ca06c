package roundtable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/roundtable/internal/lexical"
	"github.com/flemzord/roundtable/internal/provider"
)

// CallResult is the outcome of one successful backend call.
type CallResult struct {
	Content      string
	Usage        provider.TokenUsage
	Cost         float64
	Latency      time.Duration
	FinishReason provider.FinishReason
}

// Caller issues one completion call to one backend under a deadline.
type Caller struct {
	tracer trace.Tracer
	now    func() time.Time
}

// NewCaller creates a Caller that records a span per call on tracer.
func NewCaller(tracer trace.Tracer) *Caller {
	return &Caller{tracer: tracer, now: time.Now}
}

// Call sends req to the backend behind h. When streaming is set, onChunk
// receives every non-empty chunk in arrival order. The call is cancelled
// when timeout elapses and the error then wraps ErrBackendTimeout; other
// failures wrap ErrBackendFailed. The outcome is reported to the
// backend's health tracker.
func (c *Caller) Call(
	ctx context.Context,
	h *provider.Handle,
	req provider.CompletionRequest,
	streaming bool,
	timeout time.Duration,
	onChunk func(string),
) (CallResult, error) {
	ctx, span := c.tracer.Start(ctx, "roundtable.call", trace.WithAttributes(
		attribute.String("backend", h.ID),
		attribute.String("model", h.Provider.ModelName()),
		attribute.Bool("streaming", streaming),
	))
	defer span.End()

	if !h.Available() {
		err := fmt.Errorf("%w: %s: %w", ErrBackendFailed, h.ID, provider.ErrUnavailable)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unavailable")
		return CallResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := c.now()
	var (
		res CallResult
		err error
	)
	if streaming {
		res, err = c.stream(callCtx, h, req, onChunk)
	} else {
		res, err = c.complete(callCtx, h, req)
	}
	res.Latency = c.now().Sub(start)

	if err == nil {
		h.Report(nil)
		c.fillCost(h, req, &res)
		span.SetAttributes(
			attribute.Int("tokens", res.Usage.Total()),
			attribute.Float64("cost", res.Cost),
		)
		return res, nil
	}

	// The deadline fired on our context but not on the caller's.
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		h.Report(context.DeadlineExceeded)
		err = fmt.Errorf("%w: %s after %s", ErrBackendTimeout, h.ID, timeout)
	} else {
		h.Report(err)
		err = fmt.Errorf("%w: %s: %w", ErrBackendFailed, h.ID, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return res, err
}

// complete runs Provider.Complete in its own goroutine so a provider that
// ignores cancellation still cannot hold the execution past its deadline.
func (c *Caller) complete(ctx context.Context, h *provider.Handle, req provider.CompletionRequest) (CallResult, error) {
	type outcome struct {
		resp provider.CompletionResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := h.Provider.Complete(ctx, req)
		done <- outcome{resp, err}
	}()

	select {
	case <-ctx.Done():
		return CallResult{}, ctx.Err()
	case o := <-done:
		if o.err != nil {
			return CallResult{}, o.err
		}
		return CallResult{
			Content:      o.resp.Content,
			Usage:        o.resp.Usage,
			Cost:         o.resp.Cost,
			FinishReason: o.resp.FinishReason,
		}, nil
	}
}

func (c *Caller) stream(ctx context.Context, h *provider.Handle, req provider.CompletionRequest, onChunk func(string)) (CallResult, error) {
	ch, err := h.Provider.Stream(ctx, req)
	if err != nil {
		return CallResult{}, err
	}

	var (
		res CallResult
		b   strings.Builder
	)
	for {
		select {
		case <-ctx.Done():
			return CallResult{}, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				if err := ctx.Err(); err != nil {
					return CallResult{}, err
				}
				res.Content = b.String()
				return res, nil
			}
			if chunk.Err != nil {
				return CallResult{}, chunk.Err
			}
			if chunk.Content != "" {
				b.WriteString(chunk.Content)
				if onChunk != nil {
					onChunk(chunk.Content)
				}
			}
			if chunk.Usage != nil {
				res.Usage = *chunk.Usage
			}
			if chunk.Cost != nil {
				res.Cost = *chunk.Cost
			}
			if chunk.FinishReason != "" {
				res.FinishReason = chunk.FinishReason
			}
		}
	}
}

// fillCost estimates usage when the backend reported none and prices it
// when the backend reported no cost.
func (c *Caller) fillCost(h *provider.Handle, req provider.CompletionRequest, res *CallResult) {
	if res.Usage.Total() == 0 {
		prompt := 0
		for _, m := range req.Messages {
			prompt += lexical.EstimateTokens(m.Content)
		}
		completion := lexical.EstimateTokens(res.Content)
		res.Usage = provider.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}
	}
	if res.Cost == 0 {
		res.Cost = h.Pricing.Cost(res.Usage)
	}
}
