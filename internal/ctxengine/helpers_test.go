package ctxengine_test

import (
	"context"
	"time"

	"github.com/flemzord/roundtable/internal/ctxengine"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestEngine(cfg ctxengine.Config, opts ...ctxengine.Option) *ctxengine.Engine {
	return ctxengine.NewEngine(cfg, append([]ctxengine.Option{ctxengine.WithClock(fixedClock)}, opts...)...)
}

func ptr(f float64) *float64 { return &f }

// measured returns an item with Tokens derived from its content.
func measured(it ctxengine.Item) ctxengine.Item {
	it.Measure()
	return it
}

// mockSummarizer implements ctxengine.Summarizer for tests.
type mockSummarizer struct {
	result string
	err    error
	called int
}

func (m *mockSummarizer) Summarize(_ context.Context, _ []ctxengine.Item) (string, error) {
	m.called++
	return m.result, m.err
}

func ids(items []ctxengine.Item) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].ID
	}
	return out
}
