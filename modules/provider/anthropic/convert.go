package anthropic

import (
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/flemzord/roundtable/internal/provider"
)

// buildParams converts req to Messages API parameters. System messages
// move to the dedicated system field; the API accepts no other placement.
func (p *Provider) buildParams(req provider.CompletionRequest) sdkanthropic.MessageNewParams {
	var (
		system   []sdkanthropic.TextBlockParam
		messages []sdkanthropic.MessageParam
	)
	for i, m := range req.Messages {
		switch m.Role {
		case provider.MessageRoleSystem:
			if len(messages) > 0 {
				p.logger.Debug("moving late system message to the system field", "index", i)
			}
			system = append(system, sdkanthropic.TextBlockParam{Text: m.Content})
		case provider.MessageRoleAssistant:
			messages = append(messages, sdkanthropic.NewAssistantMessage(sdkanthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, sdkanthropic.NewUserMessage(sdkanthropic.NewTextBlock(m.Content)))
		}
	}

	params := sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(p.config.Model),
		MaxTokens: int64(p.config.MaxTokens),
		Messages:  messages,
		System:    system,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = sdkanthropic.Float(*req.Temperature)
	}
	return params
}

// convertResponse joins the text blocks of msg.
func convertResponse(msg *sdkanthropic.Message) provider.CompletionResponse {
	var parts []string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(sdkanthropic.TextBlock); ok {
			parts = append(parts, text.Text)
		}
	}
	return provider.CompletionResponse{
		Content:      strings.Join(parts, "\n"),
		FinishReason: convertStopReason(msg.StopReason),
		Usage:        usage(msg.Usage.InputTokens, msg.Usage.OutputTokens),
	}
}

func usage(input, output int64) provider.TokenUsage {
	return provider.TokenUsage{
		PromptTokens:     int(input),
		CompletionTokens: int(output),
		TotalTokens:      int(input + output),
	}
}

func convertStopReason(reason sdkanthropic.StopReason) provider.FinishReason {
	switch reason {
	case sdkanthropic.StopReasonMaxTokens:
		return provider.FinishReasonLength
	case sdkanthropic.StopReasonRefusal:
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}
