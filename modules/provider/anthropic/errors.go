package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/flemzord/roundtable/internal/provider"
)

// statusOverloaded is Anthropic's "overloaded" status.
const statusOverloaded = 529

// mapError converts an SDK error to the provider sentinels. Context errors
// pass through unchanged so a cancelled call is not counted as an outage.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *sdkanthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", provider.ErrProviderDown, err)
	}

	switch code := apiErr.StatusCode; {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimit, apiErr.Error())
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", provider.ErrAuthentication, code)
	case code == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", provider.ErrContextLength, apiErr.Error())
	case code == http.StatusBadRequest && isContextLengthError(apiErr.RawJSON()):
		return fmt.Errorf("%w: %s", provider.ErrContextLength, apiErr.Error())
	case code == statusOverloaded || code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", provider.ErrProviderDown, apiErr.Error())
	default:
		return fmt.Errorf("provider.anthropic: HTTP %d: %w", code, err)
	}
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

var contextLengthPhrases = []string{"context length", "too many tokens", "token limit", "prompt is too long"}

// isContextLengthError reports whether a 400 body says the prompt exceeded
// the model's context window.
func isContextLengthError(raw string) bool {
	msg := raw
	var body apiErrorBody
	if err := json.Unmarshal([]byte(raw), &body); err == nil {
		if body.Error.Type != "invalid_request_error" {
			return false
		}
		msg = body.Error.Message
	}
	msg = strings.ToLower(msg)
	for _, phrase := range contextLengthPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
