package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	"memrelay/internal/config"
)

// CheckKeyFormat rejects keys that cannot belong to provider without a
// network call.
func CheckKeyFormat(provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("API key is required")
	}
	if provider == config.ProviderOpenRouter {
		switch {
		case strings.HasPrefix(key, "sk-or-"):
			return nil
		case strings.HasPrefix(key, "sk-"):
			return errors.New("this appears to be an OpenAI key; please use an OpenRouter key (sk-or-...)")
		default:
			return errors.New("invalid key format: OpenRouter API keys start with 'sk-or-'")
		}
	}
	switch {
	case strings.HasPrefix(key, "sk-or-"):
		return errors.New("this appears to be an OpenRouter key (sk-or-); please use an OpenAI key (sk-...)")
	case strings.HasPrefix(key, "sk-"):
		return nil
	default:
		return errors.New("invalid key format: OpenAI API keys start with 'sk-'")
	}
}

// VerifyKey checks the key format and then lists models with it. The
// message explains a rejection and is empty when the key works.
func (c *Client) VerifyKey(ctx context.Context) (bool, string) {
	if err := CheckKeyFormat(c.cfg.Provider, c.cfg.APIKey); err != nil {
		return false, err.Error()
	}
	page, err := c.api.Models.List(ctx)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusUnauthorized:
				return false, "Invalid or expired API key"
			case http.StatusForbidden:
				return false, "API key access denied"
			default:
				return false, fmt.Sprintf("API error: %d", apiErr.StatusCode)
			}
		}
		return false, fmt.Sprintf("Connection error: %v", err)
	}
	if len(page.Data) == 0 {
		return false, "API key valid but no models accessible"
	}
	return true, ""
}
