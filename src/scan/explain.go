package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNoProvider = errors.New("no explanation provider configured")

const explanationPrompt = `You are an expert hardware repair technician and instructor.
Explain the following computer component to a beginner student: "%s".

Structure your response in HTML format (no markdown code blocks, just raw HTML tags like <h3>, <p>, <ul>, <li>) with the following sections:

1. <h3>What is it?</h3>
   - A simple, clear definition.
2. <h3>Function</h3>
   - What does it do in the computer?
3. <h3>Common Faults</h3>
   - List 2-3 common symptoms of failure.
4. <h3>Troubleshooting Steps</h3>
   - Numbered list of steps to diagnose or fix it.
5. <h3>Safety Tips</h3>
   - Important safety warnings (e.g., ESD, power off).

Keep the tone educational, encouraging, and easy to understand.`

func ExplanationPrompt(label string) string {
	return fmt.Sprintf(explanationPrompt, label)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerativeExplainer asks an OpenAI compatible chat completion endpoint
// for an explanation.
type GenerativeExplainer struct {
	client *resty.Client
	model  string
}

// NewGenerativeExplainer returns an explainer for baseUrl. An empty baseUrl
// yields an explainer that always fails with ErrNoProvider.
func NewGenerativeExplainer(baseUrl string, apiKey string, model string, timeout time.Duration) *GenerativeExplainer {
	if baseUrl == "" {
		return &GenerativeExplainer{model: model}
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseUrl, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &GenerativeExplainer{client: client, model: model}
}

func (g *GenerativeExplainer) Explain(ctx context.Context, label string) (string, error) {
	if g.client == nil {
		return "", ErrNoProvider
	}

	var res chatResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:    g.model,
			Messages: []chatMessage{{Role: "user", Content: ExplanationPrompt(label)}},
		}).
		SetResult(&res).
		SetError(&res).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("explanation request failed: %w", err)
	}
	if resp.IsError() {
		if res.Error != nil && res.Error.Message != "" {
			return "", fmt.Errorf("explanation provider returned %d: %s", resp.StatusCode(), res.Error.Message)
		}
		return "", fmt.Errorf("explanation provider returned %d", resp.StatusCode())
	}
	if len(res.Choices) == 0 {
		return "", errors.New("explanation provider returned no choices")
	}

	text := strings.TrimSpace(res.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("explanation provider returned an empty answer")
	}
	return text, nil
}
