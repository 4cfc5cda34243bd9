package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/sashabaranov/go-openai"
)

// Client represents an OpenAI API client
type Client struct {
	client *openai.Client
	model  string
	logger *logger.Logger
}

// New creates a new OpenAI client
func New(apiKey, apiBase, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		config.BaseURL = apiBase
	}

	client := openai.NewClientWithConfig(config)
	return &Client{
		client: client,
		model:  model,
		logger: logger.New("openai"),
	}
}

// GenerateChatMessage generates a chat message for a specific intent
func (c *Client) GenerateChatMessage(ctx context.Context, intent string, contextData map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// Convert context to JSON string
	contextJSON, err := json.Marshal(contextData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal context: %w", err)
	}

	prompt := fmt.Sprintf(`
You are a friendly kitchen timer assistant in a Telegram chat. Generate a short, cheerful message for the following intent: "%s".
Use the context provided below to personalize the message. Keep it to one or two lines, mobile-friendly.
Add an appropriate emoji.

Context:
%s

Return only the message text, no explanations or other text.
`, intent, string(contextJSON))

	c.logger.Debug("Generating chat message for intent: %s", intent)

	content, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		},
	}, 0.7)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// DraftRoutine asks the model to turn a free-text description into a routine
// document. The result is raw JSON and still has to go through the loader.
func (c *Client) DraftRoutine(ctx context.Context, description string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(`
Plan the following cooking job as parallel swimlanes of timed steps: "%s".
Each swimlane is one appliance or person. Steps in a lane run one after another.
Use "manual" start_type only where a person must act before the step can begin.
Return the plan in the following JSON format:
{
  "name": "Short routine name",
  "swim_lanes": [
    {"name": "Lane name", "steps": [
      {"name": "Step name", "duration_in_seconds": 300, "start_type": "automatic"}
    ]}
  ],
  "prep_tasks": [{"name": "Untimed task done beforehand"}]
}
Only return the JSON, no other text.
`, description)

	c.logger.Info("Drafting routine from description (%d chars)", len(description))
	c.logger.Debug("OpenAI prompt (first 100 chars): %s", truncateString(prompt, 100))

	content, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: "You are a cooking expert who plans realistic timings for recipes.",
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		},
	}, 0.3)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("OpenAI response (first 100 chars): %s", truncateString(content, 100))

	// Clean up the response - sometimes the model returns markdown code blocks
	content = cleanJSONResponse(content)
	if !json.Valid([]byte(content)) {
		c.logger.Error("Model returned invalid JSON: %s", truncateString(content, 200))
		return nil, fmt.Errorf("failed to parse OpenAI response: not valid JSON")
	}
	return []byte(content), nil
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage, temperature float32) (string, error) {
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: temperature,
		},
	)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI API")
	}
	return resp.Choices[0].Message.Content, nil
}

// truncateString truncates a string to the specified length and adds "..." if truncated
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// cleanJSONResponse cleans up the JSON response from OpenAI
// Sometimes the model returns markdown code blocks with ```json and ``` delimiters
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		// Skip the first line, which might be "```json"
		if firstLineEnd := strings.Index(s, "\n"); firstLineEnd != -1 {
			s = s[firstLineEnd+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	return s
}
