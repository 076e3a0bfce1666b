package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Thread is an opaque conversation continuation: the accumulated message
// history for one agent. A nil Thread starts a fresh conversation.
type Thread []anthropic.MessageParam

// Invoker sends one prompt to an LLM under a fixed system instruction and
// returns the textual reply plus the extended thread. Every agent call in the
// system goes through this single boundary, so downstream code only ever sees
// plain strings.
type Invoker interface {
	Send(ctx context.Context, system string, thread Thread, user string) (string, Thread, error)
}

// Client wraps the Anthropic API as an Invoker.
type Client struct {
	api       *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:       &client,
		model:     anthropic.Model(model),
		maxTokens: 4096,
	}
}

// Send implements Invoker.
func (c *Client) Send(ctx context.Context, system string, thread Thread, user string) (string, Thread, error) {
	messages := make([]anthropic.MessageParam, 0, len(thread)+1)
	messages = append(messages, thread...)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(user)))

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: messages,
	})
	if err != nil {
		return "", thread, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", thread, fmt.Errorf("no text content in API response")
	}

	next := append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
	return StripFences(text), next, nil
}

// StripFences removes markdown code fencing around a response, which models
// add despite instructions not to.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) > 1 {
		text = lines[1]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// Agent is a role-scoped wrapper around one LLM endpoint with a fixed system
// prompt.
type Agent struct {
	Name         string
	Instructions string
	inv          Invoker
}

// NewAgent binds a persona to an invoker.
func NewAgent(name, instructions string, inv Invoker) *Agent {
	return &Agent{Name: name, Instructions: instructions, inv: inv}
}

// Ask sends a prompt on the given thread and returns the reply text plus the
// continuation thread.
func (a *Agent) Ask(ctx context.Context, thread Thread, prompt string) (string, Thread, error) {
	return a.inv.Send(ctx, a.Instructions, thread, prompt)
}
