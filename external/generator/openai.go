package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foxseedlab/disciplinecall/internal/call"
	"github.com/foxseedlab/disciplinecall/internal/conversation"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultMaxTokens   = 150
	defaultTemperature = 0.8

	openingInstruction = "The call just connected. Greet the user and open the conversation."
	closingInstruction = "Wrap up the call now with one short closing line and append " + conversation.EndMarker + "."
	// localAPIKey is sent to OpenAI-compatible local servers, which ignore it.
	localAPIKey = "local"
)

// ChatGenerator produces call messages with a chat-completions endpoint. The same
// client serves OpenAI and local OpenAI-compatible servers such as Ollama.
type ChatGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIGenerator(apiKey, baseURL, model string) *ChatGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newChatGenerator(cfg, model, openai.GPT4o)
}

// NewLocalGenerator targets an OpenAI-compatible server at baseURL, e.g.
// http://localhost:11434/v1 for Ollama.
func NewLocalGenerator(baseURL, model string) *ChatGenerator {
	cfg := openai.DefaultConfig(localAPIKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return newChatGenerator(cfg, model, "llama2")
}

func newChatGenerator(cfg openai.ClientConfig, model, fallback string) *ChatGenerator {
	if model == "" {
		model = fallback
	}
	return &ChatGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
}

func (g *ChatGenerator) Generate(ctx context.Context, req conversation.GenerateRequest) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    chatMessages(req),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", g.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// chatMessages maps the transcript onto chat roles: the coach speaks as the assistant.
func chatMessages(req conversation.GenerateRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+3)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	if req.Opening {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: openingInstruction})
	}
	for _, t := range req.History {
		role := openai.ChatMessageRoleUser
		if t.Speaker == call.SpeakerSystem {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	if req.Closing {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: closingInstruction})
	}
	return msgs
}
