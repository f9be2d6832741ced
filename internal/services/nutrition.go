package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Ananth-NQI/foodbot-backend/internal/models"
)

const (
	nutritionSystemPrompt = "You are a certified, friendly nutritionist chatting on WhatsApp. " +
		"Give concise, practical advice in a few short sentences. " +
		"Do not diagnose medical conditions; suggest seeing a doctor when appropriate."

	// maxHistoryTurns bounds the chat history kept in a session.
	maxHistoryTurns = 20
)

// Nutritionist answers nutrition questions. history holds earlier turns of
// the conversation, oldest first, without the current message.
type Nutritionist interface {
	Respond(ctx context.Context, userID, text string, history []models.ChatTurn) (string, error)
}

// NewNutritionist returns the OpenAI backed nutritionist, or the mock one
// when no API key is configured.
func NewNutritionist(apiKey, model string) Nutritionist {
	if apiKey == "" {
		return MockNutritionist{}
	}
	return NewOpenAINutritionist(apiKey, model)
}

// OpenAINutritionist uses the chat completions API.
type OpenAINutritionist struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAINutritionist(apiKey, model string, opts ...option.RequestOption) *OpenAINutritionist {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}, opts...)
	return &OpenAINutritionist{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: 20 * time.Second,
	}
}

func (n *OpenAINutritionist) Respond(ctx context.Context, userID, text string, history []models.ChatTurn) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(nutritionSystemPrompt),
	}
	for _, turn := range history {
		switch turn.Role {
		case "user":
			messages = append(messages, openai.UserMessage(turn.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(text))

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(n.model),
		Messages:    messages,
		Temperature: openai.Float(0.7),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", errors.New("chat completion: empty reply")
	}
	return reply, nil
}

// MockNutritionist gives canned advice. Used for local runs without an
// OpenAI key and in tests.
type MockNutritionist struct{}

func (MockNutritionist) Respond(ctx context.Context, userID, text string, history []models.ChatTurn) (string, error) {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "weight") || strings.Contains(t, "lose"):
		return "🥗 For steady weight loss, aim for a small calorie deficit, fill half your plate with vegetables and keep protein in every meal.", nil
	case strings.Contains(t, "protein") || strings.Contains(t, "muscle"):
		return "💪 Most active adults do well with 1.2-1.6 g of protein per kg of body weight, spread across the day.", nil
	case strings.Contains(t, "sugar") || strings.Contains(t, "diabet"):
		return "🍎 Choose whole grains and fibre-rich foods, and limit sugary drinks. Please check with your doctor for medical advice.", nil
	default:
		return "🥦 A balanced plate is half vegetables, a quarter lean protein and a quarter whole grains. What are your goals?", nil
	}
}

// appendHistory adds a turn and drops the oldest ones beyond the limit.
func appendHistory(history []models.ChatTurn, turns ...models.ChatTurn) []models.ChatTurn {
	history = append(history, turns...)
	if over := len(history) - maxHistoryTurns; over > 0 {
		history = append([]models.ChatTurn(nil), history[over:]...)
	}
	return history
}
