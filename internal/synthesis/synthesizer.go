// Package synthesis turns retrieved chunks into a cited answer via the chat model.
package synthesis

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/lexandes/jurisrag/internal/storage"
)

// ChatModel is the model used for answer generation.
const ChatModel = openai.ChatModelGPT4oMini

const (
	// maxAnswerTokens caps completion length.
	maxAnswerTokens = 2000
	// temperature is kept low for consistent, literal answers.
	temperature = 0.1
)

// Result is the raw synthesized answer with its token usage.
type Result struct {
	Answer           string
	PromptTokens     int
	CompletionTokens int
}

// Synthesizer sends the citation-enforcing prompt plus retrieved context to
// the chat model.
type Synthesizer struct {
	client *openai.Client
}

// NewSynthesizer creates a Synthesizer over an existing OpenAI client.
func NewSynthesizer(client *openai.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

// Synthesize generates an answer for the query from the retrieved matches.
// A failed call or an empty answer is an error: an unlabeled, uncited answer
// would defeat citation validation, so it is never silently degraded.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, matches []storage.Match) (*Result, error) {
	contextBlock := BuildContext(matches)

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: ChatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(fmt.Sprintf("CONTEXTO:\n\n%s\n\nPREGUNTA: %s", contextBlock, query)),
		},
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(maxAnswerTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("chat completion returned no answer text")
	}

	return &Result{
		Answer:           resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
