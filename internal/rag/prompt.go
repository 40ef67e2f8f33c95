package rag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/efebarandurmaz/askdoc/internal/llm"
)

const systemPrompt = `Use the following pieces of context to answer the question at the end.
If you don't know the answer, just say that you don't know.
Keep the answer concise and helpful.`

// Turn is one completed exchange in a conversation.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// buildPrompt assembles the generation prompt from retrieved context, a
// bounded window of recent history turns, and the current question. Context
// and question must be non-empty; a malformed prompt never reaches the model.
func buildPrompt(contextText, question string, history []Turn, window int) (*llm.Prompt, error) {
	if strings.TrimSpace(contextText) == "" {
		return nil, errors.New("rag: prompt context is empty")
	}
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("rag: prompt question is empty")
	}

	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	var messages []llm.Message
	for _, turn := range history {
		q := strings.TrimSpace(turn.Question)
		if q == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: q})
		if a := strings.TrimSpace(turn.Answer); a != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: a})
		}
	}

	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Context: %s\n\nQuestion: %s\n\nHelpful Answer:", contextText, question),
	})

	return &llm.Prompt{
		SystemPrompt: systemPrompt,
		Messages:     messages,
	}, nil
}
