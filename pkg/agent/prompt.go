package agent

import (
	"strings"

	"github.com/harun/abitur/pkg/session"
)

// DefaultSystemPrompt instructs the model to stay within the admissions document.
const DefaultSystemPrompt = "Ты помощник приёмной комиссии. Отвечай только на основе информации ниже. " +
	"Если в ней нет точного ответа, честно скажи об этом. Не выдумывай и не уходи в посторонние темы."

// BuildSystemPrompt appends the knowledge document to the instruction.
func BuildSystemPrompt(instruction, knowledge string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = DefaultSystemPrompt
	}
	knowledge = strings.TrimSpace(knowledge)
	if knowledge == "" {
		return instruction
	}
	return instruction + "\n\n" + knowledge
}

// BuildMessages turns the stored history plus the new question into
// backend messages. The result starts with a user message and alternates:
// leading assistant turns are dropped and consecutive turns of one speaker
// are merged.
func BuildMessages(history []session.Turn, question string) []Message {
	messages := make([]Message, 0, len(history)+1)
	add := func(role, text string) {
		if len(messages) == 0 && role != RoleUser {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content += "\n\n" + text
			return
		}
		messages = append(messages, Message{Role: role, Content: text})
	}

	for _, turn := range history {
		role := RoleUser
		if turn.Speaker == session.SpeakerAssistant {
			role = RoleAssistant
		}
		add(role, turn.Text)
	}
	add(RoleUser, question)
	return messages
}
