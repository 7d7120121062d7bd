package agent

import (
	"testing"

	"github.com/harun/abitur/pkg/session"
	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, "Инструкция\n\nДанные", BuildSystemPrompt("Инструкция", "  Данные\n"))
	assert.Equal(t, "Инструкция", BuildSystemPrompt("Инструкция", ""))
	assert.Equal(t, DefaultSystemPrompt, BuildSystemPrompt("", ""))
}

func TestBuildMessages(t *testing.T) {
	tests := []struct {
		name     string
		history  []session.Turn
		question string
		want     []Message
	}{
		{
			name:     "no history",
			question: "q",
			want:     []Message{{Role: RoleUser, Content: "q"}},
		},
		{
			name: "alternating history",
			history: []session.Turn{
				{Speaker: session.SpeakerUser, Text: "U1"},
				{Speaker: session.SpeakerAssistant, Text: "A1"},
			},
			question: "U2",
			want: []Message{
				{Role: RoleUser, Content: "U1"},
				{Role: RoleAssistant, Content: "A1"},
				{Role: RoleUser, Content: "U2"},
			},
		},
		{
			name: "leading assistant turn dropped",
			history: []session.Turn{
				{Speaker: session.SpeakerAssistant, Text: "A0"},
				{Speaker: session.SpeakerUser, Text: "U1"},
				{Speaker: session.SpeakerAssistant, Text: "A1"},
			},
			question: "U2",
			want: []Message{
				{Role: RoleUser, Content: "U1"},
				{Role: RoleAssistant, Content: "A1"},
				{Role: RoleUser, Content: "U2"},
			},
		},
		{
			name: "unanswered question merged",
			history: []session.Turn{
				{Speaker: session.SpeakerUser, Text: "U1"},
			},
			question: "U2",
			want:     []Message{{Role: RoleUser, Content: "U1\n\nU2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildMessages(tt.history, tt.question))
		})
	}
}
