package telegram

import (
	"errors"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/abitur/internal/config"
	"github.com/rs/zerolog"
)

// fakeSender records outgoing calls instead of hitting the Bot API.
type fakeSender struct {
	mu       sync.Mutex
	nextID   int
	sent     []tgbotapi.MessageConfig
	edits    []tgbotapi.EditMessageTextConfig
	requests []tgbotapi.Chattable
	sendErr  error
	editErr  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	f.nextID++
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: f.nextID, Text: msg.Text}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if edit, ok := c.(tgbotapi.EditMessageTextConfig); ok {
		if f.editErr != nil {
			return nil, f.editErr
		}
		f.edits = append(f.edits, edit)
		return &tgbotapi.APIResponse{Ok: true}, nil
	}
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func createTestBot(t *testing.T) (*Bot, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	api := &tgbotapi.BotAPI{
		Self: tgbotapi.User{
			UserName: "testbot",
			ID:       123456789,
		},
	}
	bot := newBot(api, sender, &config.TelegramConfig{}, zerolog.Nop())
	return bot, sender
}

func textUpdate(chatType, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 10,
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: 12345, UserName: "abiturient"},
			Chat:      &tgbotapi.Chat{ID: 67890, Type: chatType},
			Text:      text,
			Date:      1234567890,
		},
	}
}

func commandUpdate(text string, length int) tgbotapi.Update {
	update := textUpdate("private", text)
	update.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return update
}
