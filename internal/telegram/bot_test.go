package telegram

import (
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/abitur/internal/config"
	"github.com/harun/abitur/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	t.Run("nil config", func(t *testing.T) {
		bot, err := New(nil, log)
		assert.Error(t, err)
		assert.Nil(t, bot)
		assert.Contains(t, err.Error(), "config is required")
	})

	t.Run("empty bot token", func(t *testing.T) {
		bot, err := New(&config.TelegramConfig{}, log)
		assert.Error(t, err)
		assert.Nil(t, bot)
		assert.Contains(t, err.Error(), "bot token is required")
	})
}

type recordingHandler struct {
	messages int
	commands int
}

func (r *recordingHandler) HandleMessage(_ tgbotapi.Update) error {
	r.messages++
	return nil
}

func (r *recordingHandler) HandleCommand(_ tgbotapi.Update) error {
	r.commands++
	return nil
}

func TestHandleUpdateRouting(t *testing.T) {
	bot, _ := createTestBot(t)
	rec := &recordingHandler{}
	bot.SetMessageHandler(rec)
	bot.SetCommandHandler(rec)

	require.NoError(t, bot.handleUpdate(textUpdate("private", "Сколько бюджетных мест?")))
	require.NoError(t, bot.handleUpdate(commandUpdate("/start", 6)))
	require.NoError(t, bot.handleUpdate(tgbotapi.Update{}))

	assert.Equal(t, 1, rec.messages)
	assert.Equal(t, 1, rec.commands)
}

func TestHandleUpdateAllowlist(t *testing.T) {
	bot, _ := createTestBot(t)
	bot.config.Allowlist = []int64{1}
	rec := &recordingHandler{}
	bot.SetMessageHandler(rec)

	require.NoError(t, bot.handleUpdate(textUpdate("private", "hi")))
	assert.Equal(t, 0, rec.messages)

	bot.config.Allowlist = []int64{12345}
	require.NoError(t, bot.handleUpdate(textUpdate("private", "hi")))
	assert.Equal(t, 1, rec.messages)
}

func TestSendMessageWithReply(t *testing.T) {
	bot, sender := createTestBot(t)

	id, err := bot.SendMessageWithReply(100, "ответ", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, 7, sender.sent[0].ReplyToMessageID)
	assert.Equal(t, int64(100), sender.sent[0].ChatID)
}

func TestSendMessageSplitsLongText(t *testing.T) {
	bot, sender := createTestBot(t)

	long := strings.Repeat("а", MaxMessageLength+10)
	id, err := bot.SendMessageWithReply(100, long, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, 7, sender.sent[0].ReplyToMessageID)
	assert.Equal(t, 0, sender.sent[1].ReplyToMessageID)
	assert.Equal(t, long, sender.sent[0].Text+sender.sent[1].Text)
}

func TestSendMessageError(t *testing.T) {
	bot, sender := createTestBot(t)
	sender.sendErr = errors.New("network down")

	err := bot.SendMessage(100, "x")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
}

func TestSendTyping(t *testing.T) {
	bot, sender := createTestBot(t)

	require.NoError(t, bot.SendTyping(100))
	assert.Len(t, sender.requests, 1)
}

func TestGetBotInfo(t *testing.T) {
	bot, _ := createTestBot(t)

	info := bot.GetBotInfo()
	assert.Equal(t, "testbot", info["username"])
	assert.Equal(t, int64(123456789), info["id"])
	assert.Equal(t, false, info["running"])
	assert.Equal(t, "testbot", bot.Username())
}

func TestStopWhenNotRunning(t *testing.T) {
	bot, _ := createTestBot(t)
	assert.Error(t, bot.Stop(0))
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"exact", "hello", 5, []string{"hello"}},
		{"prefers newline", "aaaa\nbbbbbb", 8, []string{"aaaa\n", "bbbbbb"}},
		{"prefers space", "aaaaa bbbbbb", 8, []string{"aaaaa ", "bbbbbb"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"runes", "абвгде", 3, []string{"абв", "где"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitMessage(tt.text, tt.limit))
		})
	}
}
