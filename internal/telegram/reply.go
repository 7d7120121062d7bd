package telegram

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Reply is an answer that starts as a placeholder message (for example
// "looking for an answer...") and is later replaced by the final text.
type Reply struct {
	bot    *Bot
	logger zerolog.Logger

	ChatID    int64
	ReplyTo   int
	MessageID int // 0 when no placeholder was sent

	mu       sync.Mutex
	finished bool
}

// StartReply sends placeholder as a reply to replyTo. An empty placeholder
// sends nothing; the final text is then sent as a new message.
func (b *Bot) StartReply(chatID int64, replyTo int, placeholder string) (*Reply, error) {
	r := &Reply{
		bot:     b,
		logger:  b.logger.With().Str("module", "reply").Logger(),
		ChatID:  chatID,
		ReplyTo: replyTo,
	}
	if placeholder == "" {
		return r, nil
	}

	id, err := b.SendMessageWithReply(chatID, placeholder, replyTo)
	if err != nil {
		return r, fmt.Errorf("failed to send placeholder: %w", err)
	}
	r.MessageID = id
	return r, nil
}

// Finish replaces the placeholder with text. Text longer than one message
// continues in follow-up messages. If the edit fails the text is sent as
// a new reply instead.
func (r *Reply) Finish(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return fmt.Errorf("reply already finished")
	}
	r.finished = true

	if r.MessageID == 0 {
		_, err := r.bot.SendMessageWithReply(r.ChatID, text, r.ReplyTo)
		return err
	}

	chunks := SplitMessage(text, MaxMessageLength)
	if err := r.bot.EditMessage(r.ChatID, r.MessageID, chunks[0]); err != nil {
		r.logger.Warn().
			Err(err).
			Int64("chat_id", r.ChatID).
			Int("message_id", r.MessageID).
			Msg("Failed to edit placeholder, sending a new message")
		_, err := r.bot.SendMessageWithReply(r.ChatID, text, r.ReplyTo)
		return err
	}

	for _, chunk := range chunks[1:] {
		if _, err := r.bot.SendMessageWithReply(r.ChatID, chunk, 0); err != nil {
			return err
		}
	}
	return nil
}
