package telegram

import (
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Handler implements message handling for Telegram
type Handler struct {
	bot    *Bot
	logger zerolog.Logger

	// Callback for processing messages
	onMessage func(MessageContext) error
}

// MessageContext contains message metadata
type MessageContext struct {
	UpdateID  int
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	Text      string
	Timestamp time.Time
	IsGroup   bool
	IsMention bool
	ReplyToID int
}

// NewHandler creates a new message handler
func NewHandler(bot *Bot) *Handler {
	return &Handler{
		bot:    bot,
		logger: bot.logger.With().Str("module", "handler").Logger(),
	}
}

// HandleMessage processes incoming messages. Only text is answered; in
// groups the bot must be mentioned or replied to.
func (h *Handler) HandleMessage(update tgbotapi.Update) error {
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message

	// Parse message context
	ctx := MessageContext{
		UpdateID:  update.UpdateID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
		IsGroup:   msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
	}

	// Check for reply
	if msg.ReplyToMessage != nil {
		ctx.ReplyToID = msg.ReplyToMessage.MessageID
	}

	// Check if bot is addressed (for groups)
	if ctx.IsGroup {
		ctx.IsMention = h.isMentioned(msg)
		repliedToBot := msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
			msg.ReplyToMessage.From.ID == h.bot.api.Self.ID
		if !ctx.IsMention && !repliedToBot {
			return nil
		}
		ctx.Text = h.stripMention(ctx.Text)
	}

	ctx.Text = strings.TrimSpace(ctx.Text)
	if ctx.Text == "" {
		h.logger.Debug().Int64("chat_id", ctx.ChatID).Msg("Ignoring message without text")
		return nil
	}

	h.logger.Debug().
		Int64("chat_id", ctx.ChatID).
		Int64("user_id", ctx.UserID).
		Str("username", ctx.Username).
		Bool("is_group", ctx.IsGroup).
		Bool("is_mention", ctx.IsMention).
		Msg("Message received")

	// Call callback if set
	if h.onMessage != nil {
		return h.onMessage(ctx)
	}

	return nil
}

// isMentioned checks if the bot is mentioned in a message
func (h *Handler) isMentioned(msg *tgbotapi.Message) bool {
	mention := "@" + h.bot.api.Self.UserName
	for _, entity := range msg.Entities {
		if entity.Type != "mention" {
			continue
		}
		// Offsets are in UTF-16 code units.
		text := utf16Slice(msg.Text, entity.Offset, entity.Length)
		if strings.EqualFold(text, mention) {
			return true
		}
	}

	return false
}

func (h *Handler) stripMention(text string) string {
	mention := "@" + h.bot.api.Self.UserName
	idx := strings.Index(strings.ToLower(text), strings.ToLower(mention))
	if idx < 0 {
		return text
	}
	return text[:idx] + text[idx+len(mention):]
}

// SetOnMessage sets the message callback
func (h *Handler) SetOnMessage(callback func(MessageContext) error) {
	h.onMessage = callback
}

// SendResponse sends a response to a message
func (h *Handler) SendResponse(ctx MessageContext, text string) error {
	_, err := h.bot.SendMessageWithReply(ctx.ChatID, text, ctx.MessageID)
	return err
}

// SendTyping sends typing action
func (h *Handler) SendTyping(chatID int64) error {
	return h.bot.SendTyping(chatID)
}

// utf16Slice returns the substring of s at a UTF-16 offset and length,
// as used by Telegram message entities.
func utf16Slice(s string, offset, length int) string {
	units := utf16.Encode([]rune(s))
	if offset < 0 || length < 0 || offset+length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[offset : offset+length]))
}
