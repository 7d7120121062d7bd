package telegram

import (
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/abitur/internal/config"
	"github.com/harun/abitur/internal/logger"
	"github.com/rs/zerolog"
)

// MaxMessageLength is Telegram's limit for one text message.
const MaxMessageLength = 4096

// Sender is the subset of the Bot API used to talk back to chats.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot represents a Telegram bot instance
type Bot struct {
	api    *tgbotapi.BotAPI
	sender Sender
	config *config.TelegramConfig
	logger zerolog.Logger

	// Handlers
	messageHandler MessageHandler
	commandHandler CommandHandler

	// State
	mu       sync.Mutex
	running  bool
	updates  tgbotapi.UpdatesChannel
	inflight sync.WaitGroup
	stopCh   chan struct{}
	done     chan struct{}
}

// MessageHandler handles incoming messages
type MessageHandler interface {
	HandleMessage(update tgbotapi.Update) error
}

// CommandHandler handles bot commands
type CommandHandler interface {
	HandleCommand(update tgbotapi.Update) error
}

// New creates a new Telegram bot instance
func New(cfg *config.TelegramConfig, log *logger.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := newBot(api, api, cfg, log.Component("telegram"))

	// Log bot info
	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

func newBot(api *tgbotapi.BotAPI, sender Sender, cfg *config.TelegramConfig, logger zerolog.Logger) *Bot {
	return &Bot{
		api:    api,
		sender: sender,
		config: cfg,
		logger: logger,
	}
}

// Start starts the bot and begins processing updates
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bot is already running")
	}

	b.logger.Info().Msg("Starting Telegram bot")

	// Configure update settings
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message"}

	b.updates = b.api.GetUpdatesChan(u)
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	b.running = true

	go b.processUpdates(b.updates, b.stopCh, b.done)

	b.logger.Info().Msg("Telegram bot started")

	return nil
}

// Stop stops polling and waits up to timeout for updates being handled.
func (b *Bot) Stop(timeout time.Duration) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot is not running")
	}
	b.running = false
	done := b.done
	close(b.stopCh)
	b.mu.Unlock()

	b.logger.Info().Msg("Stopping Telegram bot")

	b.api.StopReceivingUpdates()
	<-done

	waitCh := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(timeout):
		b.logger.Warn().Dur("timeout", timeout).Msg("Timed out waiting for in-flight updates")
	}

	b.logger.Info().Msg("Telegram bot stopped")

	return nil
}

// processUpdates dispatches every update on its own goroutine. Ordering
// per user is enforced further down by the message queue.
func (b *Bot) processUpdates(updates tgbotapi.UpdatesChannel, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.inflight.Add(1)
			go func(update tgbotapi.Update) {
				defer b.inflight.Done()
				b.dispatch(update)
			}(update)
		}
	}
}

func (b *Bot) dispatch(update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Int("update_id", update.UpdateID).
				Msg("Recovered from panic while handling update")
		}
	}()

	if err := b.handleUpdate(update); err != nil {
		b.logger.Error().
			Err(err).
			Int("update_id", update.UpdateID).
			Msg("Failed to handle update")
	}
}

// handleUpdate routes an update to the appropriate handler
func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}

	if !b.allowed(msg.From.ID) {
		b.logger.Debug().Int64("user_id", msg.From.ID).Msg("Ignoring message from user outside the allowlist")
		return nil
	}

	// Check if it's a command
	if msg.IsCommand() && b.commandHandler != nil {
		return b.commandHandler.HandleCommand(update)
	}

	// Handle as regular message
	if b.messageHandler != nil {
		return b.messageHandler.HandleMessage(update)
	}

	return nil
}

// allowed reports whether userID may talk to the bot.
func (b *Bot) allowed(userID int64) bool {
	if b.config == nil || len(b.config.Allowlist) == 0 {
		return true
	}
	for _, id := range b.config.Allowlist {
		if id == userID {
			return true
		}
	}
	return false
}

// SendMessage sends a text message, split into several when too long
func (b *Bot) SendMessage(chatID int64, text string) error {
	_, err := b.SendMessageWithReply(chatID, text, 0)
	return err
}

// SendMessageWithReply sends a text message as a reply and returns the ID
// of the first message sent.
func (b *Bot) SendMessageWithReply(chatID int64, text string, replyToMessageID int) (int, error) {
	firstID := 0
	for i, chunk := range SplitMessage(text, MaxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if i == 0 && replyToMessageID != 0 {
			msg.ReplyToMessageID = replyToMessageID
		}

		sent, err := b.sender.Send(msg)
		if err != nil {
			return firstID, fmt.Errorf("failed to send message: %w", err)
		}
		if i == 0 {
			firstID = sent.MessageID
		}
	}

	b.logger.Debug().
		Int64("chat_id", chatID).
		Int("reply_to", replyToMessageID).
		Msg("Reply sent")

	return firstID, nil
}

// EditMessage replaces the text of a message the bot sent earlier.
func (b *Bot) EditMessage(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := b.sender.Request(edit); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// SendTyping sends typing action
func (b *Bot) SendTyping(chatID int64) error {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := b.sender.Request(action); err != nil {
		return fmt.Errorf("failed to send typing action: %w", err)
	}
	return nil
}

// GetBotInfo returns bot information
func (b *Bot) GetBotInfo() map[string]interface{} {
	return map[string]interface{}{
		"username":  b.api.Self.UserName,
		"id":        b.api.Self.ID,
		"firstName": b.api.Self.FirstName,
		"running":   b.IsRunning(),
	}
}

// SetMessageHandler sets the message handler
func (b *Bot) SetMessageHandler(handler MessageHandler) {
	b.messageHandler = handler
}

// SetCommandHandler sets the command handler
func (b *Bot) SetCommandHandler(handler CommandHandler) {
	b.commandHandler = handler
}

// Username returns the bot's Telegram username
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// IsRunning returns whether the bot is running
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// SplitMessage cuts text into chunks of at most limit runes, preferring
// line breaks and then spaces as cut points.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if cut == limit {
			for i := limit; i > limit/2; i-- {
				if runes[i-1] == ' ' {
					cut = i
					break
				}
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
