package telegram

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Commands dispatches bot commands to registered handlers
type Commands struct {
	bot      *Bot
	logger   zerolog.Logger
	mu       sync.RWMutex
	handlers map[string]registeredCommand
}

type registeredCommand struct {
	description string
	handler     CommandFunc
}

// CommandFunc is a function that handles a command
type CommandFunc func(CommandContext) error

// CommandContext contains command metadata
type CommandContext struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	Command   string
	Args      []string
	RawArgs   string
}

// NewCommands creates a new command handler
func NewCommands(bot *Bot) *Commands {
	return &Commands{
		bot:      bot,
		logger:   bot.logger.With().Str("module", "commands").Logger(),
		handlers: make(map[string]registeredCommand),
	}
}

// HandleCommand processes incoming commands
func (c *Commands) HandleCommand(update tgbotapi.Update) error {
	if update.Message == nil || !update.Message.IsCommand() || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	command := strings.ToLower(msg.Command())
	args := strings.Fields(msg.CommandArguments())

	ctx := CommandContext{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		Command:   command,
		Args:      args,
		RawArgs:   msg.CommandArguments(),
	}

	c.logger.Debug().
		Int64("chat_id", ctx.ChatID).
		Str("command", command).
		Strs("args", args).
		Msg("Command received")

	// Find and execute handler
	c.mu.RLock()
	cmd, exists := c.handlers[command]
	c.mu.RUnlock()
	if !exists {
		return c.sendUnknownCommand(ctx)
	}

	return cmd.handler(ctx)
}

// Register registers a command handler
func (c *Commands) Register(command, description string, handler CommandFunc) {
	c.mu.Lock()
	c.handlers[command] = registeredCommand{description: description, handler: handler}
	c.mu.Unlock()
	c.logger.Debug().Str("command", command).Msg("Command registered")
}

// Publish sends the registered command list to Telegram so clients can
// show it in the command menu.
func (c *Commands) Publish() error {
	c.mu.RLock()
	commands := make([]tgbotapi.BotCommand, 0, len(c.handlers))
	for name, cmd := range c.handlers {
		commands = append(commands, tgbotapi.BotCommand{Command: name, Description: cmd.description})
	}
	c.mu.RUnlock()
	sort.Slice(commands, func(i, j int) bool { return commands[i].Command < commands[j].Command })

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := c.bot.sender.Request(cfg); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}

	c.logger.Info().Int("count", len(commands)).Msg("Bot commands updated")
	return nil
}

// sendUnknownCommand sends an unknown command response
func (c *Commands) sendUnknownCommand(ctx CommandContext) error {
	text := fmt.Sprintf("Неизвестная команда: /%s. Наберите /help.", ctx.Command)
	return c.SendResponse(ctx, text)
}

// SendResponse sends a response to a command
func (c *Commands) SendResponse(ctx CommandContext, text string) error {
	_, err := c.bot.SendMessageWithReply(ctx.ChatID, text, ctx.MessageID)
	return err
}

// GetRegisteredCommands returns all registered commands, sorted
func (c *Commands) GetRegisteredCommands() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	commands := make([]string, 0, len(c.handlers))
	for cmd := range c.handlers {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}
