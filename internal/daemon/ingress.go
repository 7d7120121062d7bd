package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/harun/abitur/internal/config"
	"github.com/harun/abitur/internal/observability"
	"github.com/harun/abitur/internal/telegram"
	"github.com/harun/abitur/internal/tracing"
	"github.com/harun/abitur/pkg/commandqueue"
	"github.com/harun/abitur/pkg/session"
)

func userLane(userID string) string {
	return "user:" + userID
}

// HandleMessage answers one question from a chat. Questions from the same
// user are answered one at a time, in arrival order.
func (d *Daemon) HandleMessage(ctx context.Context, msg telegram.MessageContext) error {
	if ctx == nil {
		ctx = context.Background()
	}
	userID := strconv.FormatInt(msg.UserID, 10)
	ctx = tracing.NewRequestContext(ctx, userID)
	ctx = tracing.WithUpdateID(ctx, strconv.Itoa(msg.UpdateID))
	logger := tracing.LoggerFromContext(ctx, d.logger.Component("ingress"))

	if !d.limiter.Allow(userID) {
		observability.RecordRateLimited()
		observability.RecordAccessAudit(ctx, "message", userID, "rate_limited", nil)
		logger.Info().Msg("Message rate limited")
		return d.sendBusy(msg)
	}

	if err := d.filter.CheckQuestion(msg.Text); err != nil {
		observability.RecordAccessAudit(ctx, "message", userID, "moderated", map[string]interface{}{"reason": err.Error()})
		logger.Info().Err(err).Msg("Question rejected by content filter")
		_, serr := d.telegramBot.SendMessageWithReply(msg.ChatID, d.rejectText(), msg.MessageID)
		return serr
	}

	_, err := d.queue.EnqueueWithContext(ctx, userLane(userID), func(taskCtx context.Context) (interface{}, error) {
		return nil, d.answer(taskCtx, msg, userID)
	}, &commandqueue.TaskOptions{
		WarnAfterMs: 30000,
		MaxPending:  maxPendingPerUser,
		RequestID:   fmt.Sprintf("update:%d", msg.UpdateID),
	})
	switch {
	case errors.Is(err, commandqueue.ErrLaneFull):
		observability.RecordAccessAudit(ctx, "message", userID, "lane_full", nil)
		logger.Info().Msg("Too many pending questions")
		return d.sendBusy(msg)
	case err != nil:
		return fmt.Errorf("failed to answer update %d: %w", msg.UpdateID, err)
	}
	return nil
}

// answer runs inside the user's lane.
func (d *Daemon) answer(ctx context.Context, msg telegram.MessageContext, userID string) error {
	logger := tracing.LoggerFromContext(ctx, d.logger.Component("ingress"))

	reply, err := d.telegramBot.StartReply(msg.ChatID, msg.MessageID, d.config.Telegram.ThinkingText)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to send thinking message")
	}

	text, err := d.agentRunner.Answer(ctx, userID, msg.Text)
	if err != nil {
		if session.IsPersistenceError(err) {
			observability.RecordSessionAudit(ctx, "answer", userID, "failure", map[string]interface{}{"error": err.Error()})
			logger.Error().Err(err).Msg("Session store unavailable")
		} else {
			logger.Error().Err(err).Msg("Failed to answer question")
		}
		if ferr := reply.Finish(d.config.Telegram.ErrorText); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to send error reply")
		}
		return err
	}

	if err := d.filter.CheckAnswer(text); err != nil {
		observability.RecordAccessAudit(ctx, "answer", userID, "moderated", map[string]interface{}{"reason": err.Error()})
		logger.Warn().Err(err).Msg("Answer rejected by content filter")
		text = d.config.Telegram.ErrorText
	}

	if err := reply.Finish(text); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	return nil
}

func (d *Daemon) rejectText() string {
	if d.config.Moderation.RejectText != "" {
		return d.config.Moderation.RejectText
	}
	return config.DefaultRejectText
}

func (d *Daemon) sendBusy(msg telegram.MessageContext) error {
	_, err := d.telegramBot.SendMessageWithReply(msg.ChatID, d.config.Telegram.BusyText, msg.MessageID)
	return err
}

// ResetSession forgets a user's history, both live and durable. It runs in
// the user's lane so it cannot interleave with an answer.
func (d *Daemon) ResetSession(ctx context.Context, userID string) error {
	_, err := d.queue.EnqueueWithContext(ctx, userLane(userID), func(taskCtx context.Context) (interface{}, error) {
		if _, err := d.cache.Remove(userID); err != nil && !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		if err := d.store.Save(taskCtx, userID, nil); err != nil {
			return nil, err
		}
		return nil, nil
	}, nil)
	if err != nil {
		observability.RecordSessionAudit(ctx, "reset", userID, "failure", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("failed to reset session %s: %w", userID, err)
	}
	observability.RecordSessionAudit(ctx, "reset", userID, "success", nil)
	return nil
}

func (d *Daemon) registerCommands() {
	d.telegramCmd.Register("start", "Начать", func(ctx telegram.CommandContext) error {
		return d.telegramCmd.SendResponse(ctx, d.config.Telegram.StartText)
	})
	d.telegramCmd.Register("help", "Как задать вопрос", func(ctx telegram.CommandContext) error {
		return d.telegramCmd.SendResponse(ctx, d.config.Telegram.HelpText)
	})
	d.telegramCmd.Register("reset", "Начать диалог заново", func(ctx telegram.CommandContext) error {
		userID := strconv.FormatInt(ctx.UserID, 10)
		reqCtx := tracing.NewRequestContext(d.ctx, userID)
		if err := d.ResetSession(reqCtx, userID); err != nil {
			logger := tracing.LoggerFromContext(reqCtx, d.logger.Component("ingress"))
			logger.Error().Err(err).Msg("Failed to reset session")
			return d.telegramCmd.SendResponse(ctx, d.config.Telegram.ErrorText)
		}
		return d.telegramCmd.SendResponse(ctx, resetText)
	})
}

const resetText = "История диалога очищена. Задайте новый вопрос."
