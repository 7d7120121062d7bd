package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/abitur/internal/observability"
	"github.com/harun/abitur/internal/tracing"
	"github.com/harun/abitur/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Knowledge supplies the admissions document.
type Knowledge interface {
	Text() string
}

// Runner answers questions within a user's session
type Runner struct {
	cache           *session.Cache
	knowledge       Knowledge
	logger          zerolog.Logger
	providerFactory ProviderCreator
	answerConfig    AnswerConfig
	retryDelay      time.Duration
	now             func() time.Time

	// Auth profiles
	authProfiles []AuthProfile
	authMu       sync.RWMutex
}

// Config holds runner configuration
type Config struct {
	Cache           *session.Cache
	Knowledge       Knowledge
	Logger          zerolog.Logger
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator
	Answer          AnswerConfig
	// RetryDelay is the first backoff delay; it doubles per attempt (default 1s).
	RetryDelay time.Duration
	Now        func() time.Time
}

// NewRunner creates a new runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Cache == nil {
		return nil, fmt.Errorf("session cache is required")
	}
	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}

	defaults := DefaultAnswerConfig()
	answer := cfg.Answer
	if answer.SystemPrompt == "" {
		answer.SystemPrompt = defaults.SystemPrompt
	}
	if answer.Temperature <= 0 {
		answer.Temperature = defaults.Temperature
	}
	if answer.MaxTokens <= 0 {
		answer.MaxTokens = defaults.MaxTokens
	}
	if answer.MaxRetries <= 0 {
		answer.MaxRetries = defaults.MaxRetries
	}
	if answer.Timeout <= 0 {
		answer.Timeout = defaults.Timeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	profiles := make([]AuthProfile, len(cfg.AuthProfiles))
	copy(profiles, cfg.AuthProfiles)

	return &Runner{
		cache:           cfg.Cache,
		knowledge:       cfg.Knowledge,
		logger:          cfg.Logger,
		providerFactory: providerFactory,
		answerConfig:    answer,
		retryDelay:      cfg.RetryDelay,
		now:             cfg.Now,
		authProfiles:    profiles,
	}, nil
}

// Answer generates an answer to question in userID's session. The question
// is recorded before the backend is called and the answer after it returns.
func (r *Runner) Answer(ctx context.Context, userID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx, userID)
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"abitur.agent",
		"agent.answer",
		attribute.String("user_id", userID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("user_id", userID).Logger()

	sess, err := r.cache.GetOrCreate(ctx, userID)
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}

	knowledge := ""
	if r.knowledge != nil {
		knowledge = r.knowledge.Text()
	}
	request := LLMRequest{
		Messages:     BuildMessages(sess.Messages, question),
		Temperature:  r.answerConfig.Temperature,
		MaxTokens:    r.answerConfig.MaxTokens,
		SystemPrompt: BuildSystemPrompt(r.answerConfig.SystemPrompt, knowledge),
	}

	if _, err := r.cache.AppendUserTurn(ctx, userID, question); err != nil {
		tracing.RecordError(span, err)
		return "", err
	}

	response, err := r.executeWithFailover(ctx, request, logger)
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}

	answer := strings.TrimSpace(response.Content)
	if answer == "" {
		tracing.RecordError(span, ErrEmptyAnswer)
		return "", ErrEmptyAnswer
	}

	if _, err := r.cache.AppendAssistantTurn(ctx, userID, answer); err != nil {
		tracing.RecordError(span, err)
		return "", err
	}

	if response.Usage != nil {
		span.SetAttributes(
			attribute.Int("usage.input_tokens", response.Usage.InputTokens),
			attribute.Int("usage.output_tokens", response.Usage.OutputTokens),
		)
	}
	logger.Debug().Int("answer_chars", len([]rune(answer))).Msg("Answer generated")
	return answer, nil
}

// Profiles returns a copy of the auth profiles with their failure state.
func (r *Runner) Profiles() []AuthProfile {
	r.authMu.RLock()
	defer r.authMu.RUnlock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	return profiles
}

// candidates returns the profiles to try, by priority. Profiles in cooldown
// are skipped unless every profile is cooling down.
func (r *Runner) candidates(logger zerolog.Logger) []AuthProfile {
	profiles := r.Profiles()
	sortProfilesByPriority(profiles)

	nowMs := r.now().UnixMilli()
	ready := make([]AuthProfile, 0, len(profiles))
	for _, profile := range profiles {
		if profile.CooldownUntil != nil && nowMs < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().
				Str("profileId", profile.ID).
				Msg("Skipping profile in cooldown")
			continue
		}
		ready = append(ready, profile)
	}

	if len(ready) == 0 {
		logger.Warn().Msg("All profiles are cooling down, trying them anyway")
		return profiles
	}
	return ready
}

// executeWithFailover tries each profile in turn until one answers
func (r *Runner) executeWithFailover(ctx context.Context, request LLMRequest, logger zerolog.Logger) (*LLMResponse, error) {
	var lastErr error

	for _, profile := range r.candidates(logger) {
		profileStart := time.Now()

		provider, err := r.providerFactory.NewProvider(profile)
		if err != nil {
			logger.Warn().
				Str("profileId", profile.ID).
				Err(err).
				Msg("Failed to create provider")
			if lastErr == nil {
				lastErr = err
			}
			continue
		}

		req := request
		req.Model = profile.Model
		if req.Model == "" {
			req.Model = DefaultModel(profile.Provider)
		}

		response, err := r.callWithRetry(ctx, provider, req, logger)
		if err == nil {
			r.updateProfileSuccess(profile.ID)
			observability.RecordAnswer(profile.Provider, time.Since(profileStart), true)
			return response, nil
		}

		lastErr = err
		observability.RecordAnswer(profile.Provider, time.Since(profileStart), false)
		logger.Warn().
			Str("profileId", profile.ID).
			Err(err).
			Msg("Auth profile failed")
		r.updateProfileFailure(profile.ID)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if lastErr == nil {
		return nil, ErrNoProviders
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// callWithRetry calls the provider with exponential backoff on retryable errors
func (r *Runner) callWithRetry(ctx context.Context, provider LLMProvider, request LLMRequest, logger zerolog.Logger) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"abitur.agent",
		"agent.call_provider",
		attribute.String("provider", provider.Provider()),
		attribute.String("model", request.Model),
	)
	defer span.End()

	maxRetries := r.answerConfig.MaxRetries
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := r.callOnce(ctx, provider, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryableError(err) {
			tracing.RecordError(span, err)
			return nil, err
		}

		if attempt == maxRetries-1 {
			break
		}

		delay := r.retryDelay * time.Duration(1<<attempt)
		logger.Info().
			Str("provider", provider.Provider()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	err := fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
	tracing.RecordError(span, err)
	return nil, err
}

func (r *Runner) callOnce(ctx context.Context, provider LLMProvider, request LLMRequest) (*LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.answerConfig.Timeout)
	defer cancel()

	response, err := provider.Call(callCtx, request)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s call timed out after %s: %w", provider.Provider(), r.answerConfig.Timeout, context.DeadlineExceeded)
		}
		return nil, err
	}
	if response == nil {
		return nil, fmt.Errorf("%s returned no response", provider.Provider())
	}
	return response, nil
}

// updateProfileSuccess resets failure count for a profile
func (r *Runner) updateProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(r.authProfiles[i].Provider, false)
			break
		}
	}
}

// updateProfileFailure puts a profile in cooldown for one minute per
// consecutive failure
func (r *Runner) updateProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount++
			cooldownMs := r.now().UnixMilli() + int64(60000*r.authProfiles[i].FailureCount)
			r.authProfiles[i].CooldownUntil = &cooldownMs
			observability.SetProviderCooldown(r.authProfiles[i].Provider, true)
			break
		}
	}
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}
