package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tudobem/internal/cache"
	"tudobem/internal/llm"
	"tudobem/internal/models"
)

// Default cache lifetimes
const (
	DefaultPromptTTL       = 5 * time.Minute
	DefaultPatternTTL      = 24 * time.Hour
	DefaultConversationTTL = 30 * time.Minute
	DefaultSessionID       = "admin-triage"
)

// retainedMessages bounds the history replayed with a continuation turn
const retainedMessages = 4

// PatternNote prefixes explanations served from the pattern cache
const PatternNote = "[Pattern match] This verdict was reused from an earlier analysis of a similar report. "

// ErrNoReport is returned when Analyze is called without a report
var ErrNoReport = errors.New("triage: report is required")

// Config tunes an Analyzer. Zero values select the defaults above.
type Config struct {
	PromptTTL       time.Duration
	PatternTTL      time.Duration
	ConversationTTL time.Duration
	SessionID       string
	PromptDir       string
	Clock           cache.Clock
}

// Analysis is the outcome of a successful Analyze call
type Analysis struct {
	Verdict          models.Verdict
	FromPatternCache bool
	Stage            ParseStage
	PatternKey       string
}

// Analyzer asks the model about problem reports while keeping the number
// and size of model calls down with three caches.
type Analyzer struct {
	provider      llm.Provider
	prompts       *PromptLoader
	promptCache   *cache.Store[string]
	patternCache  *cache.Store[models.Verdict]
	conversations *cache.Store[[]llm.Message]
	sessionID     string
	logger        *zap.Logger
}

func NewAnalyzer(provider llm.Provider, cfg Config, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PromptTTL <= 0 {
		cfg.PromptTTL = DefaultPromptTTL
	}
	if cfg.PatternTTL <= 0 {
		cfg.PatternTTL = DefaultPatternTTL
	}
	if cfg.ConversationTTL <= 0 {
		cfg.ConversationTTL = DefaultConversationTTL
	}
	if cfg.SessionID == "" {
		cfg.SessionID = DefaultSessionID
	}
	opts := []cache.Option{cache.WithClock(cfg.Clock)}

	return &Analyzer{
		provider:      provider,
		prompts:       NewPromptLoader(cfg.PromptDir),
		promptCache:   cache.New[string]("prompt", cfg.PromptTTL, opts...),
		patternCache:  cache.New[models.Verdict]("pattern", cfg.PatternTTL, opts...),
		conversations: cache.New[[]llm.Message]("conversation", cfg.ConversationTTL, opts...),
		sessionID:     cfg.SessionID,
		logger:        logger,
	}
}

// Analyze returns a verdict for report. A pattern cache hit costs nothing;
// otherwise one model call is made. Any provider failure is returned as is
// and leaves every cache untouched.
func (a *Analyzer) Analyze(ctx context.Context, report *models.ProblemReport, exercise *models.ExerciseSnapshot) (*Analysis, error) {
	if report == nil {
		return nil, ErrNoReport
	}

	key := PatternKey(report, exercise)
	if cached, ok := a.patternCache.Get(key); ok {
		a.logger.Debug("Pattern cache hit",
			zap.String("report_id", report.ID),
			zap.String("pattern", key))
		return &Analysis{
			Verdict:          decorate(cached),
			FromPatternCache: true,
			PatternKey:       key,
		}, nil
	}

	messages, freshPrompt, err := a.buildMessages(report, exercise)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := a.provider.Complete(ctx, messages)
	if err != nil {
		a.logger.Warn("Model call failed",
			zap.String("report_id", report.ID),
			zap.Int("messages", len(messages)),
			zap.Error(err))
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	if freshPrompt != "" {
		a.promptCache.Put(TriageTemplate, freshPrompt)
	}
	history := make([]llm.Message, 0, len(messages)+1)
	history = append(history, messages...)
	history = append(history, llm.Message{Role: llm.RoleAssistant, Content: reply})
	a.conversations.Put(a.sessionID, history)

	verdict, stage := ParseResponse(reply)
	a.patternCache.Put(key, verdict)

	a.logger.Info("Report analyzed",
		zap.String("report_id", report.ID),
		zap.String("pattern", key),
		zap.String("parse_stage", string(stage)),
		zap.Bool("is_valid", verdict.IsValid),
		zap.Bool("has_correction", verdict.HasCorrection()),
		zap.Duration("duration", time.Since(start)))

	return &Analysis{Verdict: verdict, Stage: stage, PatternKey: key}, nil
}

// buildMessages continues a live conversation with a compact turn or starts
// a new one with the full request. freshPrompt is set when the system prompt
// was loaded rather than served from cache, so the caller can cache it once
// the call succeeds.
func (a *Analyzer) buildMessages(report *models.ProblemReport, exercise *models.ExerciseSnapshot) (messages []llm.Message, freshPrompt string, err error) {
	if history, ok := a.conversations.Get(a.sessionID); ok && len(history) > 0 {
		if len(history) > retainedMessages {
			history = history[len(history)-retainedMessages:]
		}
		messages = make([]llm.Message, 0, len(history)+1)
		messages = append(messages, history...)
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: BuildMinimalRequest(report, exercise)})
		return messages, "", nil
	}

	prompt, ok := a.promptCache.Get(TriageTemplate)
	if !ok {
		prompt, err = a.prompts.Load(TriageTemplate)
		if err != nil {
			return nil, "", fmt.Errorf("load system prompt: %w", err)
		}
		freshPrompt = prompt
	}
	return []llm.Message{{Role: llm.RoleUser, Content: BuildFullRequest(report, exercise, prompt)}}, freshPrompt, nil
}

func decorate(v models.Verdict) models.Verdict {
	v.Explanation = PatternNote + v.Explanation
	v.Changes = append(models.FlexStrings(nil), v.Changes...)
	return v
}

// ResetConversation forgets the running conversation so the next call
// starts over with the full request
func (a *Analyzer) ResetConversation() {
	a.conversations.Delete(a.sessionID)
}

// CacheStats counts entries per cache
type CacheStats struct {
	Prompt       int `json:"prompt"`
	Pattern      int `json:"pattern"`
	Conversation int `json:"conversation"`
}

func (a *Analyzer) Stats() CacheStats {
	return CacheStats{
		Prompt:       a.promptCache.Len(),
		Pattern:      a.patternCache.Len(),
		Conversation: a.conversations.Len(),
	}
}

func (a *Analyzer) GetModelInfo() map[string]interface{} {
	return a.provider.GetModelInfo()
}
