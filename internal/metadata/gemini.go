package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/policyfund-crawler/internal/clock/system"
	"github.com/JakeFAU/policyfund-crawler/internal/logging"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini analyzer.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
	// Timeout bounds each model call.
	Timeout      time.Duration
	MaxTextRunes int
	Retry        RetryPolicy
	// Gate, when set, is waited on before every model call, retries included.
	Gate Waiter
}

// generator is the part of *genai.Models the analyzer calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Sleeper pauses between retries and batches.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Gemini extracts Metadata with the Gemini API.
type Gemini struct {
	models  generator
	cfg     GeminiConfig
	sleeper Sleeper
	logger  *zap.Logger
}

// NewGemini creates a Gemini API client. An API key is required.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGemini(client.Models, cfg, logger), nil
}

func newGemini(models generator, cfg GeminiConfig, logger *zap.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = DefaultMaxTextRunes
	}
	return &Gemini{
		models:  models,
		cfg:     cfg,
		sleeper: system.New(),
		logger:  logging.OrNop(logger).Named("gemini"),
	}
}

// Analyze implements Analyzer. Transient failures are retried per the retry
// policy; other failures return EmptyMetadata and a classified *Error.
func (g *Gemini) Analyze(ctx context.Context, title, body string) (Metadata, error) {
	prompt := BuildPrompt(title, body, g.cfg.MaxTextRunes)
	logger := g.logger.With(zap.String("title", title))

	for attempt := 1; ; attempt++ {
		if g.cfg.Gate != nil {
			if err := g.cfg.Gate.Wait(ctx); err != nil {
				return EmptyMetadata(), fmt.Errorf("wait for model slot: %w", err)
			}
		}
		raw, err := g.generate(ctx, prompt)
		if err == nil {
			md, perr := ParseResponse(raw)
			if perr != nil {
				logger.Warn("model response was not valid JSON", zap.Error(perr))
			}
			return md, perr
		}
		if !g.cfg.Retry.ShouldRetry(err, attempt) || ctx.Err() != nil {
			return EmptyMetadata(), err
		}
		delay := g.cfg.Retry.Backoff(attempt)
		logger.Warn("model call failed; retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if serr := g.sleeper.Sleep(ctx, delay); serr != nil {
			return EmptyMetadata(), err
		}
	}
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.cfg.Temperature),
		ResponseMIMEType: "application/json",
	}
	if g.cfg.TopP > 0 {
		config.TopP = genai.Ptr(g.cfg.TopP)
	}
	if g.cfg.TopK > 0 {
		config.TopK = genai.Ptr(g.cfg.TopK)
	}
	if g.cfg.MaxOutputTokens > 0 {
		config.MaxOutputTokens = g.cfg.MaxOutputTokens
	}

	resp, err := g.models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), config)
	if err != nil {
		return "", classify(fmt.Errorf("generate content: %w", err))
	}
	if resp == nil {
		return "", malformed(errors.New("empty response"))
	}
	return resp.Text(), nil
}

// WithSleeper swaps the retry pause implementation.
func (g *Gemini) WithSleeper(s Sleeper) *Gemini {
	g.sleeper = s
	return g
}
