package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

var tracer = otel.Tracer("github.com/linnemanlabs/aware/internal/evaluator")

const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 4096
)

var (
	// ErrMalformedResponse is returned when the completion is not the
	// expected JSON object.
	ErrMalformedResponse = errors.New("malformed reasoning response")

	// ErrReasoningTimeout is returned when a call exceeds its timeout.
	ErrReasoningTimeout = errors.New("reasoning call timed out")
)

// Hooks receives per-call reasoning events. Nil fields are skipped.
type Hooks struct {
	OnCall func(evaluator string, inputTokens, outputTokens int, duration float64, failed bool)
}

// Config is the dependency set shared by all evaluators.
type Config struct {
	Provider  Provider
	Logger    log.Logger
	Hooks     Hooks
	Timeout   time.Duration
	MaxTokens int
}

// reasoner wraps a provider with a timeout, tracing, hooks and JSON decoding.
type reasoner struct {
	name      string
	provider  Provider
	logger    log.Logger
	hooks     Hooks
	timeout   time.Duration
	maxTokens int
}

func newReasoner(name string, cfg Config) reasoner {
	if cfg.Provider == nil {
		panic(xerrors.New("reasoning provider is required"))
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return reasoner{
		name:      name,
		provider:  cfg.Provider,
		logger:    cfg.Logger.With("evaluator", name),
		hooks:     cfg.Hooks,
		timeout:   cfg.Timeout,
		maxTokens: cfg.MaxTokens,
	}
}

// callJSON sends one prompt and decodes the JSON object in the completion
// into out. It returns the model that answered.
func (r reasoner) callJSON(ctx context.Context, system, prompt string, temperature float64, out any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "reasoning.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "reasoning.call"),
		attribute.String("aware.evaluator", r.name),
		attribute.Int("gen_ai.request.max_tokens", r.maxTokens),
		attribute.Float64("gen_ai.request.temperature", temperature),
	))
	defer span.End()

	start := time.Now()
	resp, err := r.provider.Complete(ctx, &Request{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   r.maxTokens,
		Temperature: temperature,
	})
	dur := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrReasoningTimeout, r.timeout, err)
		}
		r.observe(0, 0, dur, true)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn(ctx, "reasoning call failed", "error", err, "duration", dur)
		return "", err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
		attribute.String("gen_ai.response.finish_reasons", resp.StopReason),
	)

	if err := decodeJSON(resp.Text, out); err != nil {
		r.observe(resp.Usage.InputTokens, resp.Usage.OutputTokens, dur, true)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn(ctx, "reasoning response rejected", "error", err, "stop_reason", resp.StopReason)
		return resp.Model, err
	}

	r.observe(resp.Usage.InputTokens, resp.Usage.OutputTokens, dur, false)
	r.logger.Info(ctx, "reasoning call complete",
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", dur,
	)
	return resp.Model, nil
}

func (r reasoner) observe(in, out int, dur float64, failed bool) {
	if r.hooks.OnCall != nil {
		r.hooks.OnCall(r.name, in, out, dur, failed)
	}
}

// decodeJSON extracts the outermost JSON object from text, tolerating
// markdown code fences and surrounding prose.
func decodeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no JSON object in completion", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}
