package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/groupbot/pkg/memory"
	"github.com/harun/groupbot/pkg/router"
	"github.com/harun/groupbot/pkg/tools"
)

// DefaultApology is returned when a run fails.
const DefaultApology = "抱歉，处理您的请求时出现了错误。请稍后再试。"

// Classifier decides which path a run takes. *router.Router implements it.
type Classifier interface {
	Classify(input string) router.Route
}

// Hooks receive run telemetry. Nil hooks are skipped.
type Hooks struct {
	OnAttempt func(route router.Route, attempt int, outcome Outcome, d time.Duration)
	OnRun     func(result RunResult, d time.Duration)
}

// ExecutorConfig holds the executor's collaborators and limits.
type ExecutorConfig struct {
	Router   Classifier
	Direct   DirectAnswerer
	Reasoner Reasoner
	Tools    *tools.Registry

	MaxIterations int // reasoning rounds per tool loop attempt
	MaxRetries    int // extra attempts after the first
	Apology       string

	LoopTimeout  time.Duration // wall-clock budget per tool loop attempt; 0 disables
	RetryBackoff time.Duration // base wait between attempts; 0 disables

	Logger zerolog.Logger
	Hooks  Hooks
}

// RunRequest is one message to answer.
type RunRequest struct {
	GroupID memory.GroupID
	Input   string
	History []memory.Turn
}

// RunResult is what a run produced. Text is always set.
type RunResult struct {
	Text      string
	Route     router.Route
	Attempts  int
	Succeeded bool
	ToolCalls int
	// Err is the last attempt error of a failed run, for logging only.
	Err error
}

// Executor drives a message through the direct or tool path with bounded retries.
type Executor struct {
	cfg ExecutorConfig
}

// NewExecutor validates cfg and returns an executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	switch {
	case cfg.Router == nil:
		return nil, errors.New("executor: router is required")
	case cfg.Direct == nil:
		return nil, errors.New("executor: direct answerer is required")
	case cfg.Reasoner == nil:
		return nil, errors.New("executor: reasoner is required")
	case cfg.Tools == nil:
		return nil, errors.New("executor: tool registry is required")
	case cfg.MaxIterations < 1:
		return nil, fmt.Errorf("executor: max iterations must be at least 1, got %d", cfg.MaxIterations)
	case cfg.MaxRetries < 0:
		return nil, fmt.Errorf("executor: max retries must not be negative, got %d", cfg.MaxRetries)
	case strings.TrimSpace(cfg.Apology) == "":
		return nil, errors.New("executor: apology text is required")
	case cfg.LoopTimeout < 0:
		return nil, errors.New("executor: loop timeout must not be negative")
	}
	return &Executor{cfg: cfg}, nil
}

// Run answers req. It never fails: when every attempt fails, or one fails fatally,
// the result carries the apology text and Succeeded is false.
func (e *Executor) Run(ctx context.Context, req RunRequest) RunResult {
	start := time.Now()
	runID, _ := gonanoid.New()
	logger := e.cfg.Logger.With().Str("runId", runID).Str("groupId", string(req.GroupID)).Logger()

	route := e.cfg.Router.Classify(req.Input)
	result := RunResult{Route: route}
	logger.Debug().Str("route", route.String()).Msg("Run started")

	maxAttempts := e.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.wait(ctx, attempt-1); err != nil {
				result.Err = err
				break
			}
		}

		result.Attempts = attempt
		attemptStart := time.Now()

		var outcome Outcome
		switch route {
		case router.NeedsTools:
			var calls int
			outcome, calls = e.toolLoop(ctx, req, logger)
			result.ToolCalls += calls
		default:
			outcome = e.directResponse(ctx, req)
		}

		if e.cfg.Hooks.OnAttempt != nil {
			e.cfg.Hooks.OnAttempt(route, attempt, outcome, time.Since(attemptStart))
		}

		if outcome.Status == StatusSuccess {
			result.Text = outcome.Text
			result.Succeeded = true
			result.Err = nil
			break
		}

		result.Err = outcome.Err
		logger.Warn().
			Err(outcome.Err).
			Int("attempt", attempt).
			Int("maxAttempts", maxAttempts).
			Str("status", outcome.Status.String()).
			Msg("Attempt failed")

		if outcome.Status == StatusFatal {
			break
		}
	}

	if !result.Succeeded {
		result.Text = e.cfg.Apology
		logger.Error().Err(result.Err).Int("attempts", result.Attempts).Msg("Run failed, replying with apology")
	} else {
		logger.Info().Int("attempts", result.Attempts).Int("toolCalls", result.ToolCalls).Dur("duration", time.Since(start)).Msg("Run succeeded")
	}

	if e.cfg.Hooks.OnRun != nil {
		e.cfg.Hooks.OnRun(result, time.Since(start))
	}
	return result
}

func (e *Executor) wait(ctx context.Context, retry int) error {
	d := CalculateBackoff(retry, e.cfg.RetryBackoff)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) directResponse(ctx context.Context, req RunRequest) Outcome {
	text, err := e.cfg.Direct.Answer(ctx, req.Input)
	if err != nil {
		return failure(err)
	}
	if strings.TrimSpace(text) == "" {
		return failure(ErrEmptyAnswer)
	}
	return success(text)
}

// toolLoop runs one attempt of the reasoning loop with a fresh scratchpad.
func (e *Executor) toolLoop(ctx context.Context, req RunRequest, logger zerolog.Logger) (Outcome, int) {
	if e.cfg.LoopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.LoopTimeout)
		defer cancel()
	}

	history := make([]memory.Turn, len(req.History))
	copy(history, req.History)
	specs := e.cfg.Tools.Specs()

	var pad []ScratchEntry
	calls := 0
	for round := 1; round <= e.cfg.MaxIterations; round++ {
		step, err := e.cfg.Reasoner.Reason(ctx, ReasonRequest{
			Input:      req.Input,
			History:    history,
			Tools:      specs,
			Scratchpad: pad,
		})
		if err != nil {
			return failure(err), calls
		}

		switch step.Kind {
		case StepFinal:
			if strings.TrimSpace(step.Answer) == "" {
				return failure(ErrEmptyAnswer), calls
			}
			return success(step.Answer), calls

		case StepToolCall:
			params := step.Call.Parameters
			if params == nil {
				if spec, ok := e.cfg.Tools.Lookup(step.Call.Name); ok {
					params = tools.CoerceParams(spec, step.Input)
				}
			}
			res := e.cfg.Tools.Execute(ctx, step.Call.Name, params)
			calls++
			logger.Debug().Int("round", round).Str("tool", step.Call.Name).Bool("success", res.Success).Msg("Tool call observed")
			pad = append(pad, ScratchEntry{Call: step.Call, Input: step.Input, Observation: res.Observation()})

		default:
			return failure(fmt.Errorf("%w: step kind %s", ErrParse, step.Kind)), calls
		}
	}

	return failure(ErrMaxIterations), calls
}
