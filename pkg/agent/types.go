package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/mbakri/corvo/pkg/provider"
)

// Status is the terminal state of a run.
type Status string

const (
	// StatusSuccess means the model produced a final text answer.
	StatusSuccess Status = "success"
	// StatusFailed means a provider or dispatch failure ended the run.
	StatusFailed Status = "failed"
	// StatusCancelled means the caller cancelled the run.
	StatusCancelled Status = "cancelled"
	// StatusMaxIterations means the iteration cap fired while the
	// model still wanted tools.
	StatusMaxIterations Status = "max_iterations_exceeded"
)

// Config controls one run of the loop.
type Config struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	SystemPrompt  string  `json:"system_prompt,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	Streaming     bool    `json:"streaming,omitempty"`

	// Budget bounds the run's wall-clock time. A run that exceeds it
	// ends as cancelled. Zero means no budget.
	Budget time.Duration `json:"budget,omitempty"`
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		Provider:      "anthropic",
		Model:         "claude-sonnet-4-20250514",
		Temperature:   0.7,
		MaxTokens:     4096,
		MaxIterations: 10,
	}
}

// RunParams are the inputs for one run.
type RunParams struct {
	Prompt     string `json:"prompt"`
	SessionKey string `json:"session_key,omitempty"`
	Config     Config `json:"config"`

	// OnDelta receives streamed text fragments as they arrive. Setting
	// it switches the provider calls to streaming mode.
	OnDelta func(delta string) `json:"-"`
}

// Result is the outcome of one run.
type Result struct {
	RunID      string              `json:"run_id"`
	SessionKey string              `json:"session_key"`
	Status     Status              `json:"status"`
	Response   string              `json:"response,omitempty"`
	ToolCalls  []provider.ToolCall `json:"tool_calls,omitempty"`
	Usage      provider.Usage      `json:"usage"`
	Iterations int                 `json:"iterations"`
}

// Memory persists conversation history per session key. A nil Memory
// on the runner means every run starts from an empty transcript.
type Memory interface {
	// History returns the stored transcript in chronological order.
	History(ctx context.Context, sessionKey string) ([]provider.Message, error)

	// Append adds messages to the end of the transcript.
	Append(ctx context.Context, sessionKey string, msgs ...provider.Message) error
}

func validateConfig(cfg Config) error {
	if cfg.Provider == "" {
		return fmt.Errorf("provider cannot be empty")
	}
	if cfg.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if cfg.MaxIterations < 0 {
		return fmt.Errorf("max iterations cannot be negative")
	}
	if cfg.Budget < 0 {
		return fmt.Errorf("budget cannot be negative")
	}
	return nil
}
