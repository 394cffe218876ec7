package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbakri/corvo/pkg/agent"
)

var (
	runSession    string
	runProvider   string
	runModel      string
	runStream     bool
	runIterations int
	runBudget     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run the agent on a prompt",
	Long: `Run the agent loop on a single prompt. Tool calls are dispatched to
the configured MCP servers; the final response is printed to stdout.
Use --session to continue a previous transcript.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "", "session key (continues an existing transcript)")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "provider override (anthropic, openai, gemini)")
	runCmd.Flags().StringVar(&runModel, "model", "", "model override")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "stream response text as it arrives")
	runCmd.Flags().IntVar(&runIterations, "max-iterations", 0, "iteration cap override")
	runCmd.Flags().DurationVar(&runBudget, "budget", 0, "wall-clock budget for the run (e.g. 90s)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	params := agent.RunParams{
		Prompt:     strings.Join(args, " "),
		SessionKey: runSession,
		Config:     agentConfig(app, runProvider, runModel, runStream, runIterations),
	}
	if runBudget > 0 {
		params.Config.Budget = runBudget
	}
	if runStream {
		params.OnDelta = func(delta string) {
			fmt.Fprint(cmd.OutOrStdout(), delta)
		}
	}

	result, err := app.runner.Run(ctx, params)
	if err != nil {
		return err
	}

	if runStream {
		fmt.Fprintln(cmd.OutOrStdout())
	} else if result.Response != "" {
		fmt.Fprintln(cmd.OutOrStdout(), result.Response)
	}

	switch result.Status {
	case agent.StatusSuccess:
	case agent.StatusCancelled:
		return fmt.Errorf("run cancelled")
	case agent.StatusMaxIterations:
		return fmt.Errorf("run stopped after %d iterations", result.Iterations)
	default:
		return fmt.Errorf("run ended with status %s", result.Status)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "session: %s  iterations: %d  tokens: %d in / %d out\n",
		result.SessionKey, result.Iterations, result.Usage.InputTokens, result.Usage.OutputTokens)
	return nil
}

// agentConfig overlays CLI flags on the configured agent defaults.
func agentConfig(app *app, providerName, model string, stream bool, iterations int) agent.Config {
	cfg := agent.Config{
		Provider:      app.cfg.Agent.Provider,
		Model:         app.cfg.Agent.Model,
		SystemPrompt:  app.cfg.Agent.SystemPrompt,
		Temperature:   app.cfg.Agent.Temperature,
		MaxTokens:     app.cfg.Agent.MaxTokens,
		MaxIterations: app.cfg.Agent.MaxIterations,
		Streaming:     app.cfg.Agent.Streaming,
	}
	if providerName != "" {
		cfg.Provider = providerName
	}
	if model != "" {
		cfg.Model = model
	}
	if stream {
		cfg.Streaming = true
	}
	if iterations > 0 {
		cfg.MaxIterations = iterations
	}
	return cfg
}
