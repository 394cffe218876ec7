package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbakri/corvo/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file with defaults to the config path.
API keys found in ANTHROPIC_API_KEY or OPENAI_API_KEY are picked up as
provider profiles. An existing file is kept as the base, so running
configure again only fills in what is missing.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	// Load picks up existing values and env credentials.
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Configuration saved.")
	if len(cfg.AI.Profiles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No API keys found; set ANTHROPIC_API_KEY or OPENAI_API_KEY, or edit the ai.profiles section.")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Declare MCP servers in:", cfg.ServersPath)
	fmt.Fprintln(cmd.OutOrStdout(), "Then run: corvo run \"your prompt\"")
	return nil
}
