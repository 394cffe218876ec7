package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools exposed by the configured MCP servers",
	Long: `Connect to every server in the manifest and print the registered tool
catalog. Names shown here are the names the agent calls; a tool whose
name collides across servers appears under a server-prefixed alias.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	catalog := app.router.Catalog()
	if len(catalog) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools registered. Check the server manifest:", app.cfg.ServersPath)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tDESCRIPTION")
	for _, tool := range catalog {
		fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d tools from %d servers\n", len(catalog), len(app.sessions))
	return nil
}
