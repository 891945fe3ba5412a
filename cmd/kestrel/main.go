package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/kestrel/cmd/kestrel/commands"
	"github.com/teranos/kestrel/logger"
)

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Kestrel - threat hunting with composable hunt flows",
	Long: `Kestrel runs hunt flows: scripts of GET, FIND, APPLY, SORT, GROUP,
JOIN and the other hunt-flow commands over entity data sources.

Available commands:
  run     - Execute a hunt flow script
  parse   - Print the statements of a hunt flow as JSON
  am      - Show and validate configuration ("I am")
  gc      - Remove old debug session directories
  version - Show version information

Examples:
  kestrel run hunt.hf               # Execute a hunt flow
  kestrel run hunt.hf --watch       # Re-run on every save
  kestrel run hunt.hf --json        # Machine-readable displays
  kestrel parse hunt.hf             # Inspect the parsed statements
  kestrel am show                   # Show current configuration`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		return logger.Initialize(jsonLogs, verbosity)
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON lines")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ParseCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.GcCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		commands.ReportError(os.Stderr, err)
		logger.Cleanup()
		os.Exit(1)
	}
}
