package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/teranos/kestrel/am"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/session"
)

// GcCmd removes exited debug sessions beyond the retention count
var GcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove old debug session directories",
	Long: `Remove exited debug sessions from the debug cache root, keeping the
most recent session.debug_sessions_retained ones (or --keep).`,
	Args: cobra.NoArgs,
	RunE: runGc,
}

var gcKeep int

func init() {
	GcCmd.Flags().IntVar(&gcKeep, "keep", -1, "Sessions to keep (default from configuration)")
}

func runGc(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	keep := cfg.Session.DebugSessionsRetained
	if gcKeep >= 0 {
		keep = gcKeep
	}

	root := filepath.Join(os.TempDir(), cfg.Session.DebugCacheDirectory)
	removed, err := session.CollectGarbage(root, cfg.Session.ExitMarker, keep, logger.Logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d debug sessions from %s\n", len(removed), root)
	return nil
}
