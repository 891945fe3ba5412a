package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/kestrel/display"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show Kestrel version information",
	Long:  `Display version, build time, commit hash, and platform information for the kestrel binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		info := version.Get()
		out := cmd.OutOrStdout()

		if constraint, _ := cmd.Flags().GetString("require"); constraint != "" {
			ok, err := info.Satisfies(constraint)
			if err != nil {
				return err
			}
			if !ok {
				return errors.WithHintf(
					errors.Newf("kestrel %s does not satisfy %s", info.Version, constraint),
					"install a kestrel release matching %s", constraint)
			}
		}

		if jsonOutput {
			data, err := display.MarshalJSON(info, false)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		fmt.Fprintln(out, info.String())
		fmt.Fprintf(out, "Platform: %s\n", info.Platform)
		fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		if !info.IsRelease() {
			fmt.Fprintln(out, "Release: no (development or prerelease build)")
		}
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
	VersionCmd.Flags().String("require", "", "Fail unless the binary satisfies this semver constraint (e.g. \">= 1.2\")")
}
