package commands

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/kestrel/am"
	"github.com/teranos/kestrel/display"
	"github.com/teranos/kestrel/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and validate Kestrel configuration",
	Long: `am - Show and validate Kestrel configuration ("I am")

Configuration sources (later overrides earlier):
1. Built-in defaults
2. System config (/etc/kestrel/config.toml)
3. User config (~/.kestrel/am.toml)
4. Project config (./am.toml, searched up directories)
5. Environment variables (KESTREL_* prefix)

Examples:
  kestrel am show                 # Show current configuration
  kestrel am show --format json   # Show configuration in JSON format
  kestrel am where                # Show where each setting came from
  kestrel am validate             # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each setting is loaded from",
	RunE:  runAmWhere,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "json":
		data, err := display.MarshalJSON(cfg, false)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# Kestrel configuration\n%s", data)
	case "toml":
		data, err := cfg.EncodeTOML()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "# Kestrel configuration\n%s", data)
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	settings, err := am.GetConfigIntrospection()
	if err != nil {
		return err
	}

	bySource := map[am.ConfigSource][]am.SettingInfo{}
	for _, s := range settings {
		bySource[s.Source] = append(bySource[s.Source], s)
	}
	sources := make([]string, 0, len(bySource))
	for src := range bySource {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)

	out := cmd.OutOrStdout()
	for _, src := range sources {
		group := bySource[am.ConfigSource(src)]
		header := fmt.Sprintf("[%s]", src)
		if p := group[0].SourcePath; p != "" && src != string(am.SourceEnvironment) {
			header += " " + p
		}
		fmt.Fprintln(out, pterm.Bold.Sprint(header))
		for _, s := range group {
			fmt.Fprintf(out, "  %s = %v\n", s.Key, s.Value)
		}
	}
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}
