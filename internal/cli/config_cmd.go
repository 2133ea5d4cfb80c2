package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after merging defaults, config file,
environment and flags. Key material and passphrases are redacted.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// validation problems are reported after the dump, not instead of it
	cfg := config.Build()
	out, err := renderConfig(cfg)
	if err != nil {
		return err
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	return nil
}

// renderConfig renders the redacted configuration as YAML
func renderConfig(cfg *config.Config) (string, error) {
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(data), nil
}
