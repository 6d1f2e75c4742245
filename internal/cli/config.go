package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harun/groupbot/internal/config"
	"github.com/harun/groupbot/internal/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Long:  `Load the configuration with environment overrides applied and report every problem found.`,
	RunE:  runConfigCheck,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	cyan := color.New(color.FgCyan)
	red := color.New(color.FgRed)

	cyan.Fprintf(out, "Config: %s\n", loader.GetConfigPath())

	errs := config.NewValidator().ValidateConfig(cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			red.Fprintf(out, "  ✗ %v\n", e)
		}
		return fmt.Errorf("configuration has %d problem(s)", len(errs))
	}

	color.New(color.FgGreen).Fprintln(out, "  ✓ configuration is valid")
	fmt.Fprintf(out, "AI profiles: %d\n", len(cfg.AI.Profiles))
	fmt.Fprintf(out, "Response probability: %.2f\n", cfg.Bot.ResponseProbability)
	fmt.Fprintf(out, "Memory window: %d turns\n", cfg.Memory.WindowSize)
	fmt.Fprintf(out, "Tool keywords: %s\n", strings.Join(cfg.Router.Keywords, ", "))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), logger.NewRedactor().Redact(cfg.String()))
	return nil
}
