package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harun/groupbot/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the groupbot daemon",
	Long: `Start the groupbot daemon in the foreground.
The daemon polls Telegram for messages until it receives SIGINT or SIGTERM.
Edits to the config file are applied without a restart where possible.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if pid, running := runningPID(pidFile); running {
		return fmt.Errorf("daemon is already running (PID %d, PID file: %s)", pid, pidFile)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.WithConfigPath(loader.GetConfigPath()))
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintln(cmd.OutOrStdout(), "groupbot started")
	fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n", loader.GetConfigPath())
	if addr := d.MetricsAddr(); addr != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Metrics: http://%s/metrics\n", addr)
	}

	d.Wait()
	return nil
}

// runningPID reads pidFile and reports whether that process is alive.
func runningPID(pidFile string) (int, bool) {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return 0, false
	}
	return pid, daemon.ProcessAlive(pid)
}
