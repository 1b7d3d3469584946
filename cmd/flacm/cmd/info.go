package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show flacm's configuration chain and effective settings",
	Long: `Displays the flacm version, which configuration files were found and loaded,
and the effective data source, state files and reconcile settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, layers, err := loadConfig()
		if err != nil {
			for _, l := range layers {
				if l.Err != nil {
					errorf("%s: %v", l.Path, l.Err)
				}
			}
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "flacm %s\n", version)
		fmt.Fprintln(w, "  config chain:")
		for _, layer := range layers {
			status := "not found"
			if layer.Loaded {
				status = "loaded"
			}
			fmt.Fprintf(w, "    %-8s %s (%s)\n", layer.Level+":", layer.Path, status)
		}

		roles, err := cfg.RolesLocator()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  source:        %s\n", cfg.Source)
		fmt.Fprintf(w, "  role data:     %s\n", roles)
		fmt.Fprintf(w, "  live root:     %s (sync: %s)\n", cfg.LiveRoot, cfg.Sync)
		fmt.Fprintf(w, "  staging dir:   %s\n", cfg.StagingDir)
		fmt.Fprintf(w, "  ownership:     %s:%s\n", cfg.Owner, cfg.Group)
		fmt.Fprintf(w, "  part as whole: %t\n", cfg.PartAsWhole)
		fmt.Fprintf(w, "  state dir:     %s\n", cfg.StateDir)
		fmt.Fprintf(w, "  ignore file:   %s\n", cfg.IgnoreFile)
		fmt.Fprintf(w, "  reboot file:   %s (every %s)\n", cfg.RebootFile, cfg.RebootInterval)
		fmt.Fprintf(w, "  interval:      %s\n", cfg.Daemon.Interval)
		if cfg.Metrics.Textfile != "" {
			fmt.Fprintf(w, "  metrics:       %s\n", cfg.Metrics.Textfile)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
