package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bianoble/flacm/internal/agent"
	"github.com/bianoble/flacm/pkg/flacm"
)

var (
	runInit     bool
	runForce    bool
	runDryRun   bool
	runNoIgnore bool
)

var runCmd = &cobra.Command{
	Use:   "run [role...]",
	Short: "Apply the roles for this host",
	Long: `Applies the operating system, domain, function and host roles for this host
once. Named roles are applied alone, as function roles; they must be assigned
to this host in the role data file unless --force is given.

With --init flacm stays in the foreground as a daemon, applying roles every
daemon.interval or as soon as the ignore or reboot file changes. It exits with
status 1 when the reboot interval has passed so that the bootstrap can start a
fresh agent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runInit {
			quiet = true
		}
		client, closer, err := newClient()
		if err != nil {
			return err
		}
		defer closer.Close()

		opts := flacm.RunOptions{
			Roles:    args,
			Force:    runForce,
			NoIgnore: runNoIgnore,
			DryRun:   runDryRun,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runInit {
			err := client.Daemon(ctx, opts)
			if errors.Is(err, agent.ErrReboot) {
				return &exitError{code: 1}
			}
			return err
		}
		return runOnce(ctx, client, opts)
	},
}

func runOnce(ctx context.Context, client *flacm.Client, opts flacm.RunOptions) error {
	result, err := client.Run(ctx, opts)
	if errors.Is(err, flacm.ErrIgnored) {
		info("flacm is stopped; nothing to do.")
		return nil
	}
	if err != nil {
		return err
	}

	if opts.DryRun {
		info("Dry run: the live filesystem was not changed.")
	}
	for _, r := range result.Results {
		if r.Err != nil {
			errorf("%s %s: %v", r.Variant, r.Role, r.Err)
			continue
		}
		info("  %-8s %-24s %d files", r.Variant, r.Role, len(r.Actions))
		for _, a := range r.Actions {
			detail("  %-9s %-6s %s", a.Result, a.Type, a.Path)
		}
	}
	for _, name := range result.Skipped {
		detail("  skipped %s (no tree)", name)
	}

	info("")
	info("Run %s complete: %d applied, %d failed, %d skipped.",
		result.RunID, len(result.Results)-result.Failed, result.Failed, len(result.Skipped))
	return result.Err()
}

func init() {
	runCmd.Flags().BoolVarP(&runInit, "init", "I", false, "run as a daemon (implies --quiet)")
	runCmd.Flags().BoolVarP(&runForce, "force", "F", false, "apply named roles even if not assigned to this host")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "build the fix tree and report changes without touching the live filesystem")
	runCmd.Flags().BoolVarP(&runNoIgnore, "no-ignore", "n", false, "run even while flacm is stopped")
	rootCmd.AddCommand(runCmd)
}
