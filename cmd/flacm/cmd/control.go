package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bianoble/flacm/internal/agent"
	"github.com/bianoble/flacm/pkg/flacm"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether flacm is running and the last role outcomes",
	Long: `Exits 0 when an agent is running, 2 when it is running but stopped by the
ignore file, and 1 when no agent is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closer, err := newClient()
		if err != nil {
			return err
		}
		defer closer.Close()

		rep, err := client.Status()
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), rep)
		return &exitError{code: rep.Status.ExitCode()}
	},
}

func printStatus(w io.Writer, rep *flacm.StatusReport) {
	if quiet {
		return
	}
	fmt.Fprintf(w, "flacm is %s\n", rep.Status)
	if len(rep.Ledger.Roles) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-10s %-24s %-8s %-16s %s\n", "VARIANT", "ROLE", "STATUS", "STATE", "FINISHED")
	for _, r := range rep.Ledger.Roles {
		fmt.Fprintf(w, "%-10s %-24s %-8s %-16s %s\n", r.Variant, r.Name, r.Status, r.State, r.Finished.Local().Format(time.DateTime))
		if r.Error != "" {
			fmt.Fprintf(w, "  %s\n", strings.TrimSpace(r.Error))
		}
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop applying roles by creating the ignore file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return control(func(s *agent.State) error { return s.Stop() }, "flacm stopped.")
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Resume applying roles by removing the ignore file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return control(func(s *agent.State) error { return s.Start() }, "flacm started.")
	},
}

func control(fn func(*agent.State) error, done string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s := &agent.State{Dir: cfg.StateDir, IgnoreFile: cfg.IgnoreFile, RebootFile: cfg.RebootFile}
	if err := fn(s); err != nil {
		return err
	}
	info(done)
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd, stopCmd, startCmd)
}
