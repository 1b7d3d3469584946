package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	configPath      string
	sourceFlag      string
	rolesSourceFlag string
	verbosity       int
	quiet           bool
)

var rootCmd = &cobra.Command{
	Use:   "flacm",
	Short: "Host configuration management agent",
	Long: `flacm pulls role trees from a data source (local, rsync, http, https or
sftp), reconciles them against this host's filesystem and runs each role's
pre, fix and post scripts. Roles are applied in order: operating system,
domain, the function roles assigned to the host, then the host itself.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flacm %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to an additional config file")
	rootCmd.PersistentFlags().StringVar(&sourceFlag, "source", "", "data source locator, e.g. http://cfg.example.com/flacm")
	rootCmd.PersistentFlags().StringVar(&rolesSourceFlag, "roles-source", "", "role data file locator")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "more logging (repeat for trace)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "no console output; log to the configured log file")

	rootCmd.AddCommand(versionCmd)
}

// exitError carries a process exit status. An empty message prints
// nothing.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the root command and returns the process exit status.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}
