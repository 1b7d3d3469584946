package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bianoble/flacm/pkg/flacm"
)

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Print the host facts roles are selected by",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closer, err := newClient()
		if err != nil {
			return err
		}
		defer closer.Close()

		out, err := yaml.Marshal(client.Facts())
		if err != nil {
			return fmt.Errorf("encoding facts: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List the roles this host would apply, in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closer, err := newClient()
		if err != nil {
			return err
		}
		defer closer.Close()

		roles, err := client.Plan(cmd.Context(), flacm.RunOptions{})
		if err != nil {
			return err
		}
		for _, r := range roles {
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-24s %s\n", r.Variant.Kind, r.Name, r.Locator)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(factsCmd, rolesCmd)
}
