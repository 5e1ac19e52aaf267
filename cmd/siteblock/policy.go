package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist/policy"
)

var applyCmd = &cobra.Command{
	Use:   "apply <file|dir>",
	Short: "Apply block policy files",
	Long: `Adds the sites of a YAML, JSON or TOML policy file (or of every policy
file in a directory) and sets its action. A policy may turn the deletion
delay on; it never turns it off. Files are applied in order, so a later
file's action wins.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the block list and action as a policy file",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var formatFlag string

func init() {
	exportCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "Output format: yaml, json or toml")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(exportCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	policies, err := policy.Load(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range policies {
		// The action goes first so sites are checked against it.
		if p.Action != nil {
			if err := current.repo.SetAction(p.Action); err != nil {
				return err
			}
		}
		res, err := current.repo.AddMany(p.Sites)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: added %d of %d sites\n", p.Source, len(res.Added), len(p.Sites))
		for _, s := range res.Skipped {
			fmt.Fprintf(out, "  skipped %s: %v\n", s.Identifier, s.Err)
		}
		if p.DeletionDelay {
			st, err := current.toggle.Status()
			if err != nil {
				return err
			}
			if st.State == domain.FeatureDisabled {
				if _, err := current.toggle.Enable(); err != nil {
					return err
				}
				fmt.Fprintln(out, "  deletion delay enabled")
			}
		}
	}
	if len(policies) > 0 {
		a, err := current.repo.Action()
		if err != nil {
			return err
		}
		printAction(cmd, a)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	snap, err := current.repo.Snapshot()
	if err != nil {
		return err
	}
	p := policy.Policy{
		Sites:         make([]string, 0, len(snap.Entries)),
		Action:        snap.Action,
		DeletionDelay: snap.Delay.Enabled,
	}
	for _, e := range snap.Entries {
		p.Sites = append(p.Sites, e.Identifier)
	}
	b, err := policy.Marshal(p, formatFlag)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}
