package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/services/delaytoggle"
)

var delayCmd = &cobra.Command{
	Use:   "delay",
	Short: "Show or change the 24-hour deletion delay",
	Args:  cobra.NoArgs,
	RunE:  runDelayStatus,
}

var delayEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn the deletion delay on",
	Args:  cobra.NoArgs,
	RunE:  dialogCommand(false),
}

var delayDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Start turning the deletion delay off, or finish once the wait is over",
	Args:  cobra.NoArgs,
	RunE:  dialogCommand(false),
}

var delayCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop a running disable countdown and keep the delay on",
	Args:  cobra.NoArgs,
	RunE:  dialogCommand(true),
}

var delayRelockCmd = &cobra.Command{
	Use:   "relock",
	Short: "Restart the disable countdown from now",
	Args:  cobra.NoArgs,
	RunE:  runDelayRelock,
}

var pendingCmd = &cobra.Command{
	Use:   "pending [site]",
	Short: "Show running deletion countdowns",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPendingStatus,
}

var pendingCancelCmd = &cobra.Command{
	Use:   "cancel <site>",
	Short: "Stop a deletion countdown; the site stays blocked",
	Args:  cobra.ExactArgs(1),
	RunE:  runPendingCancel,
}

var debugCmd = &cobra.Command{
	Use:       "debug [on|off]",
	Short:     "Show or set debug mode",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE:      runDebug,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the block list and its settings",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var (
	yesFlag bool
	nowFlag bool
)

func init() {
	for _, c := range []*cobra.Command{delayEnableCmd, delayDisableCmd, delayCancelCmd} {
		c.Flags().BoolVarP(&yesFlag, "yes", "y", false, "Accept the confirmation")
	}
	pendingCancelCmd.Flags().BoolVar(&nowFlag, "now", false, "Cancel at once (debug mode only)")

	delayCmd.AddCommand(delayEnableCmd)
	delayCmd.AddCommand(delayDisableCmd)
	delayCmd.AddCommand(delayCancelCmd)
	delayCmd.AddCommand(delayRelockCmd)
	pendingCmd.AddCommand(pendingCancelCmd)

	rootCmd.AddCommand(delayCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(statusCmd)
}

func runDelayStatus(cmd *cobra.Command, args []string) error {
	st, err := current.toggle.Status()
	if err != nil {
		return err
	}
	printDelay(cmd.OutOrStdout(), st)
	return nil
}

func printDelay(out io.Writer, st delaytoggle.Status) {
	switch st.State {
	case domain.FeatureDisabled:
		fmt.Fprintln(out, "Deletion delay: off")
	case domain.FeatureEnabledIdle:
		fmt.Fprintln(out, "Deletion delay: on")
	case domain.FeatureEnabledCounting:
		fmt.Fprintf(out, "Deletion delay: on, can be turned off in %dh\n", st.HoursLeft())
	case domain.FeatureReady:
		fmt.Fprintln(out, "Deletion delay: on, can be turned off now")
	}
}

// dialogCommand shows the confirmation for the current feature state and,
// with --yes, applies it. cancel selects the cancel-countdown confirmation.
func dialogCommand(cancel bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		st, err := current.toggle.Status()
		if err != nil {
			return err
		}
		if err := checkDialogState(cmd, st, cancel); err != nil {
			return err
		}

		d := delaytoggle.DialogFor(st, cancel)
		fmt.Fprintln(out, d.Message)
		if d.Note != "" {
			fmt.Fprintln(out, d.Note)
		}
		if d.OnAccept == delaytoggle.ChoiceRequestCancel {
			fmt.Fprintln(out, "`siteblock delay cancel` stops the countdown.")
			return nil
		}
		if !yesFlag {
			fmt.Fprintf(out, "Run again with --yes to %s.\n", d.Accept)
			return nil
		}
		next, err := current.toggle.Apply(d.OnAccept)
		if err != nil {
			return err
		}
		printDelay(out, next)
		return nil
	}
}

// checkDialogState rejects commands that make no sense in the current state,
// so "delay enable" never ends up starting a disable countdown.
func checkDialogState(cmd *cobra.Command, st delaytoggle.Status, cancel bool) error {
	var ok bool
	switch {
	case cancel:
		ok = st.State == domain.FeatureEnabledCounting || st.State == domain.FeatureReady
	case cmd.Name() == "enable":
		ok = st.State == domain.FeatureDisabled
	default:
		ok = st.State.Enabled()
	}
	if !ok {
		return fmt.Errorf("%s from %s: %w", cmd.Name(), st.State, domain.ErrInvalidTransition)
	}
	return nil
}

func runDelayRelock(cmd *cobra.Command, args []string) error {
	st, err := current.toggle.Relock()
	if err != nil {
		return err
	}
	printDelay(cmd.OutOrStdout(), st)
	return nil
}

func runPendingStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		w, err := current.deletion.Countdown(domain.CanonicalIdentifier(args[0]))
		if err != nil {
			return err
		}
		printWaiting(out, w)
		return nil
	}

	all, err := current.deletion.Status()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(out, "No deletions pending")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SITE\tSTARTED\tHOURS LEFT")
	for _, w := range all {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", w.Identifier, w.StartedAt.Local().Format("2006-01-02 15:04"), w.HoursLeft())
	}
	return tw.Flush()
}

func runPendingCancel(cmd *cobra.Command, args []string) error {
	id := domain.CanonicalIdentifier(args[0])
	cancel := current.deletion.CancelWaiting
	if nowFlag {
		cancel = current.deletion.CancelImmediately
	}
	stopped, err := cancel(id)
	if err != nil {
		return err
	}
	if stopped {
		fmt.Fprintf(cmd.OutOrStdout(), "Deletion of %s cancelled; it stays blocked\n", id)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "No deletion pending for %s\n", id)
	}
	return nil
}

func runDebug(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := current.repo.SetDebugMode(args[0] == "on"); err != nil {
			return err
		}
	}
	on, err := current.repo.DebugMode()
	if err != nil {
		return err
	}
	state := "off"
	if on {
		state = "on"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Debug mode: %s\n", state)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	stats, err := current.repo.Stats()
	if err != nil {
		return err
	}
	st, err := current.toggle.Status()
	if err != nil {
		return err
	}
	action, err := current.repo.Action()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "siteblock %s\n", Version)
	fmt.Fprintf(out, "Store: %s\n", current.cfg.Store.Path)
	fmt.Fprintf(out, "Blocked: %d (%d hostnames, %d URLs)\n", stats.Entries, stats.Hostnames, stats.URLs)
	fmt.Fprintf(out, "Pending deletions: %d\n", stats.Pending)
	fmt.Fprintf(out, "Action: %s\n", action.Type())
	printDelay(out, st)
	return nil
}
