package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/common/utils"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/repos/blocklist/parsers"
	"github.com/haukened/siteblock/internal/siteblock/services/deletion"
)

var addCmd = &cobra.Command{
	Use:   "add <site>",
	Short: "Block a hostname or full URL",
	Long: `Adds a site to the block list. A bare hostname blocks the host and every
subdomain; a value starting with http blocks that exact page.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var blockURLCmd = &cobra.Command{
	Use:   "block-url <url>",
	Short: "Block exactly this page",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlockURL,
}

var blockHostCmd = &cobra.Command{
	Use:   "block-host <url>",
	Short: "Block the whole site a page belongs to",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlockHost,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Add every site listed in a file",
	Long: `Imports a plain list (one hostname or URL per line) or, with --hosts, a
hosts file. Comments and duplicates are skipped. Use - to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var removeCmd = &cobra.Command{
	Use:   "remove <site>",
	Short: "Remove a site from the block list",
	Long: `Removes a site. With the deletion delay enabled and the 5-minute grace
period over, removal needs a 24-hour countdown: run again with --confirm to
start it, and once more after it has run out (or let siteblockd finish it).`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked sites",
	RunE:  runList,
}

var (
	apexFlag    bool
	hostsFlag   bool
	confirmFlag bool
)

func init() {
	addCmd.Flags().BoolVar(&apexFlag, "apex", false, "Block the registrable domain of the hostname")
	blockHostCmd.Flags().BoolVar(&apexFlag, "apex", false, "Block the registrable domain of the hostname")
	importCmd.Flags().BoolVar(&hostsFlag, "hosts", false, "Parse the file as a hosts file")
	removeCmd.Flags().BoolVar(&confirmFlag, "confirm", false, "Start the 24-hour countdown when one is needed")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(blockURLCmd)
	rootCmd.AddCommand(blockHostCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	if apexFlag && !strings.HasPrefix(id, "http") {
		id = utils.GetApexDomain(id)
	}
	return addOne(cmd.OutOrStdout(), id)
}

func runBlockURL(cmd *cobra.Command, args []string) error {
	raw := strings.TrimSpace(args[0])
	if !utils.IsHTTPURL(raw) {
		return fmt.Errorf("not an http(s) URL: %q", raw)
	}
	return addOne(cmd.OutOrStdout(), raw)
}

func runBlockHost(cmd *cobra.Command, args []string) error {
	host := utils.NormalizeHostname(strings.TrimSpace(args[0]))
	if apexFlag {
		host = utils.GetApexDomain(host)
	}
	return addOne(cmd.OutOrStdout(), host)
}

func addOne(out io.Writer, id string) error {
	entry, err := current.repo.Add(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Blocked %s (%s). It can be removed freely for the next %d minutes.\n",
		entry.Identifier, entry.Kind(), domain.CeilMinutes(domain.GracePeriod))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	var (
		r      io.Reader
		source = args[0]
	)
	if source == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(source)
		if err != nil {
			return fmt.Errorf("open %s: %w", source, err)
		}
		defer f.Close()
		r = f
	}

	parse := parsers.ParsePlainList
	if hostsFlag {
		parse = parsers.ParseHostsFile
	}
	ids, err := parse(r, source, log.Component("import"))
	if err != nil {
		return err
	}

	res, err := current.repo.AddMany(ids)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %d of %d sites from %s\n", len(res.Added), len(ids), source)
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "  skipped %s: %v\n", s.Identifier, s.Err)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	id := domain.CanonicalIdentifier(args[0])
	out := cmd.OutOrStdout()

	outcome, err := current.deletion.RequestRemoval(id)
	if err != nil {
		return err
	}
	switch o := outcome.(type) {
	case deletion.Removed:
		if o.Reason == deletion.ReasonNotBlocked {
			fmt.Fprintf(out, "%s is not blocked\n", o.Identifier)
		} else {
			fmt.Fprintf(out, "Removed %s\n", o.Identifier)
		}
	case deletion.Waiting:
		printWaiting(out, o)
	case deletion.NeedsSchedule:
		if !confirmFlag {
			if o.GraceMissedBy > 0 {
				fmt.Fprintf(out, "The %d-minute grace period for %s ended %d minutes ago.\n",
					domain.CeilMinutes(domain.GracePeriod), o.Identifier, domain.CeilMinutes(o.GraceMissedBy))
			}
			fmt.Fprintf(out, "Removing %s requires a %d-hour wait. Run again with --confirm to start the countdown.\n",
				o.Identifier, domain.CeilHours(current.deletion.Delay()))
			return nil
		}
		w, err := current.deletion.ConfirmSchedule(o.Identifier)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deletion scheduled: %s will be removed in %d hours\n", w.Identifier, w.HoursLeft())
	}
	return nil
}

func printWaiting(out io.Writer, w deletion.Waiting) {
	fmt.Fprintf(out, "Deletion pending for %s: %d hours left\n", w.Identifier, w.HoursLeft())
	if w.CanCancelNow {
		fmt.Fprintf(out, "Debug mode is on: `siteblock pending cancel --now %s` stops it at once.\n", w.Identifier)
	} else {
		fmt.Fprintf(out, "`siteblock pending cancel %s` keeps the site blocked.\n", w.Identifier)
	}
}

func runList(cmd *cobra.Command, args []string) error {
	snap, err := current.repo.Snapshot()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(snap.Entries) == 0 {
		fmt.Fprintln(out, "No sites blocked")
		return nil
	}

	t := now.Now()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tKIND\tSTATUS")
	for _, e := range snap.Entries {
		status := "blocked"
		if start, ok := snap.Pending[e.Identifier]; ok {
			left := domain.Remaining(start, t, domain.DeletionDelay)
			status = fmt.Sprintf("deletion pending, %dh left", domain.CeilHours(left))
		} else if left := e.GraceLeft(t, domain.GracePeriod); left > 0 {
			status = fmt.Sprintf("removable for %dm", domain.CeilMinutes(left))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Identifier, e.Kind(), status)
	}
	return w.Flush()
}

// userError reports validation failures without the wrapping context.
func userError(err error) error {
	for _, target := range []error{
		domain.ErrEmptyIdentifier,
		domain.ErrAlreadyBlocked,
		domain.ErrRedirectTarget,
		domain.ErrNotBlocked,
		domain.ErrDebugModeRequired,
		domain.ErrInvalidTransition,
		domain.ErrUnknownTemplate,
		domain.ErrNoPendingCountdown,
	} {
		if errors.Is(err, target) {
			return target
		}
	}
	return err
}
