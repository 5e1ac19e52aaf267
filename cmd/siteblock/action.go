package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haukened/siteblock/internal/siteblock/common/utils"
	"github.com/haukened/siteblock/internal/siteblock/domain"
	"github.com/haukened/siteblock/internal/siteblock/warning"
)

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Show or change what happens on a blocked site",
	RunE:  runActionShow,
}

var actionRedirectCmd = &cobra.Command{
	Use:   "redirect [url]",
	Short: "Send blocked navigations elsewhere",
	Long:  `Redirects blocked navigations to url, or to ` + domain.DefaultRedirectURL + ` when none is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runActionRedirect,
}

var actionCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close tabs that open a blocked site",
	Args:  cobra.NoArgs,
	RunE:  runActionClose,
}

var actionWarningCmd = &cobra.Command{
	Use:   "warning [template]",
	Short: "Show a warning page instead of a blocked site",
	Long: `Replaces blocked pages with a warning built from one of the templates
listed by "siteblock templates". --continue sets where its continue button
leads.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runActionWarning,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List warning page templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplates,
	// The catalog is static.
	PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
	PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
}

var previewCmd = &cobra.Command{
	Use:   "preview <template>",
	Short: "Print the warning page a template renders",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
	// The catalog is static.
	PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
	PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
}

var (
	continueFlag   string
	previewURLFlag string
)

func init() {
	actionWarningCmd.Flags().StringVar(&continueFlag, "continue", "", "Where the continue button leads")
	previewCmd.Flags().StringVar(&previewURLFlag, "url", "https://example.com/", "Blocked URL shown on the page")

	actionCmd.AddCommand(actionRedirectCmd)
	actionCmd.AddCommand(actionCloseCmd)
	actionCmd.AddCommand(actionWarningCmd)

	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(previewCmd)
}

func runActionShow(cmd *cobra.Command, args []string) error {
	a, err := current.repo.Action()
	if err != nil {
		return err
	}
	printAction(cmd, a)
	return nil
}

func printAction(cmd *cobra.Command, a domain.BlockAction) {
	out := cmd.OutOrStdout()
	switch a := a.(type) {
	case domain.RedirectAction:
		fmt.Fprintf(out, "Blocked sites redirect to %s\n", a.Target())
	case domain.CloseAction:
		fmt.Fprintln(out, "Blocked sites close their tab")
	case domain.WarningAction:
		t := warning.Resolve(a.Template())
		fmt.Fprintf(out, "Blocked sites show the %q warning; continue leads to %s\n", t.Name, a.ContinueTarget())
	}
}

func runActionRedirect(cmd *cobra.Command, args []string) error {
	a := domain.RedirectAction{}
	if len(args) == 1 {
		if !utils.IsHTTPURL(args[0]) {
			return fmt.Errorf("not an http(s) URL: %q", args[0])
		}
		a.URL = args[0]
	}
	return setAction(cmd, a)
}

func runActionClose(cmd *cobra.Command, args []string) error {
	return setAction(cmd, domain.CloseAction{})
}

func runActionWarning(cmd *cobra.Command, args []string) error {
	a := domain.WarningAction{ContinueURL: continueFlag}
	if len(args) == 1 {
		if _, ok := warning.Lookup(args[0]); !ok {
			return fmt.Errorf("%q: %w", args[0], domain.ErrUnknownTemplate)
		}
		a.TemplateID = args[0]
	}
	if continueFlag != "" && !utils.IsHTTPURL(continueFlag) {
		return fmt.Errorf("not an http(s) URL: %q", continueFlag)
	}
	return setAction(cmd, a)
}

func setAction(cmd *cobra.Command, a domain.BlockAction) error {
	if err := current.repo.SetAction(a); err != nil {
		return err
	}
	printAction(cmd, a)
	return nil
}

func runTemplates(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTITLE")
	for _, t := range warning.Templates() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, t.Title)
	}
	return w.Flush()
}

func runPreview(cmd *cobra.Command, args []string) error {
	if _, ok := warning.Lookup(args[0]); !ok {
		return fmt.Errorf("%q: %w", args[0], domain.ErrUnknownTemplate)
	}
	return warning.Render(cmd.OutOrStdout(), warning.NewPage(args[0], previewURLFlag, ""))
}
