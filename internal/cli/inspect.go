package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/postpilot/internal/auth"
	"github.com/ibeckermayer/postpilot/internal/digest"
	"github.com/ibeckermayer/postpilot/internal/discovery"
	"github.com/ibeckermayer/postpilot/internal/dom"
	"github.com/ibeckermayer/postpilot/internal/platform"
	"github.com/ibeckermayer/postpilot/internal/store"
	"github.com/ibeckermayer/postpilot/internal/types"
)

func newCookiesCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "cookies [platform]",
		Short: "Show saved session cookie status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms := types.AllPlatforms()
			if len(args) == 1 {
				p, err := types.ParsePlatform(args[0])
				if err != nil {
					return err
				}
				platforms = []types.Platform{p}
			}

			registry := platform.NewRegistry()
			if err := registry.LoadOverrides(e.cfg.Paths.PlatformOverrides); err != nil {
				return err
			}
			cs := auth.NewCookieStore(e.cfg.Paths.CookieDir)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PLATFORM\tSTATUS\tCOOKIES\tSAVED\tFILE")
			for _, p := range platforms {
				prof, err := registry.Get(p)
				if err != nil {
					return err
				}
				rec, err := cs.Load(p)
				if errors.Is(err, auth.ErrNoCookies) {
					fmt.Fprintf(w, "%s\t%s\t-\t-\t%s\n", p, color.YellowString("none"), cs.Path(p))
					continue
				}
				if err != nil {
					fmt.Fprintf(w, "%s\t%s\t-\t-\t%s\n", p, color.RedString("unreadable: %v", err), cs.Path(p))
					continue
				}

				status := color.GreenString("valid")
				if verr := auth.Validate(rec, prof.CriticalCookies, time.Now()); verr != nil {
					status = color.RedString("invalid: %v", verr)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", p, status, len(rec.Cookies),
					rec.SavedAt.Local().Format("2006-01-02 15:04"), cs.Path(p))
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd(e *env) *cobra.Command {
	var (
		platformName string
		limit        int
		html         string
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or show the steps of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.New(e.cfg.Paths.Database)
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			defer st.Close()

			if len(args) == 1 {
				run, err := st.GetRun(args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				printRun(cmd, run)
				return nil
			}

			var p types.Platform
			if platformName != "" {
				if p, err = types.ParsePlatform(platformName); err != nil {
					return err
				}
			}
			runs, err := st.RecentRuns(p, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
				return nil
			}
			if cmd.Flags().Changed("html") {
				return e.writeDigest(cmd, st, runs, html)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPLATFORM\tKIND\tRESULT\tATTEMPTS\tID\tMESSAGE")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Platform, r.Kind,
					resultLabel(r.Success), r.AttemptsUsed, r.ID, truncate(r.Message, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&platformName, "platform", "p", "", "only show runs for this platform")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().StringVar(&html, "html", "", "write an HTML digest to this file and open it (default in the reports directory)")
	cmd.Flags().Lookup("html").NoOptDefVal = "-"
	return cmd
}

func (e *env) writeDigest(cmd *cobra.Command, st *store.Store, runs []store.Run, path string) error {
	for i := range runs {
		steps, err := st.RunSteps(runs[i].ID)
		if err != nil {
			return err
		}
		runs[i].Steps = steps
	}
	b, err := digest.New(len(runs))
	if err != nil {
		return err
	}
	d, err := b.Build(runs)
	if err != nil {
		return err
	}

	if path == "" || path == "-" {
		path = filepath.Join(e.cfg.Paths.ReportDir, "history.html")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(d.HTMLBody), 0644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %d runs to %s\n", color.GreenString("✓"), len(d.RunIDs), path)
	return e.openFile(path)
}

func printRun(cmd *cobra.Command, r *store.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s %s) %s\n", r.ID, r.Kind, r.Platform, resultLabel(r.Success))
	fmt.Fprintf(out, "  started  %s\n  finished %s\n", r.StartedAt.Local().Format(time.RFC3339), r.FinishedAt.Local().Format(time.RFC3339))
	if r.Message != "" {
		fmt.Fprintf(out, "  message  %s\n", r.Message)
	}
	if r.ScreenshotPath != "" {
		fmt.Fprintf(out, "  screenshot %s\n", r.ScreenshotPath)
	}
	fmt.Fprintln(out, "Steps:")
	for _, s := range r.Steps {
		mark := color.GreenString("✓")
		if !s.Success {
			mark = color.RedString("✗")
		}
		line := fmt.Sprintf("  %s %s %s", mark, s.Timestamp.Local().Format("15:04:05.000"), s.Name)
		if s.Error != "" {
			line += ": " + s.Error
		}
		fmt.Fprintln(out, line)
	}
}

func resultLabel(ok bool) string {
	if ok {
		return color.GreenString("OK")
	}
	return color.RedString("FAILED")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// staticPage serves snapshots of a saved HTML file
type staticPage struct {
	doc *goquery.Document
}

func (p staticPage) Snapshot(_ context.Context, query string) ([]dom.Element, error) {
	return dom.FromDocument(p.doc, query), nil
}

func newDiscoverCmd(e *env) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "discover <file.html> [role]",
		Short: "Rank selector candidates against a saved HTML snapshot",
		Long: `Rank selector candidates for a role against a saved page, such as the HTML
written next to a failure screenshot. Without a role every role is ranked.

Roles: ` + roleNames(),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := dom.Parse(string(data))
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			roles := types.Roles()
			if len(args) == 2 {
				r, err := types.ParseRole(args[1])
				if err != nil {
					return err
				}
				roles = []types.Role{r}
			}

			page := staticPage{doc: doc}
			out := cmd.OutOrStdout()
			for _, role := range roles {
				cands, err := discovery.Discover(cmd.Context(), page, role)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, color.CyanString(string(role)))
				if len(cands) == 0 {
					fmt.Fprintln(out, "  (no candidates)")
					continue
				}
				for i, c := range cands {
					if top > 0 && i >= top {
						break
					}
					fmt.Fprintf(out, "  %4d  %s\n", c.Score, c.Selector)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 5, "candidates to show per role (0 for all)")
	return cmd
}

func roleNames() string {
	var names []string
	for _, r := range types.Roles() {
		names = append(names, string(r))
	}
	return strings.Join(names, ", ")
}
