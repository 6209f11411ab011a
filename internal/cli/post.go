package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/postpilot/internal/composer"
	"github.com/ibeckermayer/postpilot/internal/types"
)

// browserFlags are shared by every command that launches a browser
type browserFlags struct {
	headless bool
	keepOpen bool
	driver   string
}

func (f *browserFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.headless, "headless", false, "run the browser without a window (overrides HEADLESS)")
	cmd.Flags().BoolVar(&f.keepOpen, "keep-open", false, "leave the browser open after the run until Ctrl+C")
	cmd.Flags().StringVar(&f.driver, "driver", "", "browser driver: chromedp or rod")
}

func (f *browserFlags) apply(cmd *cobra.Command, e *env) {
	if cmd.Flags().Changed("headless") {
		e.cfg.Browser.Headless = f.headless
	}
	if cmd.Flags().Changed("keep-open") {
		e.cfg.Browser.KeepOpen = f.keepOpen
	}
	if f.driver != "" {
		e.cfg.Browser.Driver = f.driver
	}
}

func newPostCmd(e *env) *cobra.Command {
	var (
		flags browserFlags
		media string
	)
	cmd := &cobra.Command{
		Use:   "post <facebook|instagram|twitter|all> [caption]",
		Short: "Log in and publish a post",
		Long: `Log in (reusing saved cookies when valid) and publish a post.

Exit codes: 0 posted and verified, 1 failed, 2 browser timeout.
Instagram requires --media.`,
		Example: `  postpilot post twitter "Hello from postpilot"
  postpilot post instagram "Sunset" --media ./sunset.jpg
  postpilot post all "Same everywhere" --headless`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd, e)
			post := composer.Post{Caption: strings.Join(args[1:], " "), MediaPath: media}

			var target types.Platform
			if args[0] != "all" {
				p, err := types.ParsePlatform(args[0])
				if err != nil {
					return err
				}
				target = p
			}

			a, cleanup, err := e.newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if target == "" {
				_, err = a.PostAll(ctx, post)
			} else {
				_, err = a.Post(ctx, target, post)
			}
			waitKeptOpen(ctx, a, cmd.ErrOrStderr())
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&media, "media", "", "image or video to attach")
	return cmd
}

func newLoginCmd(e *env) *cobra.Command {
	var flags browserFlags
	cmd := &cobra.Command{
		Use:   "login <facebook|instagram|twitter>",
		Short: "Log in and save session cookies without posting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd, e)
			p, err := types.ParsePlatform(args[0])
			if err != nil {
				return err
			}
			a, cleanup, err := e.newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			_, err = a.Login(cmd.Context(), p)
			waitKeptOpen(cmd.Context(), a, cmd.ErrOrStderr())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newLogoutCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <facebook|instagram|twitter|all>",
		Short: "Delete saved session cookies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms := types.AllPlatforms()
			if args[0] != "all" {
				p, err := types.ParsePlatform(args[0])
				if err != nil {
					return err
				}
				platforms = []types.Platform{p}
			}

			a, cleanup, err := e.newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, p := range platforms {
				if err := a.Logout(p); err != nil {
					return fmt.Errorf("logout %s: %w", p, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared cookies for %s\n", color.GreenString("✓"), p)
			}
			return nil
		},
	}
}

func newBotTestCmd(e *env) *cobra.Command {
	var flags browserFlags
	cmd := &cobra.Command{
		Use:   "bot-test",
		Short: "Open bot.sannysoft.com to audit the browser fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd, e)
			a, cleanup, err := e.newApp(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			_, err = a.BotTest(cmd.Context())
			waitKeptOpen(cmd.Context(), a, cmd.ErrOrStderr())
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
