package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/postpilot/internal/config"
	"github.com/ibeckermayer/postpilot/internal/server"
)

// runMargin is added to the browser timeout to bound one façade run
const runMargin = 2 * time.Minute

func newServeCmd(e *env) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the automation HTTP API",
		Long: `Serve POST /api/automation/run-{platform}-debug and GET /api/automation/health.
Each run re-executes this binary with "post" and reports its output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = e.cfg.Server.Addr
			}
			binary := e.cfg.Server.Binary
			if binary == "" {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("locate postpilot binary: %w", err)
				}
				binary = exe
			}

			runner := server.ExecRunner{Binary: binary, Prefix: []string{"--config", e.cfgPath}}
			s := server.New(addr, runner, e.cfg.Timeout()+runMargin, e.logger)
			return s.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:3001)")
	return cmd
}

func newOpenCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "open <config|screenshots|cookies|reports>",
		Short:     "Open a postpilot file or directory with the system handler",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"config", "screenshots", "cookies", "reports"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch args[0] {
			case "config":
				path = e.cfgPath
				if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
					if err := config.Default().SaveTo(path); err != nil {
						return err
					}
				}
			case "screenshots":
				path = e.cfg.Paths.ScreenshotDir
			case "cookies":
				path = e.cfg.Paths.CookieDir
			case "reports":
				path = e.cfg.Paths.ReportDir
			default:
				return fmt.Errorf("unknown target %q", args[0])
			}

			if args[0] != "config" {
				if err := os.MkdirAll(path, 0755); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Opening %s\n", path)
			return e.openFile(path)
		},
	}
}

func newConfigCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(e.cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", e.cfgPath)
			}
			if err := config.Default().SaveTo(e.cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", color.GreenString("✓"), e.cfgPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Credentials are read from the environment (FB_USERNAME, IG_USERNAME, TWIT_USERNAME, ...).")
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", e.cfgPath)
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(e.cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
