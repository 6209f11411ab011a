// Package cli is the postpilot command line
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ibeckermayer/postpilot/internal/app"
	"github.com/ibeckermayer/postpilot/internal/config"
	"github.com/ibeckermayer/postpilot/internal/observability"
	"github.com/ibeckermayer/postpilot/internal/store"
)

// Exit codes
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitTimeout = 2
)

// ExitCode maps a command error onto the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, app.ErrTimeout):
		return ExitTimeout
	}
	return ExitFailure
}

// Execute runs the root command with SIGINT/SIGTERM cancellation and returns
// the exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
	}
	return ExitCode(err)
}

// env is the state shared by every command of one invocation
type env struct {
	cfgPath  string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger

	// appOpts are appended when building the App; tests inject a launcher
	appOpts  []app.Option
	openFile func(path string) error
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(&env{openFile: browser.OpenFile})
}

func newRootCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postpilot",
		Short: "Publish posts to Facebook, Instagram and X through a real browser",
		Long: `postpilot drives a real Chrome session to log in and publish posts on
Facebook, Instagram and X/Twitter, reusing saved session cookies when they
are still valid.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&e.cfgPath, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/postpilot/config.toml)")
	cmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newPostCmd(e),
		newLoginCmd(e),
		newLogoutCmd(e),
		newCookiesCmd(e),
		newHistoryCmd(e),
		newDiscoverCmd(e),
		newServeCmd(e),
		newOpenCmd(e),
		newBotTestCmd(e),
		newConfigCmd(e),
	)
	return cmd
}

func (e *env) init(cmd *cobra.Command) error {
	path := e.cfgPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	e.cfgPath = path

	cfg, err := config.LoadFrom(path)
	if err != nil {
		return err
	}
	if e.logLevel != "" {
		cfg.Logger.Level = e.logLevel
	}
	e.cfg = cfg

	observability.Initialize(cfg.Logger, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
	e.logger = observability.GetLogger()
	e.logger.Debug("Configuration loaded", zap.String("path", path), zap.String("driver", cfg.Browser.Driver))
	return nil
}

// newApp builds the run driver writing markers to the command's stdout. The
// returned func closes the history database.
func (e *env) newApp(cmd *cobra.Command) (*app.App, func(), error) {
	opts := []app.Option{app.WithOutput(cmd.OutOrStdout())}

	st, err := store.New(e.cfg.Paths.Database)
	if err != nil {
		e.logger.Warn("Run history unavailable", zap.String("path", e.cfg.Paths.Database), zap.Error(err))
	} else {
		opts = append(opts, app.WithStore(st))
	}

	a, err := app.New(e.cfg, e.logger, append(opts, e.appOpts...)...)
	cleanup := func() {
		if st != nil {
			st.Close()
		}
	}
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return a, cleanup, nil
}

// waitKeptOpen blocks until ctx is cancelled (Ctrl+C) while browsers are kept
// open, then closes them
func waitKeptOpen(ctx context.Context, a *app.App, w io.Writer) {
	defer a.Shutdown()
	if a.KeptOpen() == 0 {
		return
	}
	fmt.Fprintln(w, color.YellowString("Waiting for Ctrl+C to close %d browser(s)...", a.KeptOpen()))
	<-ctx.Done()
}
