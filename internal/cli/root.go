package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/promptlab/backend/internal/app"
	"github.com/promptlab/backend/internal/config"
	"github.com/promptlab/backend/internal/logging"
)

// env carries the application built for the running command.
type env struct {
	app *app.App
	out io.Writer
}

// NewRootCmd builds the promptlab command tree. Output goes to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	e := &env{out: out}
	var debug bool

	root := &cobra.Command{
		Use:           "promptlab",
		Short:         "promptlab explores how temperature and top-p shape model output",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if debug {
				level = "debug"
			}
			// Logs go to stderr so command output stays pipeable.
			logger := logging.New(logging.Config{Level: level, Format: cfg.LogFormat, Output: os.Stderr})

			a, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			e.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if e.app == nil {
				return nil
			}
			return e.app.Close()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(e),
		newListCmd(e),
		newShowCmd(e),
		newRenameCmd(e),
		newDeleteCmd(e),
		newExportCmd(e),
		newServeCmd(e),
	)
	return root
}

// Execute runs the CLI against os.Args and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.app.Serve(cmd.Context())
		},
	}
}
