// Package cli wires the seqlab commands to the library.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// levelSilent is above every level the commands log at.
const levelSilent = slog.Level(100)

// CLI holds the root command and the flags every subcommand shares.
type CLI struct {
	version   string
	verbose   bool
	silent    bool
	logFormat string
	logOnce   bool
	rootCmd   *cobra.Command
}

// New builds the command tree for the given version string.
func New(version string) *CLI {
	c := &CLI{version: version}
	c.rootCmd = &cobra.Command{
		Use:          "seqlab",
		Short:        "Sequence labeling and span extraction for text and HTML",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setupLogging(cmd.ErrOrStderr())
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	flags := c.rootCmd.PersistentFlags()
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose/debug output")
	flags.BoolVarP(&c.silent, "silent", "s", false, "Suppress all logging and progress output")
	flags.StringVar(&c.logFormat, "log-format", "text", "Log format: text or json")

	for _, sub := range []*cobra.Command{
		c.newTrainCommand(),
		c.newLabelCommand(),
		c.newEvaluateCommand(),
		c.newHMMCommand(),
		c.newModelsCommand(),
		c.newDataCommand(),
		c.newUpCommand(),
	} {
		c.rootCmd.AddCommand(sub)
	}
	return c
}

// Run executes the CLI and returns any error.
func (c *CLI) Run() error {
	return c.rootCmd.Execute()
}

func (c *CLI) setupLogging(w io.Writer) error {
	if c.logOnce {
		return nil
	}
	c.logOnce = true

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch {
	case c.silent:
		opts.Level = levelSilent
	case c.verbose:
		opts.Level = slog.LevelDebug
	}
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch c.logFormat {
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", c.logFormat)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
