package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const repoSlug = "happyhackingspace/seqlab"

func (c *CLI) newUpCommand() *cobra.Command {
	var checkOnly bool
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Self-update to the latest release",
		Example: `  seqlab up
  seqlab up --check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			updater, release, err := c.newerRelease(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if release == nil {
				_, _ = fmt.Fprintf(out, "Already up to date (%s)\n", c.version)
				return nil
			}
			if checkOnly {
				_, _ = fmt.Fprintf(out, "Version %s is available (running %s)\n", release.Version(), c.version)
				return nil
			}

			slog.Info("Updating", "from", c.version, "to", release.Version())
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			if err := updater.UpdateTo(cmd.Context(), release, exe); err != nil {
				return fmt.Errorf("update: %w", err)
			}
			_, _ = fmt.Fprintf(out, "Updated to %s\n", release.Version())
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report whether a newer release exists")
	return cmd
}

// newerRelease returns the latest release when it is newer than the
// running binary, and nil otherwise. Development builds count as 0.0.0.
func (c *CLI) newerRelease(ctx context.Context) (*selfupdate.Updater, *selfupdate.Release, error) {
	current := c.version
	if current == "dev" || current == "" {
		current = "0.0.0"
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{})
	if err != nil {
		return nil, nil, err
	}
	latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(repoSlug))
	if err != nil {
		return nil, nil, fmt.Errorf("detect latest version: %w", err)
	}
	if !found {
		return nil, nil, fmt.Errorf("no release found for %s", repoSlug)
	}
	if latest.LessOrEqual(current) {
		return updater, nil, nil
	}
	return updater, latest, nil
}
