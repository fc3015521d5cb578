package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/seqlab"
	"github.com/happyhackingspace/seqlab/internal/modelstore"
)

func (c *CLI) newModelsCommand() *cobra.Command {
	var storePath string
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and manage the SQLite model store",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	modelsCmd.PersistentFlags().StringVar(&storePath, "store", "models.db", "Path to the model store")

	open := func(fn func(*modelstore.Store) error) error {
		store, err := modelstore.Open(storePath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return fn(store)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored model versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return open(func(store *modelstore.Store) error {
				recs, err := store.List()
				if err != nil {
					return err
				}
				activeID := ""
				if active, err := store.Active(); err == nil {
					activeID = active.VersionID
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "\tVERSION\tKIND\tNAME\tCREATED\tMETRICS")
				for _, r := range recs {
					mark := ""
					if r.VersionID == activeID {
						mark = "*"
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", mark, r.VersionID, r.Kind, r.Name,
						r.CreatedAt.Format("2006-01-02 15:04:05"), formatMetrics(r.Metrics))
				}
				return w.Flush()
			})
		},
	}

	var outPath string
	exportCmd := &cobra.Command{
		Use:   "export [version-id]",
		Short: "Write a stored model to a model file (default: the active one)",
		Args:  cobra.MaximumNArgs(1),
		Example: `  seqlab models export --out model.json
  seqlab models export 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --out old.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return open(func(store *modelstore.Store) error {
				var rec modelstore.Record
				var err error
				if len(args) == 1 {
					rec, err = store.Get(args[0])
				} else {
					rec, err = store.Active()
				}
				if err != nil {
					return err
				}
				l, err := seqlab.Unmarshal(rec.Model)
				if err != nil {
					return fmt.Errorf("version %s: %w", rec.VersionID, err)
				}
				if err := l.Save(outPath); err != nil {
					return err
				}
				fmt.Printf("Exported %s (%s) to %s\n", rec.VersionID, rec.Kind, outPath)
				return nil
			})
		},
	}
	exportCmd.Flags().StringVar(&outPath, "out", "model.json", "Destination model file")

	activateCmd := &cobra.Command{
		Use:   "activate <version-id>",
		Short: "Make a stored model the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return open(func(store *modelstore.Store) error {
				return store.Activate(args[0])
			})
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <version-id>",
		Short: "Show the per-epoch training errors of a stored model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return open(func(store *modelstore.Store) error {
				epochs, err := store.Epochs(args[0])
				if err != nil {
					return err
				}
				output, _ := json.MarshalIndent(epochs, "", "  ")
				fmt.Println(string(output))
				return nil
			})
		},
	}

	modelsCmd.AddCommand(listCmd, exportCmd, activateCmd, historyCmd)
	return modelsCmd
}

func formatMetrics(m map[string]float64) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%.3f", k, m[k]))
	}
	return strings.Join(parts, " ")
}
