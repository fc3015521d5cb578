package cli

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/seqlab"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var dataFolder string
	var cvFolds, workers int
	var asJSON bool
	var flags trainFlags

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a training method via domain-grouped cross-validation",
		Example: `  seqlab evaluate --data-folder data --cv 10
  seqlab evaluate --method crf --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.cfg
			slog.Info("Evaluating", "folds", cvFolds, "method", cfg.Method, "data-folder", dataFolder)
			start := time.Now()
			result, err := seqlab.Evaluate(dataFolder, &seqlab.EvalConfig{
				Folds:   cvFolds,
				Workers: workers,
				Train:   &cfg,
			})
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			if asJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
				return nil
			}
			fmt.Printf("Token accuracy: %.1f%% (%d/%d tokens)\n",
				result.TokenAccuracy*100, result.TokenCorrect, result.TokenTotal)
			fmt.Printf("Sequence accuracy: %.1f%% (%d/%d documents)\n",
				result.SequenceAccuracy*100, result.SequenceCorrect, result.SequenceTotal)
			printClassReport(result.Classes)
			printConfusionMatrix(result.Confusion)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to annotation data folder")
	cmd.Flags().IntVar(&cvFolds, "cv", 10, "Number of cross-validation folds")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel decoders per fold (default: number of CPUs)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	flags.register(cmd)
	return cmd
}

func printClassReport(classes map[string]*seqlab.ClassScore) {
	if len(classes) == 0 {
		return
	}
	fmt.Printf("\nPer-class span metrics:\n")
	fmt.Printf("%8s  %6s  %6s  %6s  %7s\n", "class", "prec", "recall", "f1", "support")
	for _, cls := range slices.Sorted(maps.Keys(classes)) {
		s := classes[cls]
		fmt.Printf("%8s  %5.1f%%  %5.1f%%  %5.1f%%  %7d\n",
			cls, s.Precision*100, s.Recall*100, s.F1*100, s.TruePositives+s.FalseNegatives)
	}
}

// printConfusionMatrix prints gold labels as rows and predictions as
// columns, busiest gold label first.
func printConfusionMatrix(confusion map[string]map[string]int) {
	if len(confusion) == 0 {
		return
	}
	totals := make(map[string]int)
	for gold, row := range confusion {
		for pred, n := range row {
			totals[gold] += n
			if _, ok := totals[pred]; !ok {
				totals[pred] = 0
			}
		}
	}
	labels := slices.SortedFunc(maps.Keys(totals), func(a, b string) int {
		return cmp.Or(cmp.Compare(totals[b], totals[a]), cmp.Compare(a, b))
	})

	fmt.Printf("\nConfusion matrix (rows=gold, cols=predicted):\n")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 1, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintf(w, "\t%s\ttotal\tacc%%\t\n", strings.Join(labels, "\t"))
	for _, gold := range labels {
		cells := make([]string, len(labels))
		for i, pred := range labels {
			cells[i] = "."
			if n := confusion[gold][pred]; n > 0 {
				cells[i] = strconv.Itoa(n)
			}
		}
		acc := 0.0
		if totals[gold] > 0 {
			acc = 100 * float64(confusion[gold][gold]) / float64(totals[gold])
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t\n", gold, strings.Join(cells, "\t"), totals[gold], acc)
	}
	_ = w.Flush()
}
