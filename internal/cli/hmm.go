package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/seqlab/hmm"
	"github.com/happyhackingspace/seqlab/internal/textutil"
)

func (c *CLI) newHMMCommand() *cobra.Command {
	hmmCmd := &cobra.Command{
		Use:   "hmm",
		Short: "Train and decode unsupervised hidden Markov models over token streams",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	var states []string
	var minCount int
	var lower bool
	bw := hmm.DefaultBaumWelchConfig()
	bw.UnseenCount = 0.1
	trainCmd := &cobra.Command{
		Use:   "train <modelfile> [input]",
		Short: "Fit an HMM with Baum-Welch on one token sequence per line",
		Args:  cobra.RangeArgs(1, 2),
		Example: `  seqlab hmm train hmm.json corpus.txt --states A,B,C
  cat corpus.txt | seqlab hmm train hmm.json --max-iterations 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			xs, err := readTokenLines(args[1:], lower)
			if err != nil {
				return err
			}
			if len(xs) == 0 {
				return fmt.Errorf("no input sequences")
			}
			vocab := hmm.NewVocabulary(frequentTokens(xs, minCount))
			slog.Info("Training HMM", "sequences", len(xs), "states", len(states), "vocabulary", vocab.Size())

			m, res, err := hmm.BaumWelch(xs, states, vocab, bw)
			if errors.Is(err, hmm.ErrNotConverged) {
				slog.Warn("Baum-Welch stopped before converging", "iterations", res.Iterations, "loglik", res.LogLikelihood)
			} else if err != nil {
				return err
			} else {
				slog.Info("Baum-Welch converged", "iterations", res.Iterations, "loglik", res.LogLikelihood)
			}
			if err := hmm.SaveModel(m, args[0]); err != nil {
				return err
			}
			slog.Info("Model saved", "path", args[0])
			return nil
		},
	}
	trainCmd.Flags().StringSliceVar(&states, "states", []string{"S1", "S2"}, "Hidden state names")
	trainCmd.Flags().IntVar(&minCount, "min-count", 2, "Map tokens seen fewer times to "+hmm.Unseen)
	trainCmd.Flags().BoolVar(&lower, "lower", true, "Normalize tokens before training")
	trainCmd.Flags().Float64Var(&bw.Threshold, "threshold", bw.Threshold, "Stop when the log-likelihood changes by at most this much")
	trainCmd.Flags().IntVar(&bw.MaxIterations, "max-iterations", 0, "Iteration cap (0 means none)")
	trainCmd.Flags().Uint64Var(&bw.Seed, "seed", bw.Seed, "Seed of the random initial model")
	trainCmd.Flags().Float64Var(&bw.UnseenCount, "unseen-count", bw.UnseenCount, "Pseudo-count of "+hmm.Unseen+" emissions per state")

	var decodeLower bool
	decodeCmd := &cobra.Command{
		Use:   "decode <modelfile> [input]",
		Short: "Print the Viterbi state path of every input line",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := hmm.LoadModel(args[0])
			if err != nil {
				return err
			}
			xs, err := readTokenLines(args[1:], decodeLower)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			defer func() { _ = w.Flush() }()
			failed := 0
			for i, x := range xs {
				path, logProb, err := m.Decode(x)
				if err != nil {
					slog.Warn("Cannot decode line", "line", i+1, "error", err)
					_, _ = fmt.Fprintln(w)
					failed++
					continue
				}
				pairs := make([]string, len(x))
				for j := range x {
					pairs[j] = x[j] + "/" + path[j]
				}
				_, _ = fmt.Fprintf(w, "%.4f\t%s\n", logProb, strings.Join(pairs, " "))
			}
			if failed > 0 {
				slog.Warn("Some lines could not be decoded", "failed", failed, "lines", len(xs))
			}
			return nil
		},
	}
	decodeCmd.Flags().BoolVar(&decodeLower, "lower", true, "Normalize tokens before decoding")

	hmmCmd.AddCommand(trainCmd, decodeCmd)
	return hmmCmd
}

// readTokenLines reads one token sequence per non-empty line from the
// named file, or from stdin when no file is given.
func readTokenLines(files []string, normalize bool) ([][]string, error) {
	var r io.Reader = os.Stdin
	if len(files) == 1 {
		f, err := os.Open(files[0])
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var xs [][]string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		tokens := textutil.Tokenize(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		if normalize {
			for i, t := range tokens {
				tokens[i] = textutil.Normalize(t)
			}
		}
		xs = append(xs, tokens)
	}
	return xs, scanner.Err()
}

// frequentTokens lists, in first-seen order, the tokens seen at least
// minCount times.
func frequentTokens(xs [][]string, minCount int) []string {
	counts := make(map[string]int)
	var order []string
	for _, x := range xs {
		for _, t := range x {
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}
	out := order[:0]
	for _, t := range order {
		if counts[t] >= minCount {
			out = append(out, t)
		}
	}
	return out
}
