package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/happyhackingspace/seqlab"
	"github.com/happyhackingspace/seqlab/internal/modelstore"
	"github.com/happyhackingspace/seqlab/internal/storage"
	"github.com/happyhackingspace/seqlab/sequential"
)

// trainFlags binds the training flags shared by train and evaluate.
type trainFlags struct {
	cfg seqlab.TrainConfig
}

func (f *trainFlags) register(cmd *cobra.Command) {
	f.cfg = seqlab.DefaultTrainConfig()
	fs := cmd.Flags()
	fs.StringVar(&f.cfg.Method, "method", f.cfg.Method, fmt.Sprintf("Training method %v", seqlab.Methods))
	fs.IntVar(&f.cfg.Epochs, "epochs", f.cfg.Epochs, "Perceptron epochs")
	fs.IntVar(&f.cfg.HistorySize, "history", f.cfg.HistorySize, "Number of previous labels used as features")
	fs.IntVar(&f.cfg.BeamSize, "beam", f.cfg.BeamSize, "Beam size while decoding (0 means exact search)")
	fs.BoolVar(&f.cfg.Shuffle, "shuffle", f.cfg.Shuffle, "Shuffle sequences before every epoch")
	fs.Uint64Var(&f.cfg.Seed, "seed", f.cfg.Seed, "Shuffle seed")
	fs.IntVar(&f.cfg.MaxWindowSize, "window", 0, "Maximum segment length for semi-markov (default: from config.json)")
	fs.BoolVar(&f.cfg.Compress, "compress", false, "Store segment groups compactly (semi-markov)")
	fs.BoolVar(&f.cfg.UpdatedViterbi, "updated-viterbi", false, "Decode with averaged weights while training (semi-markov)")
	fs.IntVar(&f.cfg.CRF.MaxIterations, "crf-iterations", f.cfg.CRF.MaxIterations, "Maximum CRF optimizer iterations")
}

func (c *CLI) progress(description string) *progressbar.ProgressBar {
	if c.silent {
		return nil
	}
	return progressbar.Default(-1, description)
}

func (c *CLI) newTrainCommand() *cobra.Command {
	var dataFolder, sequenceFile, storePath string
	var flags trainFlags

	cmd := &cobra.Command{
		Use:   "train <modelfile>",
		Short: "Train a labeler on an annotated HTML corpus or a sequence file",
		Args:  cobra.ExactArgs(1),
		Example: `  seqlab train model.json --data-folder data
  seqlab train model.json --method semi-markov --window 3
  seqlab train model.json --sequences train.seq --method margin
  seqlab train model.json --store models.db -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath := args[0]
			cfg := flags.cfg
			bar := c.progress("training")
			if bar != nil {
				cfg.Progress = bar
			}
			cfg.OnEpoch = func(s sequential.EpochStats) {
				slog.Debug("Epoch done", "epoch", s.Epoch, "sequence_errors", s.SequenceErrors, "transition_errors", s.TransitionErrors)
			}

			start := time.Now()
			var l *seqlab.Labeler
			var err error
			name := dataFolder
			if sequenceFile != "" {
				name = sequenceFile
				slog.Info("Training labeler", "sequences", sequenceFile, "method", cfg.Method, "output", modelPath)
				ds, lerr := storage.LoadSequenceFile(sequenceFile)
				if lerr != nil {
					return lerr
				}
				l, err = seqlab.TrainSequences(ds, &cfg)
			} else {
				slog.Info("Training labeler", "data-folder", dataFolder, "method", cfg.Method, "output", modelPath)
				l, err = seqlab.Train(dataFolder, &cfg)
			}
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start))

			if err := l.Save(modelPath); err != nil {
				return err
			}
			slog.Info("Model saved", "path", modelPath)

			if storePath != "" {
				rec, err := saveToStore(storePath, name, l, nil)
				if err != nil {
					return err
				}
				slog.Info("Model registered", "store", storePath, "version", rec.VersionID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to annotation data folder")
	cmd.Flags().StringVar(&sequenceFile, "sequences", "", "Train on a sequence file instead of the data folder")
	cmd.Flags().StringVar(&storePath, "store", "", "Also register the model in this SQLite model store")
	flags.register(cmd)
	return cmd
}

func saveToStore(path, name string, l *seqlab.Labeler, metrics map[string]float64) (modelstore.Record, error) {
	store, err := modelstore.Open(path)
	if err != nil {
		return modelstore.Record{}, err
	}
	defer func() { _ = store.Close() }()
	data, err := l.Marshal()
	if err != nil {
		return modelstore.Record{}, err
	}
	return store.SaveModel(l.Kind(), name, data, metrics, l.History())
}
