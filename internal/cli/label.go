package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/seqlab"
	"github.com/happyhackingspace/seqlab/internal/htmlutil"
	"github.com/happyhackingspace/seqlab/internal/modelstore"
)

func (c *CLI) newLabelCommand() *cobra.Command {
	var modelPath, storePath, version string
	var plainText, renderJS, explain, inline bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "label [url-or-file]",
		Short: "Label the tokens of a URL, HTML file, text file, or stdin",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Label a URL directly
  seqlab label https://example.com/about

  # Render JavaScript with headless Chrome before labeling
  seqlab label https://example.com/about --render

  # Label a local HTML file with a custom model
  seqlab label page.html --model model.json

  # Label plain text from stdin
  echo "John moved to New York" | seqlab label --text

  # Use the active model of a model store
  seqlab label page.html --store models.db

  # Print tokens inline and explain the decisions
  seqlab label page.html --inline --explain`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var content, target string
			var err error
			opts := htmlutil.DefaultFetchOptions()
			opts.Render = renderJS
			if timeout > 0 {
				opts.Timeout = timeout
			}

			if len(args) == 0 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				content, target, err = readFromStdin(cmd.Context(), opts)
			} else {
				target = args[0]
				slog.Debug("Fetching", "target", target, "render", renderJS)
				content, err = htmlutil.Fetch(cmd.Context(), target, opts)
			}
			if err != nil {
				return err
			}
			slog.Debug("Input read", "target", target, "bytes", len(content))

			start := time.Now()
			l, err := loadLabeler(modelPath, storePath, version)
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "kind", l.Kind(), "duration", time.Since(start))

			start = time.Now()
			var res *seqlab.Result
			if plainText {
				res, err = l.LabelText(content)
			} else {
				res, err = l.LabelHTML(content)
			}
			if err != nil {
				return err
			}
			slog.Debug("Labeling completed", "tokens", len(res.Tokens), "spans", len(res.Spans), "duration", time.Since(start))

			if inline {
				fmt.Println(res.String())
			} else {
				output, _ := json.MarshalIndent(res, "", "  ")
				fmt.Println(string(output))
			}
			if explain {
				out, err := l.Explain(res.Tokens)
				if err != nil {
					return err
				}
				fmt.Print(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: model.json in the working directory or its parents)")
	cmd.Flags().StringVar(&storePath, "store", "", "Load the model from this SQLite model store")
	cmd.Flags().StringVar(&version, "version-id", "", "Model version to load from --store (default: active)")
	cmd.Flags().BoolVar(&plainText, "text", false, "Treat the input as plain text instead of HTML")
	cmd.Flags().BoolVar(&renderJS, "render", false, "Render URLs in headless Chrome before labeling")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Fetch timeout (default 30s)")
	cmd.Flags().BoolVar(&inline, "inline", false, "Print tokens as token/LABEL instead of JSON")
	cmd.Flags().BoolVar(&explain, "explain", false, "Print per-token feature contributions (cmm models)")
	return cmd
}

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func loadLabeler(modelPath, storePath, version string) (*seqlab.Labeler, error) {
	if modelPath != "" {
		slog.Debug("Loading model", "path", modelPath)
		return seqlab.Load(modelPath)
	}
	if storePath == "" {
		return seqlab.New()
	}

	store, err := modelstore.Open(storePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	var rec modelstore.Record
	if version != "" {
		rec, err = store.Get(version)
	} else {
		rec, err = store.Active()
	}
	if err != nil {
		return nil, err
	}
	slog.Debug("Loading model from store", "store", storePath, "version", rec.VersionID, "kind", rec.Kind)
	return seqlab.Unmarshal(rec.Model)
}

func readFromStdin(ctx context.Context, opts htmlutil.FetchOptions) (string, string, error) {
	slog.Debug("Reading from stdin")
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", "", fmt.Errorf("read stdin: %w", err)
	}
	content := strings.TrimSpace(string(body))
	if content == "" {
		return "", "", fmt.Errorf("stdin is empty")
	}

	if htmlutil.IsURL(content) {
		slog.Debug("Stdin contains URL", "url", content)
		html, err := htmlutil.Fetch(ctx, content, opts)
		if err != nil {
			return "", "", err
		}
		return html, content, nil
	}
	return content, "stdin", nil
}
