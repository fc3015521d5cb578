package cli

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/seqlab/internal/htmlutil"
	"github.com/happyhackingspace/seqlab/internal/storage"
)

func (c *CLI) newDataCommand() *cobra.Command {
	dataCmd := &cobra.Command{
		Use:   "data",
		Short: "Manage annotation corpora (fetch pages, pack and unpack archives)",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	var fetchFolder string
	var fetchRender bool
	var fetchDelay time.Duration
	fetchCmd := &cobra.Command{
		Use:   "fetch <url-list>",
		Short: "Download pages listed one URL per line into the corpus folder for annotation",
		Args:  cobra.ExactArgs(1),
		Example: `  seqlab data fetch urls.txt --data-folder data
  seqlab data fetch urls.txt --render --delay 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := htmlutil.DefaultFetchOptions()
			opts.Render = fetchRender
			return dataFetch(cmd.Context(), fetchFolder, args[0], opts, fetchDelay)
		},
	}
	fetchCmd.Flags().StringVar(&fetchFolder, "data-folder", "data", "Corpus folder")
	fetchCmd.Flags().BoolVar(&fetchRender, "render", false, "Render pages in headless Chrome")
	fetchCmd.Flags().DurationVar(&fetchDelay, "delay", 0, "Pause between requests")

	var packFolder string
	packCmd := &cobra.Command{
		Use:     "pack <archive>",
		Short:   "Write the corpus folder to a .tar.gz archive",
		Args:    cobra.ExactArgs(1),
		Example: `  seqlab data pack data.tar.gz --data-folder data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			count, err := writeArchive(f, packFolder)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("create archive: %w", err)
			}
			slog.Info("Archive created", "path", args[0], "files", count)
			return nil
		},
	}
	packCmd.Flags().StringVar(&packFolder, "data-folder", "data", "Corpus folder to pack")

	var unpackFolder string
	unpackCmd := &cobra.Command{
		Use:   "unpack <archive-or-url>",
		Short: "Extract a .tar.gz corpus archive, replacing the corpus folder",
		Args:  cobra.ExactArgs(1),
		Example: `  seqlab data unpack data.tar.gz
  seqlab data unpack https://example.org/corpus.tar.gz --data-folder data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dataUnpack(cmd.Context(), args[0], unpackFolder)
		},
	}
	unpackCmd.Flags().StringVar(&unpackFolder, "data-folder", "data", "Destination folder")

	dataCmd.AddCommand(fetchCmd, packCmd, unpackCmd)
	return dataCmd
}

func dataFetch(ctx context.Context, dataFolder, listPath string, opts htmlutil.FetchOptions, delay time.Duration) error {
	f, err := os.Open(listPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	store := storage.NewStorage(dataFolder)
	index, err := store.GetIndex()
	if os.IsNotExist(err) {
		index = make(map[string]storage.IndexEntry)
	} else if err != nil {
		return err
	}
	known := make(map[string]bool, len(index))
	for _, e := range index {
		known[e.URL] = true
	}

	fetched, failed := 0, 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		target := strings.TrimSpace(scanner.Text())
		if target == "" || strings.HasPrefix(target, "#") || known[target] {
			continue
		}
		if !htmlutil.IsURL(target) {
			slog.Warn("Skipping non-URL line", "line", target)
			continue
		}
		html, err := htmlutil.Fetch(ctx, target, opts)
		if err != nil {
			slog.Warn("Fetch failed", "url", target, "error", err)
			failed++
			continue
		}
		path, err := store.SavePage(index, target, html)
		if err != nil {
			return err
		}
		known[target] = true
		fetched++
		slog.Debug("Page saved", "url", target, "path", path)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := store.SaveIndex(index); err != nil {
		return err
	}
	slog.Info("Fetch done", "fetched", fetched, "failed", failed, "folder", dataFolder)
	return nil
}

func dataUnpack(ctx context.Context, source, dataFolder string) error {
	var r io.Reader
	if htmlutil.IsURL(source) {
		slog.Info("Downloading corpus", "url", source)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("download data: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download data: HTTP %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	if err := os.RemoveAll(dataFolder); err != nil {
		return fmt.Errorf("remove existing %s: %w", dataFolder, err)
	}
	count, err := extractArchive(r, dataFolder)
	if err != nil {
		return err
	}
	slog.Info("Corpus extracted", "files", count, "folder", dataFolder)
	return nil
}

// writeArchive packs the files under folder as a gzipped tar whose
// entries are relative to folder.
func writeArchive(w io.Writer, folder string) (int, error) {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)
	count := 0
	err := filepath.Walk(folder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(folder, path)
		if err != nil || rel == "." {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		_ = tw.Close()
		_ = gw.Close()
		return count, err
	}
	if err := tw.Close(); err != nil {
		_ = gw.Close()
		return count, fmt.Errorf("close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return count, fmt.Errorf("close gzip: %w", err)
	}
	return count, nil
}

// extractArchive unpacks a gzipped tar into dest. Entries that would
// land outside dest are rejected.
func extractArchive(r io.Reader, dest string) (int, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("gzip reader: %w", err)
	}
	defer func() { _ = gr.Close() }()

	root := filepath.Clean(dest)
	tr := tar.NewReader(gr)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read tar: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return count, fmt.Errorf("archive entry %q escapes %s", hdr.Name, dest)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return count, fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return count, fmt.Errorf("create parent dir: %w", err)
			}
			f, err := os.Create(target)
			if err != nil {
				return count, fmt.Errorf("create file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return count, fmt.Errorf("write file %s: %w", target, err)
			}
			if err := f.Close(); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}
