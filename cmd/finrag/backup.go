package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"finrag/internal/index"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the corpus index and config",
		Long: `Checkpoints the corpus index and writes it, together with the config file,
to a compressed .tar.gz archive. The archive name is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfgPath := resolveConfigPath()
			dbPath := filepath.Join(cfg.Corpus.Dir, index.FileName)

			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("no corpus index at %s", dbPath)
			}
			// Fold the WAL into the main file so the archive is self-contained.
			if err := checkpoint(cmd.Context(), cfg.Corpus.Dir); err != nil {
				return err
			}

			if outputPath == "" {
				ts := time.Now().Format("20060102-150405")
				outputPath = fmt.Sprintf("finrag-backup-%s.tar.gz", ts)
			}

			files := []string{dbPath}
			if _, err := os.Stat(cfgPath); err == nil {
				files = append(files, cfgPath)
			}
			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s\n", outputPath)
			for _, f := range files {
				var size int64
				if info, err := os.Stat(f); err == nil {
					size = info.Size()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%s)\n", filepath.Base(f), humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ./finrag-backup-<timestamp>.tar.gz)")
	return cmd
}

func checkpoint(ctx context.Context, dir string) error {
	store, err := index.Open(ctx, dir, index.Options{Logger: logger})
	if err != nil {
		return err
	}
	return store.Close()
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the corpus index and config from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfgPath := resolveConfigPath()
			dbPath := filepath.Join(cfg.Corpus.Dir, index.FileName)

			if !force {
				if _, err := os.Stat(dbPath); err == nil {
					return fmt.Errorf("corpus index %s exists (use --force to overwrite)", dbPath)
				}
			}
			// Stale WAL files would be replayed over the restored database.
			for _, suffix := range []string{"-wal", "-shm"} {
				if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}

			restored, err := extractTarGz(args[0], dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			if err := checkpoint(cmd.Context(), cfg.Corpus.Dir); err != nil {
				return fmt.Errorf("restored index is unusable: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Restored from %s:\n", args[0])
			for _, f := range restored {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing corpus index")
	return cmd
}

// createTarGz writes files into a .tar.gz archive under their base names.
func createTarGz(outputPath string, files []string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	for _, filePath := range files {
		if err := addFileToTar(tarWriter, filePath); err != nil {
			return fmt.Errorf("add %s: %w", filePath, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func addFileToTar(tw *tar.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(filePath)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores the index database and config file from an archive.
// Other entries are ignored.
func extractTarGz(archivePath, dbPath, cfgPath string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		var targetPath string
		switch name := filepath.Base(header.Name); {
		case name == index.FileName:
			targetPath = dbPath
		case name == filepath.Base(cfgPath):
			targetPath = cfgPath
		default:
			logger.Warn("skipping unknown archive entry", "name", header.Name)
			continue
		}

		if err := writeFile(targetPath, tarReader); err != nil {
			return nil, err
		}
		restored = append(restored, targetPath)
	}
	if len(restored) == 0 {
		return nil, fmt.Errorf("archive holds no finrag files")
	}
	return restored, nil
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
