package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tgmirror/internal/config"
	"tgmirror/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// backupSet lists the files a backup covers. Missing files are skipped.
type backupSet struct {
	Config   string
	Registry string
	Database string // empty for non-SQLite stores
}

func resolveBackupSet(cfgPath string) backupSet {
	set := backupSet{Config: cfgPath}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Fall back to the default layout next to the config file.
		dir := filepath.Dir(cfgPath)
		set.Registry = filepath.Join(dir, "channels.yaml")
		set.Database = filepath.Join(dir, "records.db")
		return set
	}
	set.Registry = cfg.ChannelsFile
	if p, ok := store.SQLitePath(cfg.Store.DSN); ok {
		set.Database = p
	}
	return set
}

func (s backupSet) files() []string {
	var files []string
	add := func(p string) {
		if p == "" {
			return
		}
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	add(s.Config)
	add(s.Registry)
	if s.Database != "" {
		add(s.Database)
		add(s.Database + "-wal")
		add(s.Database + "-shm")
	}
	return files
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of tgmirror data (config, registry, SQLite database)",
		Long: `Creates a compressed .tar.gz archive containing the configuration file,
the channel registry and, for SQLite stores, the database. The backup is
timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			set := resolveBackupSet(cfgPath)

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("tgmirror-backup-%s.tar.gz", ts))
			}

			files := set.files()
			if len(files) == 0 {
				return fmt.Errorf("no files to backup (config: %s)", cfgPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				var size uint64
				if info, err := os.Stat(f); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanize.IBytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.tgmirror/backups/tgmirror-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore tgmirror data from a backup archive",
		Long: `Restores the configuration, channel registry and SQLite database from a
.tar.gz archive created by 'tgmirror backup'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: tgmirror restore <file.tar.gz>")
			}

			set := resolveBackupSet(resolveConfigPath())

			if !force && len(set.files()) > 0 {
				fmt.Printf("WARNING: This will overwrite existing data.\n")
				fmt.Printf("  Config:   %s\n", set.Config)
				fmt.Printf("  Registry: %s\n", set.Registry)
				fmt.Printf("  Database: %s\n", set.Database)
				fmt.Printf("Use --force to skip this warning.\n")
				return fmt.Errorf("restore aborted (use --force to proceed)")
			}

			restored, err := extractTarGz(inputPath, set)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// createTarGz creates a .tar.gz archive from the given files.
func createTarGz(outputPath string, files []string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, filePath := range files {
		if err := addFileToTar(tarWriter, filePath); err != nil {
			return fmt.Errorf("add %s: %w", filePath, err)
		}
	}
	return nil
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

// restoreTarget maps an archived base name back onto the backup set.
func restoreTarget(baseName string, set backupSet) string {
	dbBase := filepath.Base(set.Database)
	switch {
	case baseName == filepath.Base(set.Config) || baseName == "config.json":
		return set.Config
	case set.Registry != "" && baseName == filepath.Base(set.Registry):
		return set.Registry
	case set.Database != "" && baseName == dbBase:
		return set.Database
	case set.Database != "" && strings.HasPrefix(baseName, dbBase+"-"):
		return set.Database + strings.TrimPrefix(baseName, dbBase)
	default:
		return filepath.Join(filepath.Dir(set.Config), baseName)
	}
}

// extractTarGz extracts a backup archive onto the backup set.
func extractTarGz(archivePath string, set backupSet) ([]string, error) {
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

		targetPath := restoreTarget(filepath.Base(header.Name), set)
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}

		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()

		restored = append(restored, targetPath)
	}
	return restored, nil
}
