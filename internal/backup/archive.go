package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/driveback/driveback/internal/models"
	"github.com/driveback/driveback/internal/naming"
)

// ErrSourceMissing is returned when a file or directory target's source
// path does not exist.
var ErrSourceMissing = errors.New("source path does not exist")

// ArchiveProducer produces tar.gz archives for file and directory targets.
type ArchiveProducer struct {
	prefix           string
	compressionLevel int
	logger           zerolog.Logger
}

// NewArchiveProducer creates an ArchiveProducer.
func NewArchiveProducer(prefix string, compressionLevel int, logger zerolog.Logger) *ArchiveProducer {
	if compressionLevel < gzip.BestSpeed || compressionLevel > gzip.BestCompression {
		compressionLevel = gzip.DefaultCompression
	}
	return &ArchiveProducer{
		prefix:           prefix,
		compressionLevel: compressionLevel,
		logger:           logger.With().Str("component", "archive_producer").Logger(),
	}
}

// Produce archives the target's source into the scratch directory. The
// archive is written to a temporary file and renamed once complete.
// Exclude patterns apply to directory targets only and match against both
// the entry's archive-relative path and its base name.
func (a *ArchiveProducer) Produce(ctx context.Context, target models.Target, scratchDir string, stamp time.Time) (*Artifact, error) {
	info, err := os.Stat(target.Source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, target.Source)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}

	switch target.Kind {
	case models.TargetKindDirectory:
		if !info.IsDir() {
			return nil, fmt.Errorf("target %q: source %s is not a directory", target.Name, target.Source)
		}
	case models.TargetKindFile:
		if info.IsDir() {
			return nil, fmt.Errorf("target %q: source %s is not a file", target.Name, target.Source)
		}
	default:
		return nil, fmt.Errorf("target %q: archive producer cannot handle kind %s", target.Name, target.Kind)
	}

	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	name := naming.Artifact(a.prefix, models.CategoryFiles, target.Name, stamp, "tar.gz")
	finalPath := filepath.Join(scratchDir, name)
	tmpPath := finalPath + ".partial"

	a.logger.Info().
		Str("target", target.Name).
		Str("source", target.Source).
		Str("artifact", name).
		Msg("archiving")

	if err := a.writeArchive(ctx, target, tmpPath); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	finalInfo, err := os.Stat(finalPath)
	if err != nil {
		os.Remove(finalPath)
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	a.logger.Info().
		Str("target", target.Name).
		Int64("size_bytes", finalInfo.Size()).
		Msg("archive completed")

	return &Artifact{
		Category:   models.CategoryFiles,
		TargetName: target.Name,
		Name:       name,
		LocalPath:  finalPath,
		SizeBytes:  finalInfo.Size(),
	}, nil
}

// writeArchive writes the tar.gz stream for the target to outPath.
func (a *ArchiveProducer) writeArchive(ctx context.Context, target models.Target, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer out.Close()

	gzWriter, err := gzip.NewWriterLevel(out, a.compressionLevel)
	if err != nil {
		return fmt.Errorf("create gzip writer: %w", err)
	}
	tarWriter := tar.NewWriter(gzWriter)

	if target.Kind == models.TargetKindFile {
		err = a.addFile(tarWriter, target.Source, filepath.Base(target.Source))
	} else {
		err = a.addTree(ctx, tarWriter, target)
	}
	if err != nil {
		return err
	}

	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("close tar stream: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("close gzip stream: %w", err)
	}
	return out.Close()
}

// addTree walks the directory and adds every non-excluded entry rooted at
// the directory's base name, mirroring what tar -czf produces.
func (a *ArchiveProducer) addTree(ctx context.Context, tw *tar.Writer, target models.Target) error {
	root := filepath.Clean(target.Source)
	base := filepath.Base(root)

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", p, err)
		}

		arcName := base
		if rel != "." {
			arcName = path.Join(base, filepath.ToSlash(rel))
			if excluded(filepath.ToSlash(rel), d.Name(), target.ExcludePatterns) {
				a.logger.Debug().Str("path", rel).Msg("excluded from archive")
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		// Symlinks and other irregular files are skipped rather than
		// dereferenced, which keeps archives self-contained.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("tar header for %s: %w", p, err)
		}
		header.Name = arcName
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar header for %s: %w", p, err)
		}

		if info.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open %s: %w", p, err)
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archive %s: %w", p, err)
		}
		return nil
	})
}

// addFile adds a single regular file under the given archive name.
func (a *ArchiveProducer) addFile(tw *tar.Writer, srcPath, arcName string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header for %s: %w", srcPath, err)
	}
	header.Name = arcName

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %s: %w", srcPath, err)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archive %s: %w", srcPath, err)
	}
	return nil
}

// excluded reports whether a directory entry matches any exclude pattern.
// Patterns are matched against the slash-separated path relative to the
// target root and against the entry's base name.
func excluded(relPath, baseName string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := path.Match(pattern, baseName); ok {
			return true
		}
	}
	return false
}
