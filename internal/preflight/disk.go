// Package preflight runs checks before a backup run starts.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// ErrInsufficientDiskSpace is returned when the scratch directory's
// filesystem has less free space than required.
var ErrInsufficientDiskSpace = errors.New("insufficient disk space in scratch directory")

// DefaultMinFreeBytes is the default free-space floor for the scratch
// directory.
const DefaultMinFreeBytes = 1 << 30 // 1 GiB

// DiskCheck verifies the scratch directory's filesystem has room for
// artifact staging.
type DiskCheck struct {
	scratchDir   string
	minFreeBytes uint64
	logger       zerolog.Logger
}

// NewDiskCheck creates a DiskCheck for the given scratch directory. A
// non-positive minFreeBytes falls back to DefaultMinFreeBytes.
func NewDiskCheck(scratchDir string, minFreeBytes int64, logger zerolog.Logger) *DiskCheck {
	if minFreeBytes <= 0 {
		minFreeBytes = DefaultMinFreeBytes
	}
	return &DiskCheck{
		scratchDir:   scratchDir,
		minFreeBytes: uint64(minFreeBytes),
		logger:       logger.With().Str("component", "preflight").Logger(),
	}
}

// Run creates the scratch directory if needed and checks its free space.
func (d *DiskCheck) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.scratchDir, 0o700); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}

	stat, err := disk.UsageWithContext(ctx, d.scratchDir)
	if err != nil {
		return fmt.Errorf("check disk usage for %s: %w", d.scratchDir, err)
	}

	d.logger.Debug().
		Str("path", d.scratchDir).
		Uint64("free_bytes", stat.Free).
		Float64("used_percent", stat.UsedPercent).
		Msg("scratch disk usage")

	if stat.Free < d.minFreeBytes {
		return fmt.Errorf("%w: %d bytes free, %d required", ErrInsufficientDiskSpace, stat.Free, d.minFreeBytes)
	}

	return nil
}
