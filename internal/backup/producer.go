// Package backup implements the backup orchestration and retention engine.
package backup

import (
	"context"
	"time"

	"github.com/driveback/driveback/internal/models"
)

// Artifact is the single compressed file produced for one target in one
// run. It never outlives the processing of its target: the local file is
// removed unconditionally once the target reaches a terminal state.
type Artifact struct {
	Category   models.Category
	TargetName string
	// Name is the generated remote object name.
	Name string
	// LocalPath is the finished file in the scratch directory. Producers
	// finalize atomically (write to temp, rename), so a file at this path
	// is always complete.
	LocalPath string
	SizeBytes int64
}

// Producer turns a target into one immutable local artifact. The engine
// treats producers as black boxes and never retries them.
type Producer interface {
	// Produce captures the target into the scratch directory. The stamp
	// is the run's capture time and feeds the artifact name.
	Produce(ctx context.Context, target models.Target, scratchDir string, stamp time.Time) (*Artifact, error)
}
