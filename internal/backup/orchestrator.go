package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driveback/driveback/internal/models"
	"github.com/driveback/driveback/internal/naming"
	"github.com/driveback/driveback/internal/storage"
)

// ErrRootFolderUnavailable is returned when the remote root folder cannot
// be created or resolved before a run starts.
var ErrRootFolderUnavailable = errors.New("remote root folder unavailable")

const defaultFileConcurrency = 4

// OrchestratorConfig configures a backup run.
type OrchestratorConfig struct {
	// Prefix is the artifact name prefix shared by every target.
	Prefix string

	// RootFolderName is the remote folder all backups live under.
	RootFolderName string

	// ScratchDir is the local directory artifacts are produced into
	// before upload.
	ScratchDir string

	// FileConcurrency bounds how many file and directory targets are
	// processed in parallel. Database targets always run one at a time.
	FileConcurrency int
}

// Orchestrator drives one backup run: produce, upload, enforce retention
// and clean up for every configured target.
type Orchestrator struct {
	config       OrchestratorConfig
	store        storage.Store
	dbProducer   Producer
	fileProducer Producer
	enforcer     *Enforcer
	logger       zerolog.Logger

	mu            sync.Mutex
	categoryCache map[models.Category]string
	rootFolderID  string
}

// NewOrchestrator creates an Orchestrator. dbProducer handles database
// targets and fileProducer handles file and directory targets.
func NewOrchestrator(config OrchestratorConfig, store storage.Store, dbProducer, fileProducer Producer, logger zerolog.Logger) *Orchestrator {
	if config.FileConcurrency <= 0 {
		config.FileConcurrency = defaultFileConcurrency
	}
	return &Orchestrator{
		config:        config,
		store:         store,
		dbProducer:    dbProducer,
		fileProducer:  fileProducer,
		enforcer:      NewEnforcer(store, logger),
		logger:        logger.With().Str("component", "orchestrator").Logger(),
		categoryCache: make(map[models.Category]string),
	}
}

// Run processes every target and returns a summary. Target failures are
// isolated: one failing target never aborts the others. Run returns a
// non-nil error only for setup failures that prevent any target from
// being processed, such as an unreachable remote root folder.
//
// When ctx is cancelled, targets already in flight finish their current
// stage sequence and unstarted targets are recorded as skipped.
func (o *Orchestrator) Run(ctx context.Context, targets []models.Target) (*RunSummary, error) {
	stamp := time.Now().UTC()
	summary := NewRunSummary(stamp)

	o.logger.Info().
		Str("run_id", summary.ID.String()).
		Str("store", o.store.Name()).
		Int("targets", len(targets)).
		Msg("starting backup run")

	// Resolve the remote root up front so every target fails fast on a
	// broken remote rather than after producing artifacts.
	rootID, err := o.store.EnsureFolder(context.WithoutCancel(ctx), "", o.config.RootFolderName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootFolderUnavailable, err)
	}
	o.rootFolderID = rootID

	var dbTargets, fileTargets []indexedTarget
	for i, t := range targets {
		if t.Kind == models.TargetKindDatabase {
			dbTargets = append(dbTargets, indexedTarget{index: i, target: t})
		} else {
			fileTargets = append(fileTargets, indexedTarget{index: i, target: t})
		}
	}

	outcomes := make([]TargetOutcome, len(targets))

	var wg sync.WaitGroup

	// Database dumps are serialized to keep load on the server bounded.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, it := range dbTargets {
			outcomes[it.index] = o.runTarget(ctx, it.target, stamp)
		}
	}()

	sem := make(chan struct{}, o.config.FileConcurrency)
	for _, it := range fileTargets {
		wg.Add(1)
		go func(it indexedTarget) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[it.index] = o.runTarget(ctx, it.target, stamp)
		}(it)
	}

	wg.Wait()

	for _, outcome := range outcomes {
		summary.Record(outcome)
	}
	summary.Cancelled = ctx.Err() != nil
	summary.CompletedAt = time.Now().UTC()

	o.logger.Info().
		Str("run_id", summary.ID.String()).
		Int("succeeded", summary.Succeeded()).
		Int("skipped", summary.Skipped()).
		Bool("cancelled", summary.Cancelled).
		Msg("backup run finished")

	return summary, nil
}

type indexedTarget struct {
	index  int
	target models.Target
}

// runTarget checks for cancellation and then processes one target. A
// target that has not started when the run is cancelled is skipped; one
// that has started runs its stages to completion.
func (o *Orchestrator) runTarget(ctx context.Context, target models.Target, stamp time.Time) TargetOutcome {
	if err := ctx.Err(); err != nil {
		o.logger.Info().Str("target", target.Name).Msg("skipping target, run cancelled")
		return TargetOutcome{
			TargetName: target.Name,
			Category:   target.Category(),
			Stage:      StageSkipped,
		}
	}
	// Once a target starts, its produce-upload-enforce sequence runs to
	// completion so no partial state is left behind on the remote.
	return o.processTarget(context.WithoutCancel(ctx), target, stamp)
}

func (o *Orchestrator) processTarget(ctx context.Context, target models.Target, stamp time.Time) TargetOutcome {
	started := time.Now()
	category := target.Category()
	outcome := TargetOutcome{
		TargetName: target.Name,
		Category:   category,
	}
	logger := o.logger.With().Str("target", target.Name).Str("category", string(category)).Logger()

	fail := func(stage string, err error) TargetOutcome {
		logger.Error().Err(err).Str("stage", stage).Msg("target failed")
		outcome.Stage = stage
		outcome.ErrorDetail = err.Error()
		outcome.Duration = time.Since(started)
		return outcome
	}

	producer := o.fileProducer
	if target.Kind == models.TargetKindDatabase {
		producer = o.dbProducer
	}

	artifact, err := producer.Produce(ctx, target, o.config.ScratchDir, stamp)
	if err != nil {
		return fail(StageProduce, err)
	}
	// The local artifact is removed whether or not the upload succeeds.
	defer func() {
		if err := os.Remove(artifact.LocalPath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", artifact.LocalPath).Msg("failed to remove local artifact")
		}
	}()

	folderID, err := o.categoryFolder(ctx, category)
	if err != nil {
		return fail(StageUpload, err)
	}

	entry, err := o.store.Upload(ctx, folderID, artifact.LocalPath, artifact.Name)
	if err != nil {
		return fail(StageUpload, err)
	}
	logger.Info().
		Str("artifact", artifact.Name).
		Int64("size_bytes", artifact.SizeBytes).
		Str("remote_id", entry.ID).
		Msg("artifact uploaded")

	prefix := naming.NamespacePrefix(o.config.Prefix, category, target.Name)
	result, err := o.enforcer.Enforce(ctx, folderID, prefix, target.MaxBackups)
	if err != nil {
		return fail(StageRetention, err)
	}

	outcome.Succeeded = true
	outcome.Stage = StageDone
	outcome.ArtifactName = artifact.Name
	outcome.SizeBytes = artifact.SizeBytes
	outcome.DeletionsAttempted = result.DeletionsAttempted
	outcome.DeletionsFailed = result.DeletionsFailed
	outcome.Duration = time.Since(started)
	return outcome
}

// categoryFolder resolves the remote subfolder for a category, creating it
// on first use. Concurrent callers for the same category share one folder.
func (o *Orchestrator) categoryFolder(ctx context.Context, category models.Category) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if id, ok := o.categoryCache[category]; ok {
		return id, nil
	}

	id, err := o.store.EnsureFolder(ctx, o.rootFolderID, category.FolderName())
	if err != nil {
		return "", fmt.Errorf("ensure %s folder: %w", category.FolderName(), err)
	}
	o.categoryCache[category] = id
	return id, nil
}
