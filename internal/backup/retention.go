package backup

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/driveback/driveback/internal/storage"
)

// Decision partitions remote entries into those to keep and those to delete
// under a keep-N policy.
type Decision struct {
	Keep   []storage.RemoteEntry
	Delete []storage.RemoteEntry
}

// Decide applies keep-N retention to the given entries. Entries are ordered
// newest first by artifact name, which embeds a UTC timestamp and therefore
// sorts chronologically. Entries with equal names are ordered by remote
// creation time, newest first. The first keep entries survive.
func Decide(entries []storage.RemoteEntry, keep int) Decision {
	sorted := make([]storage.RemoteEntry, len(entries))
	copy(sorted, entries)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name > sorted[j].Name
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	if keep >= len(sorted) {
		return Decision{Keep: sorted}
	}
	return Decision{Keep: sorted[:keep], Delete: sorted[keep:]}
}

// EnforceResult contains the results of a retention enforcement operation.
type EnforceResult struct {
	Kept               int
	DeletionsAttempted int
	DeletionsFailed    int
}

// Enforcer applies keep-N retention against a remote store after a
// successful upload.
type Enforcer struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewEnforcer creates a new Enforcer backed by the given store.
func NewEnforcer(store storage.Store, logger zerolog.Logger) *Enforcer {
	return &Enforcer{
		store:  store,
		logger: logger.With().Str("component", "retention").Logger(),
	}
}

// Enforce lists the target's artifacts under folderID by name prefix and
// deletes everything beyond the newest keep entries. A listing failure is
// returned as an error. Individual deletion failures are logged and counted
// but do not abort the remaining deletions.
func (e *Enforcer) Enforce(ctx context.Context, folderID, namePrefix string, keep int) (EnforceResult, error) {
	entries, err := e.store.List(ctx, folderID, namePrefix)
	if err != nil {
		return EnforceResult{}, fmt.Errorf("list artifacts for retention: %w", err)
	}

	decision := Decide(entries, keep)
	result := EnforceResult{Kept: len(decision.Keep)}

	if len(decision.Delete) == 0 {
		e.logger.Debug().
			Str("prefix", namePrefix).
			Int("kept", result.Kept).
			Msg("retention satisfied, nothing to delete")
		return result, nil
	}

	for _, entry := range decision.Delete {
		result.DeletionsAttempted++
		if err := e.store.Delete(ctx, entry.ID); err != nil {
			result.DeletionsFailed++
			e.logger.Warn().
				Err(err).
				Str("artifact", entry.Name).
				Msg("failed to delete expired artifact")
			continue
		}
		e.logger.Info().
			Str("artifact", entry.Name).
			Msg("deleted expired artifact")
	}

	return result, nil
}
