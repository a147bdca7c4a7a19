// Package naming generates chronologically sortable artifact names.
//
// Names follow the fixed scheme
//
//	{prefix}_{category}_{target}_{YYYYMMDD_HHMMSS}.{ext}
//
// with the timestamp taken in UTC at second resolution. For a fixed
// (prefix, category, target) namespace the lexicographic order of generated
// names equals their chronological order, which is what retention relies on
// instead of remote-store timestamps. Two artifacts for the same target
// generated within the same second share a name; retention tie-breaks such
// entries on the store's created-at metadata.
package naming

import (
	"fmt"
	"time"

	"github.com/driveback/driveback/internal/models"
)

// TimestampLayout is the fixed artifact timestamp format.
const TimestampLayout = "20060102_150405"

// Artifact returns the remote object name for one artifact.
func Artifact(prefix string, category models.Category, target string, ts time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s_%s.%s",
		prefix, category, target, ts.UTC().Format(TimestampLayout), ext)
}

// NamespacePrefix returns the listing prefix covering every artifact of one
// target. The trailing underscore keeps target names that are prefixes of
// one another (e.g. "site" and "site2") in separate namespaces.
func NamespacePrefix(prefix string, category models.Category, target string) string {
	return fmt.Sprintf("%s_%s_%s_", prefix, category, target)
}
