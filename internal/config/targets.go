package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/driveback/driveback/internal/backup"
	"github.com/driveback/driveback/internal/models"
)

// targetEntry is one file or directory entry in the targets document.
type targetEntry struct {
	Source  string   `yaml:"source"`
	Name    string   `yaml:"name,omitempty"`
	Max     int      `yaml:"max,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// targetsDocument is the YAML schema of the targets file.
type targetsDocument struct {
	Directories []targetEntry `yaml:"directories,omitempty"`
	Files       []targetEntry `yaml:"files,omitempty"`
}

// LoadTargets reads the targets file and returns the file and directory
// targets it defines. A missing file yields no targets, so a databases-only
// setup needs no targets document. Entry names default to the source's base
// name and the keep count defaults to 1.
func LoadTargets(path string) ([]models.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read targets file: %v", ErrConfig, err)
	}

	var doc targetsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse targets file: %v", ErrConfig, err)
	}

	var targets []models.Target
	for _, entry := range doc.Directories {
		targets = append(targets, entryToTarget(entry, models.TargetKindDirectory))
	}
	for _, entry := range doc.Files {
		targets = append(targets, entryToTarget(entry, models.TargetKindFile))
	}

	if err := models.ValidateTargets(targets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return targets, nil
}

func entryToTarget(entry targetEntry, kind models.TargetKind) models.Target {
	name := entry.Name
	if name == "" {
		name = filepath.Base(filepath.Clean(entry.Source))
	}
	max := entry.Max
	if max == 0 {
		max = 1
	}
	// Exclude patterns are carried for every entry kind; validation
	// rejects them on non-directory targets rather than dropping them.
	return models.Target{
		Kind:            kind,
		Name:            name,
		Source:          entry.Source,
		MaxBackups:      max,
		ExcludePatterns: entry.Exclude,
	}
}

// DatabaseTargets builds one target per configured database. The selector
// "*" becomes a single target named "all" covering every database.
func DatabaseTargets(databases []string, maxBackups int) ([]models.Target, error) {
	var targets []models.Target
	for _, db := range databases {
		name := db
		if db == backup.AllDatabases {
			name = "all"
		}
		targets = append(targets, models.Target{
			Kind:       models.TargetKindDatabase,
			Name:       name,
			Source:     db,
			MaxBackups: maxBackups,
		})
	}

	if err := models.ValidateTargets(targets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return targets, nil
}
