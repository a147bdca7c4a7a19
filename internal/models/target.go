// Package models defines the shared domain types for driveback.
package models

import (
	"errors"
	"fmt"
	"path"
)

// TargetKind identifies what a backup target points at.
type TargetKind string

const (
	// TargetKindDatabase is a MySQL/MariaDB database selector.
	TargetKindDatabase TargetKind = "database"
	// TargetKindFile is a single file.
	TargetKindFile TargetKind = "file"
	// TargetKindDirectory is a directory tree.
	TargetKindDirectory TargetKind = "directory"
)

// Category is the top-level remote folder a target's artifacts land in.
type Category string

const (
	// CategoryDatabase maps to the remote "database" folder.
	CategoryDatabase Category = "database"
	// CategoryFiles maps to the remote "files" folder.
	CategoryFiles Category = "files"
)

// FolderName returns the remote folder name for the category.
func (c Category) FolderName() string {
	return string(c)
}

// Target is one configured backup unit. It is immutable once loaded;
// the engine only reads it.
type Target struct {
	// Kind determines the producer and the remote category.
	Kind TargetKind `yaml:"kind"`
	// Name is the target's unique name within its category namespace.
	// It becomes the third token of generated artifact names.
	Name string `yaml:"name"`
	// Source is the path (file/directory) or database selector to capture.
	Source string `yaml:"source"`
	// MaxBackups is the retention keep-count for this target's namespace.
	MaxBackups int `yaml:"max"`
	// ExcludePatterns are glob patterns skipped when archiving a directory.
	ExcludePatterns []string `yaml:"exclude,omitempty"`
}

// Category returns the remote category the target belongs to.
func (t Target) Category() Category {
	if t.Kind == TargetKindDatabase {
		return CategoryDatabase
	}
	return CategoryFiles
}

// Validate checks a single target definition.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetKindDatabase, TargetKindFile, TargetKindDirectory:
	default:
		return fmt.Errorf("target %q: unknown kind %q", t.Name, t.Kind)
	}
	if t.Name == "" {
		return errors.New("target name is required")
	}
	if t.Source == "" {
		return fmt.Errorf("target %q: source is required", t.Name)
	}
	if t.MaxBackups <= 0 {
		return fmt.Errorf("target %q: max backups must be positive, got %d", t.Name, t.MaxBackups)
	}
	if t.Kind != TargetKindDirectory && len(t.ExcludePatterns) > 0 {
		return fmt.Errorf("target %q: exclude patterns are only valid for directory targets", t.Name)
	}
	for _, p := range t.ExcludePatterns {
		if _, err := path.Match(p, "probe"); err != nil {
			return fmt.Errorf("target %q: invalid exclude pattern %q: %w", t.Name, p, err)
		}
	}
	return nil
}

// ValidateTargets checks every target and enforces name uniqueness within
// each category namespace.
func ValidateTargets(targets []Target) error {
	type key struct {
		category Category
		name     string
	}
	seen := make(map[key]struct{}, len(targets))
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return err
		}
		k := key{t.Category(), t.Name}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate target name %q in category %s", t.Name, t.Category())
		}
		seen[k] = struct{}{}
	}
	return nil
}
