package models

import (
	"strings"
	"testing"
)

func TestTargetCategory(t *testing.T) {
	tests := []struct {
		kind TargetKind
		want Category
	}{
		{TargetKindDatabase, CategoryDatabase},
		{TargetKindFile, CategoryFiles},
		{TargetKindDirectory, CategoryFiles},
	}

	for _, tt := range tests {
		got := Target{Kind: tt.kind}.Category()
		if got != tt.want {
			t.Errorf("kind %s: Category() = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr string
	}{
		{
			name:   "valid directory",
			target: Target{Kind: TargetKindDirectory, Name: "site", Source: "/var/www", MaxBackups: 3, ExcludePatterns: []string{"*.log"}},
		},
		{
			name:   "valid database",
			target: Target{Kind: TargetKindDatabase, Name: "wordpress", Source: "wordpress", MaxBackups: 50},
		},
		{
			name:    "unknown kind",
			target:  Target{Kind: "tape", Name: "x", Source: "/x", MaxBackups: 1},
			wantErr: "unknown kind",
		},
		{
			name:    "missing name",
			target:  Target{Kind: TargetKindFile, Source: "/etc/hosts", MaxBackups: 1},
			wantErr: "name is required",
		},
		{
			name:    "missing source",
			target:  Target{Kind: TargetKindFile, Name: "hosts", MaxBackups: 1},
			wantErr: "source is required",
		},
		{
			name:    "zero max backups",
			target:  Target{Kind: TargetKindFile, Name: "hosts", Source: "/etc/hosts"},
			wantErr: "must be positive",
		},
		{
			name:    "negative max backups",
			target:  Target{Kind: TargetKindFile, Name: "hosts", Source: "/etc/hosts", MaxBackups: -2},
			wantErr: "must be positive",
		},
		{
			name:    "excludes on file target",
			target:  Target{Kind: TargetKindFile, Name: "hosts", Source: "/etc/hosts", MaxBackups: 1, ExcludePatterns: []string{"*.tmp"}},
			wantErr: "only valid for directory targets",
		},
		{
			name:    "malformed exclude pattern",
			target:  Target{Kind: TargetKindDirectory, Name: "site", Source: "/var/www", MaxBackups: 1, ExcludePatterns: []string{"[unclosed"}},
			wantErr: "invalid exclude pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTargets(t *testing.T) {
	t.Run("duplicate name within category", func(t *testing.T) {
		targets := []Target{
			{Kind: TargetKindDirectory, Name: "site", Source: "/var/www", MaxBackups: 2},
			{Kind: TargetKindFile, Name: "site", Source: "/etc/site.conf", MaxBackups: 2},
		}
		err := ValidateTargets(targets)
		if err == nil {
			t.Fatal("expected duplicate name error")
		}
		if !strings.Contains(err.Error(), "duplicate target name") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("same name across categories is allowed", func(t *testing.T) {
		targets := []Target{
			{Kind: TargetKindDatabase, Name: "site", Source: "site", MaxBackups: 5},
			{Kind: TargetKindDirectory, Name: "site", Source: "/var/www", MaxBackups: 2},
		}
		if err := ValidateTargets(targets); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
