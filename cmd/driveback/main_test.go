package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/driveback/driveback/internal/backup"
)

func TestSelectCategories(t *testing.T) {
	tests := []struct {
		name             string
		databases, files bool
		wantDatabases    bool
		wantFiles        bool
	}{
		{"no flags runs both", false, false, true, true},
		{"databases flag only", true, false, true, false},
		{"files flag only", false, true, false, true},
		{"both flags run both", true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotDatabases, gotFiles := selectCategories(tt.databases, tt.files)
			if gotDatabases != tt.wantDatabases || gotFiles != tt.wantFiles {
				t.Errorf("selectCategories(%v, %v) = (%v, %v), want (%v, %v)",
					tt.databases, tt.files, gotDatabases, gotFiles, tt.wantDatabases, tt.wantFiles)
			}
		})
	}
}

func TestExitCodeError(t *testing.T) {
	err := fmt.Errorf("run failed: %w", &exitCodeError{code: backup.ExitFailed})

	var exitErr *exitCodeError
	if !errors.As(err, &exitErr) {
		t.Fatal("exitCodeError not found in chain")
	}
	if exitErr.code != backup.ExitFailed {
		t.Errorf("code = %d, want %d", exitErr.code, backup.ExitFailed)
	}
}
