package preflight

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestDiskCheck(t *testing.T) {
	t.Run("passes with tiny requirement", func(t *testing.T) {
		check := NewDiskCheck(t.TempDir(), 1, zerolog.Nop())
		if err := check.Run(context.Background()); err != nil {
			t.Errorf("Run: %v", err)
		}
	})

	t.Run("fails when requirement exceeds capacity", func(t *testing.T) {
		check := NewDiskCheck(t.TempDir(), math.MaxInt64, zerolog.Nop())
		err := check.Run(context.Background())
		if !errors.Is(err, ErrInsufficientDiskSpace) {
			t.Errorf("err = %v, want ErrInsufficientDiskSpace", err)
		}
	})

	t.Run("creates missing scratch directory", func(t *testing.T) {
		scratch := filepath.Join(t.TempDir(), "nested", "scratch")
		check := NewDiskCheck(scratch, 1, zerolog.Nop())
		if err := check.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if _, err := os.Stat(scratch); err != nil {
			t.Errorf("scratch directory not created: %v", err)
		}
	})
}

func TestNewDiskCheckDefault(t *testing.T) {
	check := NewDiskCheck(t.TempDir(), 0, zerolog.Nop())
	if check.minFreeBytes != DefaultMinFreeBytes {
		t.Errorf("minFreeBytes = %d, want default", check.minFreeBytes)
	}
}
