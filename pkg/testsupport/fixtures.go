package testsupport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/schema"
)

// Context returns a background context for tests.
func Context() context.Context {
	return context.Background()
}

// Registry returns the built-in schema registry, failing the test on error.
func Registry(t testing.TB) *schema.Registry {
	t.Helper()
	registry, err := schema.Defaults()
	if err != nil {
		t.Fatalf("load default schemas: %v", err)
	}
	return registry
}

// Schema returns the built-in schema for kind.
func Schema(t testing.TB, kind entity.Kind) entity.Schema {
	t.Helper()
	s, err := Registry(t).Schema(kind)
	if err != nil {
		t.Fatalf("schema %s: %v", kind, err)
	}
	return s
}

// Date returns midnight UTC for the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// FixedClock returns a clock function pinned to t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// LoadRecords reads a JSON array of records from path.
func LoadRecords(path string) ([]entity.Record, error) {
	if path == "" {
		return nil, errors.New("testsupport: records path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("testsupport: read records: %w", err)
	}
	var out []entity.Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("testsupport: unmarshal records: %w", err)
	}
	return out, nil
}

// MustLoadRecords is LoadRecords for tests.
func MustLoadRecords(t testing.TB, path string) []entity.Record {
	t.Helper()
	records, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	return records
}

// WriteGolden writes arbitrary data to a golden file when UPDATE_GOLDENS is set.
func WriteGolden(t testing.TB, path string, value any) {
	t.Helper()

	if os.Getenv("UPDATE_GOLDENS") == "" {
		return
	}
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		t.Fatalf("marshal golden: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir golden dir: %v", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write golden: %v", err)
	}
}

// CompareGolden returns a diff string if the values differ.
func CompareGolden(want, got any) string {
	return cmp.Diff(want, got)
}
