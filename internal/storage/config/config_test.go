package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.Buffer.MaxRecords != 100 {
		t.Errorf("default max_records: got %d", cfg.Buffer.MaxRecords)
	}
	if cfg.Buffer.FlushInterval != 5*time.Second {
		t.Errorf("default flush_interval: got %v", cfg.Buffer.FlushInterval)
	}
	if cfg.Retention.DetailedDays != 7 || cfg.Retention.HourlyDays != 30 || cfg.Retention.DailyDays != 90 {
		t.Errorf("default retention: %+v", cfg.Retention)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	doc := `
store:
  path: /tmp/metrics.db
buffer:
  max_records: 500
retention:
  detailed_days: 3
  hourly_days: 14
  daily_days: 60
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Store.Path != "/tmp/metrics.db" {
		t.Errorf("store path: got %q", cfg.Store.Path)
	}
	if cfg.Buffer.MaxRecords != 500 {
		t.Errorf("max_records: got %d", cfg.Buffer.MaxRecords)
	}
	// Untouched fields keep defaults.
	if cfg.Buffer.FlushInterval != 5*time.Second {
		t.Errorf("flush_interval should keep default, got %v", cfg.Buffer.FlushInterval)
	}
	if cfg.Retention.DetailedDays != 3 {
		t.Errorf("detailed_days: got %d", cfg.Retention.DetailedDays)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	doc := `
retention:
  detailed_days: 30
  hourly_days: 7
  daily_days: 90
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for hourly < detailed")
	}
}

func TestValidateRetentionOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention.DailyDays = 10 // below hourly
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when daily_days < hourly_days")
	}
}

func TestValidateExport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Export.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown export format")
	}

	cfg = DefaultConfig()
	cfg.Export.Compression = "brotli"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown compression codec")
	}
}

func TestValidateCollectsFieldErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.MaxRecords = 0
	cfg.Buffer.FlushInterval = 0

	err := cfg.Buffer.Validate()
	if !apperrors.Is(err, apperrors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	var verr *apperrors.ValidationErrors
	if !apperrors.As(err, &verr) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if !verr.HasErrors() {
		t.Fatal("expected collected errors")
	}
	if len(verr.Errors) != 2 {
		t.Errorf("expected both field errors collected, got %d: %v", len(verr.Errors), verr)
	}
}
