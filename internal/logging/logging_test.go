package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(slog.NewTextHandler(&buf, nil))

	Component("buffer").Info("flush completed", "records", 3)

	out := buf.String()
	if !strings.Contains(out, "component=buffer") {
		t.Errorf("component attribute missing: %q", out)
	}
	if !strings.Contains(out, "records=3") {
		t.Errorf("record count attribute missing: %q", out)
	}
}

func TestWithCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(slog.NewTextHandler(&buf, nil))

	log := With("table", "task_metrics")
	log.Info("compacted")
	log.Info("deleted")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "table=task_metrics") {
			t.Errorf("attribute missing from %q", line)
		}
	}
}
