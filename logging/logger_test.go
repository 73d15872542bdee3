package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONIncludesArgs(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Options{Format: "json", Level: "info"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.WithContext(context.Background()).Info("batch persisted", "table", "signature_validations", "rows", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "batch persisted" || rec["table"] != "signature_validations" || rec["rows"] != float64(3) {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestNew_DebugToggleLowersLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Options{Level: "warn"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug suppressed at warn, got %q", buf.String())
	}

	l, err = New(&buf, Options{Level: "warn", Debug: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected debug output, got %q", buf.String())
	}
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, Options{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := New(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
}
