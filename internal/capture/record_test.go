package capture

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestParseTimestampFormats(t *testing.T) {
	cases := []string{
		"2026-01-15T10:30:00.123456",
		"2026-01-15T10:30:00",
		"2026-01-15 10:30:00",
		"2026-01-15T10:30:00Z",
		"2026-01-15T10:30:00+09:00",
	}
	for _, ts := range cases {
		if _, err := ParseTimestamp(ts); err != nil {
			t.Errorf("ParseTimestamp(%q) failed: %v", ts, err)
		}
	}

	if _, err := ParseTimestamp("yesterday at noon"); err == nil {
		t.Error("Expected error for unparseable timestamp")
	}
}

func TestParseRecord(t *testing.T) {
	data := []byte(`{
		"timestamp": "2026-01-15T10:30:00",
		"user_action": {"type": "click", "x": 100, "y": 200},
		"target": {"name": "Open", "role": "AXButton", "identifier": "open-btn"},
		"app": {"name": "Finder", "bundle_id": "com.apple.finder"},
		"mouse": {"x": 105, "y": 205},
		"screenshots": {"full": "/tmp/ss.png"}
	}`)

	record, err := ParseRecord(data, "/captures/cap_001.json")
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	if record.Kind != "click" {
		t.Errorf("Expected kind click, got %s", record.Kind)
	}
	if record.Target.Identifier != "open-btn" {
		t.Errorf("Expected identifier open-btn, got %s", record.Target.Identifier)
	}
	// Mouse coordinates take precedence over user_action ones.
	if record.X != 105 || record.Y != 205 {
		t.Errorf("Expected mouse coords (105,205), got (%f,%f)", record.X, record.Y)
	}
	if record.SourcePath != "/captures/cap_001.json" {
		t.Errorf("SourcePath not retained: %s", record.SourcePath)
	}
}

func TestParseRecordShortcutNormalization(t *testing.T) {
	data := []byte(`{
		"timestamp": "2026-01-15T10:30:00",
		"user_action": {"type": "shortcut", "keycode": 6, "modifiers": ["cmd"]}
	}`)
	record, err := ParseRecord(data, "")
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	if record.Kind != "key_shortcut" {
		t.Errorf("Expected shortcut normalized to key_shortcut, got %s", record.Kind)
	}
}

func TestParseRecordRejectsMalformed(t *testing.T) {
	if _, err := ParseRecord([]byte("{not json"), ""); err == nil {
		t.Error("Expected error for malformed JSON")
	}
	if _, err := ParseRecord([]byte(`{"timestamp":"x"}`), ""); err == nil {
		t.Error("Expected error for record without user_action.type")
	}
}

func TestScanDirSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	good := `{"timestamp": "2026-01-15T10:30:02", "user_action": {"type": "click"}, "app": {"name": "Finder"}}`
	earlier := `{"timestamp": "2026-01-15T10:30:01", "user_action": {"type": "click"}, "app": {"name": "Finder"}}`

	writeFile(t, dir, "cap_002.json", good)
	writeFile(t, dir, "cap_001.json", earlier)
	writeFile(t, dir, "cap_bad.json", "{broken")
	writeFile(t, dir, "notes.txt", "not a capture")

	records, err := ScanDir(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("ScanDir failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	// Sorted by timestamp, not filename order.
	if records[0].Timestamp != "2026-01-15T10:30:01" {
		t.Errorf("Expected chronological order, got first=%s", records[0].Timestamp)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
