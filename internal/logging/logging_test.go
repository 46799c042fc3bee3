package logging

import "testing"

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "WARN", "error"} {
		logger, err := New(level, "json")
		if err != nil {
			t.Fatalf("New(%q) error = %v", level, err)
		}
		_ = logger.Sync()
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "console"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
