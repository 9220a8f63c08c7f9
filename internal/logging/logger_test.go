package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetForTest(t *testing.T) string {
	t.Helper()
	CloseAll()
	t.Cleanup(func() {
		CloseAll()
		Configure(Settings{})
	})
	return t.TempDir()
}

func readLogs(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	out := make(map[string]string)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, "logs", e.Name()))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", e.Name(), err)
		}
		out[e.Name()] = string(data)
	}
	return out
}

// TestAllCategoriesLog tests that all categories create log files when debug_mode is true
func TestAllCategoriesLog(t *testing.T) {
	dir := resetForTest(t)

	if err := Initialize(dir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsDebugMode() {
		t.Fatal("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot, CategoryAPI, CategoryStream, CategoryCoordinator,
		CategoryBrowser, CategorySearch, CategoryStore, CategoryServer,
	}
	for _, cat := range categories {
		Get(cat).Info("hello from %s", cat)
	}
	CloseAll()

	logs := readLogs(t, dir)
	date := time.Now().Format("2006-01-02")
	for _, cat := range categories {
		name := date + "_" + string(cat) + ".log"
		content, ok := logs[name]
		if !ok {
			t.Errorf("missing log file %s", name)
			continue
		}
		if !strings.Contains(content, "hello from "+string(cat)) {
			t.Errorf("log file %s missing message, got %q", name, content)
		}
	}
}

// TestDebugModeDisabled verifies production mode writes nothing
func TestDebugModeDisabled(t *testing.T) {
	dir := resetForTest(t)

	if err := Initialize(dir, Settings{DebugMode: false, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if IsCategoryEnabled(CategoryBoot) {
		t.Error("Category boot should be disabled when debug_mode=false")
	}

	Boot("This should NOT be logged")
	StreamError("This should NOT be logged")
	CloseAll()

	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Errorf("Expected logs directory to be absent, stat err = %v", err)
	}
}

// TestCategoryToggle tests individual category enable/disable
func TestCategoryToggle(t *testing.T) {
	dir := resetForTest(t)

	err := Initialize(dir, Settings{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"boot": true, "stream": false},
	})
	if err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if IsCategoryEnabled(CategoryStream) {
		t.Error("stream should be disabled")
	}
	if !IsCategoryEnabled(CategorySearch) {
		t.Error("unlisted categories default to enabled")
	}

	Stream("disabled message")
	Search("enabled message")
	SearchDebug("below level")
	CloseAll()

	logs := readLogs(t, dir)
	for name, content := range logs {
		if strings.Contains(name, "_stream.log") {
			t.Errorf("stream log should not exist, got %s", name)
		}
		if strings.Contains(content, "below level") {
			t.Errorf("debug message written at info level in %s", name)
		}
	}
}

func TestTimerLogging(t *testing.T) {
	dir := resetForTest(t)
	if err := Initialize(dir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	timer := StartTimer(CategoryAPI, "rewrite")
	if elapsed := timer.StopWithThreshold(time.Hour); elapsed <= 0 {
		t.Errorf("expected positive elapsed, got %v", elapsed)
	}
	CloseAll()

	logs := readLogs(t, dir)
	found := false
	for name, content := range logs {
		if strings.HasSuffix(name, "_api.log") && strings.Contains(content, "rewrite completed in") {
			found = true
		}
	}
	if !found {
		t.Error("expected timer entry in api log")
	}
}

func TestInitializeRequiresDir(t *testing.T) {
	if err := Initialize("", Settings{}); err == nil {
		t.Fatal("expected error for empty state dir")
	}
}
