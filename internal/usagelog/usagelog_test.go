package usagelog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendWritesJSONLine(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())

	err := Append(Entry{
		Credential: "...1234",
		Model:      "gemini-2.0-flash",
		Tier:       "flash",
		Outcome:    "success",
		Extra:      map[string]any{"symbol": "RELIANCE"},
	})
	if err != nil {
		t.Fatal(err)
	}

	p := dailyFilepath(time.Now())
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}

	line := strings.TrimSpace(string(b))
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		t.Fatalf("Expected valid JSON line, got %q: %v", line, err)
	}
	if e.Credential != "...1234" {
		t.Errorf("Expected masked credential, got %s", e.Credential)
	}
	if e.Outcome != "success" || e.Tier != "flash" {
		t.Errorf("Unexpected entry: %+v", e)
	}
	if e.Time == "" {
		t.Error("Expected timestamp to be filled in")
	}
}

func TestAppendAccumulatesLines(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())

	for i := 0; i < 3; i++ {
		if err := Append(Entry{Credential: "...abcd", Outcome: "failure"}); err != nil {
			t.Fatal(err)
		}
	}

	b, err := os.ReadFile(dailyFilepath(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Errorf("Expected 3 lines, got %d", len(lines))
	}
}

func TestCompressOlderIgnoresFreshFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	if err := Append(Entry{Credential: "...abcd", Outcome: "success"}); err != nil {
		t.Fatal(err)
	}
	if err := CompressOlder(7); err != nil {
		t.Fatal(err)
	}

	entries, err := filepath.Glob(filepath.Join(dir, "usage", "*.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected fresh file to remain uncompressed, found %v", entries)
	}
}

func TestCompressOlderDisabled(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	if err := CompressOlder(0); err != nil {
		t.Fatal(err)
	}
}
