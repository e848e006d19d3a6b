package dedup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerted_bids.txt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	defer store.Close()

	if store.Len() != 0 {
		t.Fatalf("expected empty set, got %d entries", store.Len())
	}
}

func TestRecordAndContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerted_bids.txt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	key := Key(1, "12345")
	if store.Contains(key) {
		t.Fatal("fresh store should not contain key")
	}
	if err := store.Record(key); err != nil {
		t.Fatalf("record: %v", err)
	}
	if !store.Contains(key) {
		t.Fatal("recorded key should be contained")
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerted_bids.txt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	keys := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		key := Key(int64(i%3+1), fmt.Sprintf("bid-%d", i))
		keys = append(keys, key)
		if err := store.Record(key); err != nil {
			t.Fatalf("record %s: %v", key, err)
		}
	}
	store.Close()

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reloaded.Close()

	if reloaded.Len() != len(keys) {
		t.Fatalf("expected %d entries after reload, got %d", len(keys), reloaded.Len())
	}
	for _, key := range keys {
		if !reloaded.Contains(key) {
			t.Fatalf("reloaded store missing %s", key)
		}
	}
}

func TestRecordDuplicateIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerted_bids.txt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	key := Key(137, "99999")
	for i := 0; i < 3; i++ {
		if err := store.Record(key); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	store.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Fields(string(data))
	if len(lines) != 1 {
		t.Fatalf("expected one persisted line, got %d: %q", len(lines), string(data))
	}
	if lines[0] != "137:99999" {
		t.Fatalf("unexpected persisted key %q", lines[0])
	}
}

func TestOpenSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerted_bids.txt")
	if err := os.WriteFile(path, []byte("1:100\n\n  \n1:101\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if store.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", store.Len())
	}
	if !store.Contains("1:100") || !store.Contains("1:101") {
		t.Fatal("expected seeded keys to be present")
	}
}
