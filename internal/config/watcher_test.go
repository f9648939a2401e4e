package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxline.yaml")
	writeConfigFile(t, path, validYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.ListenAddr; got != ":8080" {
		t.Errorf("listen_addr = %q", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxline.yaml")
	writeConfigFile(t, path, "server: [broken")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected an error for an unparsable config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxline.yaml")
	writeConfigFile(t, path, validYAML)

	var mu sync.Mutex
	var gotNew *Config
	onChange := func(_, new *Config) {
		mu.Lock()
		gotNew = new
		mu.Unlock()
	}

	w, err := NewWatcher(path, onChange, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	changed := strings.Replace(validYAML, `greeting: "שלום, הגעתם לנדלן ירושלים."`, `greeting: "ערב טוב."`, 1)
	// Backdated mtime comparisons can miss same-second writes; force a
	// different mtime explicitly.
	writeConfigFile(t, path, changed)
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotNew != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotNew == nil {
		t.Fatal("onChange was not invoked")
	}
	if gotNew.Business.Greeting != "ערב טוב." {
		t.Errorf("new greeting = %q", gotNew.Business.Greeting)
	}
	if w.Current().Business.Greeting != "ערב טוב." {
		t.Errorf("Current() greeting = %q", w.Current().Business.Greeting)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxline.yaml")
	writeConfigFile(t, path, validYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, "bogus: [")
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Server.ListenAddr; got != ":8080" {
		t.Errorf("Current() after invalid write = %q, want the old config", got)
	}
}
