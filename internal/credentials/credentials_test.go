package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte("id: \" 1001 \"\npassword: secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := NewFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := Credentials{ID: "1001", Password: "secret"}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestFileLoadMissing(t *testing.T) {
	dir := t.TempDir()
	incomplete := filepath.Join(dir, "incomplete.yaml")
	if err := os.WriteFile(incomplete, []byte("id: \"1001\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"", filepath.Join(dir, "absent.yaml"), incomplete} {
		if _, err := NewFile(path).Load(); !errors.Is(err, ErrConfigurationMissing) {
			t.Errorf("Load(%q) error = %v, want ErrConfigurationMissing", path, err)
		}
	}
}

func TestFileLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte("id: [unterminated\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFile(path).Load()
	if err == nil || errors.Is(err, ErrConfigurationMissing) {
		t.Errorf("Load() error = %v, want a parse error", err)
	}
}

func TestStatic(t *testing.T) {
	if _, err := (Static{ID: "1001"}).Load(); !errors.Is(err, ErrConfigurationMissing) {
		t.Errorf("Load() error = %v, want ErrConfigurationMissing", err)
	}
	got, err := Static{ID: "1001", Password: "x"}.Load()
	if err != nil || got.ID != "1001" {
		t.Errorf("Load() = %+v, %v", got, err)
	}
}

func TestWatchReportsNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.yaml")

	changed := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("id: \"1\"\npassword: p\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("onChange not called after the file was written")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}
