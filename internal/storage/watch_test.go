package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestWatchReportsForeignWritesOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	medium, err := NewFile(afero.NewOsFs(), FileConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new file medium: %v", err)
	}

	changes := make(chan []string, 4)
	errCh := make(chan error, 1)
	watcher, err := Watch(ctx, medium, func(keys []string) {
		changes <- keys
	}, func(err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer watcher.Stop()

	if err := medium.Set(ctx, "manga-page-cache", `{"own":1}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	select {
	case keys := <-changes:
		t.Fatalf("own write reported as foreign: %v", keys)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(10 * WatchDebounce):
	}

	if err := os.WriteFile(medium.Path("manga-page-cache"), []byte(`{"other":1}`), 0o600); err != nil {
		t.Fatalf("foreign write: %v", err)
	}
	select {
	case keys := <-changes:
		if len(keys) != 1 || keys[0] != "manga-page-cache" {
			t.Fatalf("unexpected keys %v", keys)
		}
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for foreign change")
	}
}

func TestWatchRequiresCallback(t *testing.T) {
	medium, err := NewFile(afero.NewMemMapFs(), FileConfig{Dir: "/x"})
	if err != nil {
		t.Fatalf("new file medium: %v", err)
	}
	if _, err := Watch(context.Background(), medium, nil, nil); err == nil {
		t.Fatal("expected error without callback")
	}
}
