package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("notify_title: before\n"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	runtime := NewRuntime(initial)

	watcher, err := NewWatcher(path, runtime)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Run(ctx)
	}()

	if err := os.WriteFile(path, []byte("notify_title: after\nnotifications_enabled: false\n"), 0o644); err != nil {
		t.Fatalf("rewrite settings: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for runtime.NotifyTitle() != "after" {
		select {
		case <-deadline:
			t.Fatalf("settings not reloaded, title still %q", runtime.NotifyTitle())
		case <-time.After(20 * time.Millisecond):
		}
	}
	if runtime.NotificationsGranted() {
		t.Fatalf("gate should be closed after reload")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop on cancel")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("notify_title: stable\n"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	runtime := NewRuntime(initial)

	watcher, err := NewWatcher(path, runtime)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("notify_title: noise\n"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := runtime.NotifyTitle(); got != "stable" {
		t.Fatalf("notify title = %q, sibling write should not reload", got)
	}
}
