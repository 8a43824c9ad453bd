// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package blocklist

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/abuseguard/internal/detection"
)

// mockEngine records calls from the sync loops.
type mockEngine struct {
	mu       sync.Mutex
	export   detection.Blocklist
	imported [][]string
	reasons  []string
	restored []detection.BlockEntry
}

func (m *mockEngine) ExportBlocklist() detection.Blocklist {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.export
}

func (m *mockEngine) ImportBlocklist(keys []string, reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imported = append(m.imported, keys)
	m.reasons = append(m.reasons, reason)
	return len(keys)
}

func (m *mockEngine) RestoreBlocklist(entries []detection.BlockEntry) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restored = append(m.restored, entries...)
	return len(entries)
}

func (m *mockEngine) importCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.imported)
}

var _ Engine = (*detection.Engine)(nil)

func TestRestore(t *testing.T) {
	a := openTestArchive(t)
	now := time.Now()
	list := detection.Blocklist{Blocked: []detection.BlockEntry{
		entry("198.51.100.1", now, time.Hour),
		entry("198.51.100.2", now, time.Hour),
	}}
	if _, err := a.Save(context.Background(), list, now); err != nil {
		t.Fatalf("Save: %v", err)
	}

	eng := &mockEngine{}
	n, err := Restore(context.Background(), a, eng)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 || len(eng.restored) != 2 {
		t.Errorf("Restore() = %d, restored %d entries, want 2", n, len(eng.restored))
	}
}

func TestRestore_ClosedArchive(t *testing.T) {
	a, err := OpenArchive("")
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	_ = a.Close()

	if _, err := Restore(context.Background(), a, &mockEngine{}); !errors.Is(err, ErrArchiveClosed) {
		t.Errorf("Restore() error = %v, want ErrArchiveClosed", err)
	}
}

func TestSnapshotService_RoundTripWithEngine(t *testing.T) {
	cfg := detection.DefaultEngineConfig()
	cfg.TrustPrivateNetworks = false
	src, err := detection.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer src.Shutdown()

	if res := src.Block("203.0.113.50", "manual", time.Hour); res.Status != detection.BlockStatusBlocked {
		t.Fatalf("Block() = %+v", res)
	}

	a := openTestArchive(t)
	svc := NewSnapshotService(src, a, time.Minute)
	if n, err := svc.SnapshotOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("SnapshotOnce() = %d, %v", n, err)
	}

	dst, err := detection.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer dst.Shutdown()

	if n, err := Restore(context.Background(), a, dst); err != nil || n != 1 {
		t.Fatalf("Restore() = %d, %v", n, err)
	}

	exported := dst.ExportBlocklist()
	if len(exported.Blocked) != 1 || exported.Blocked[0].Key != "203.0.113.50" {
		t.Errorf("restored export = %+v", exported.Blocked)
	}
}

func TestSnapshotService_FinalSnapshotOnShutdown(t *testing.T) {
	now := time.Now()
	eng := &mockEngine{export: detection.Blocklist{Blocked: []detection.BlockEntry{entry("k", now, time.Hour)}}}
	a := openTestArchive(t)
	svc := NewSnapshotService(eng, a, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunWithContext(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunWithContext did not return")
	}

	if got := loadedKeys(t, a); len(got) != 1 || got[0] != "k" {
		t.Errorf("archive after shutdown = %v, want [k]", got)
	}
	if svc.String() != "blocklist-snapshot" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestSnapshotService_StopsWhenArchiveClosed(t *testing.T) {
	a, err := OpenArchive("")
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	_ = a.Close()

	svc := NewSnapshotService(&mockEngine{}, a, 10*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- svc.RunWithContext(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrArchiveClosed) {
			t.Errorf("RunWithContext() = %v, want ErrArchiveClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunWithContext did not return after archive closed")
	}
}

func TestFeedSyncService_SyncOnce(t *testing.T) {
	var pushed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pull":
			_, _ = io.WriteString(w, `{"keys":["198.51.100.20","198.51.100.21"]}`)
		case "/push":
			pushed.Store(true)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	eng := &mockEngine{export: detection.Blocklist{Blocked: []detection.BlockEntry{{Key: "local"}}}}
	client := NewFeedClient(FeedConfig{PullURL: srv.URL + "/pull", PushURL: srv.URL + "/push"})
	svc := NewFeedSyncService(eng, client, time.Minute)

	res, err := svc.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if res.Pulled != 2 || res.Imported != 2 || res.Pushed != 1 {
		t.Errorf("SyncOnce() = %+v", res)
	}
	if len(eng.reasons) != 1 || eng.reasons[0] != FeedReason {
		t.Errorf("import reasons = %v, want [%s]", eng.reasons, FeedReason)
	}
	if !pushed.Load() {
		t.Error("local export was not pushed")
	}
}

func TestFeedSyncService_PullFailureStillPushes(t *testing.T) {
	var pushed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/push" {
			pushed.Store(true)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	eng := &mockEngine{}
	client := NewFeedClient(FeedConfig{PullURL: srv.URL + "/pull", PushURL: srv.URL + "/push"})
	svc := NewFeedSyncService(eng, client, time.Minute)

	_, err := svc.SyncOnce(context.Background())
	if err == nil {
		t.Fatal("SyncOnce() error = nil, want pull failure")
	}
	if !pushed.Load() {
		t.Error("push skipped after pull failure")
	}
	if eng.importCalls() != 0 {
		t.Error("nothing should be imported when the pull fails")
	}
}

func TestFeedSyncService_RunWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"keys":["192.0.2.1"]}`)
	}))
	defer srv.Close()

	eng := &mockEngine{}
	svc := NewFeedSyncService(eng, NewFeedClient(FeedConfig{PullURL: srv.URL}), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunWithContext(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for eng.importCalls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithContext() = %v, want context.Canceled", err)
	}
	if eng.importCalls() < 2 {
		t.Errorf("import calls = %d, want at least 2", eng.importCalls())
	}
	if svc.String() != "blocklist-feed" {
		t.Errorf("String() = %q", svc.String())
	}
}
