package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := store.Record(ctx, Entry{
		BaseName:      "demo",
		ChunkIndex:    1,
		StartedAt:     base,
		StoppedAt:     base.Add(time.Minute),
		Active:        45 * time.Second,
		Microphone:    "mic",
		ArtifactPath:  "/videos/demo_final.mp4",
		Muxed:         true,
		FramesWritten: 1350,
		FramesDropped: 2,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected generated id")
	}
	if _, err := store.Record(ctx, Entry{
		BaseName:     "demo",
		ChunkIndex:   2,
		StartedAt:    base.Add(time.Hour),
		StoppedAt:    base.Add(time.Hour + time.Second),
		ArtifactPath: "/videos/demo_chunk2.mp4",
		Abandoned:    true,
		Failure:      "thread join timeout",
	}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ChunkIndex != 2 || !entries[0].Abandoned || entries[0].Muxed {
		t.Fatalf("newest entry wrong: %+v", entries[0])
	}
	got := entries[1]
	if got.ID != first.ID || got.Active != 45*time.Second || !got.Muxed || got.FramesWritten != 1350 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.StartedAt.Equal(base) {
		t.Fatalf("started_at = %v, want %v", got.StartedAt, base)
	}

	limited, err := store.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("List(1) = %d entries, %v", len(limited), err)
	}
	idx, err := store.MaxChunkIndex(ctx, "demo")
	if err != nil || idx != 2 {
		t.Fatalf("MaxChunkIndex = %d, %v", idx, err)
	}
	if idx, _ := store.MaxChunkIndex(ctx, "other"); idx != -1 {
		t.Fatalf("MaxChunkIndex for unknown base = %d", idx)
	}
}

func TestLastEmpty(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Last(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Record(context.Background(), Entry{ID: "fixed", BaseName: "a", ChunkIndex: 1}); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	last, err := reopened.Last(context.Background())
	if err != nil || last.ID != "fixed" {
		t.Fatalf("Last = %+v, %v", last, err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error")
	}
}
