package storage

import (
	"context"
	"testing"
	"time"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	ctx := context.Background()
	key := IngestionKey(time.UnixMilli(1700000000000), "leads.csv")
	if key != "ingestions/1700000000000_leads.csv" {
		t.Fatalf("unexpected key %q", key)
	}

	payload := []byte("email,phone\na@b.co,5551234567\n")
	if err := store.Put(ctx, key, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	if err := store.Put(context.Background(), "../escape", []byte("x")); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
	if _, err := store.Get(context.Background(), "/etc/passwd"); err == nil {
		t.Fatal("expected absolute key to be rejected")
	}
}

func TestFSStoreMissingKey(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	if _, err := store.Get(context.Background(), "ingestions/nope.csv"); err == nil {
		t.Fatal("expected error for missing blob")
	}
}
