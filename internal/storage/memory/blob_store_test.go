package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

var _ crawler.BlobStore = (*BlobStore)(nil)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"urlsVisited":1}`)
	uri, err := store.PutObject(context.Background(), "results/2024-01-01/x.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://results/2024-01-01/x.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = '['
	stored, ok := store.Object("results/2024-01-01/x.json")
	if !ok || string(stored) != `{"urlsVisited":1}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	stored[0] = '['
	again, _ := store.Object("results/2024-01-01/x.json")
	if again[0] != '{' {
		t.Fatal("expected Object to return a copy")
	}
	if _, ok := store.Object("missing"); ok {
		t.Fatal("expected missing object to report false")
	}
}
