package resultcache

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	entry := Entry{
		EncounterID:   "enc-1",
		TransactionID: "pa-enc-1-1700000000",
		Status:        "READY",
		Confidence:    92,
		Summary:       "lumbar MRI supported",
		Document:      []byte("%PDF-1.7 ..."),
	}
	if err := cache.Put(ctx, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := cache.Get(ctx, "enc-1", "pa-enc-1-1700000000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != "READY" || got.Confidence != 92 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.StoredAt.IsZero() {
		t.Fatal("StoredAt not stamped")
	}
}

func TestPutOverwritesSameKey(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	first := Entry{EncounterID: "enc-1", TransactionID: "tx-1", Status: "READY", Confidence: 50}
	second := first
	second.Confidence = 92

	if err := cache.Put(ctx, first); err != nil {
		t.Fatalf("Put first: %v", err)
	}
	if err := cache.Put(ctx, second); err != nil {
		t.Fatalf("Put second: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one entry after overwrite, got %d", cache.Len())
	}
	got, err := cache.Get(ctx, "enc-1", "tx-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Confidence != 92 {
		t.Fatalf("overwrite lost: confidence = %d", got.Confidence)
	}
}

func TestGetMissing(t *testing.T) {
	cache := NewMemoryCache()
	_, err := cache.Get(context.Background(), "enc-1", "tx-missing")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestPutRejectsEmptyKeyParts(t *testing.T) {
	cache := NewMemoryCache()
	if err := cache.Put(context.Background(), Entry{TransactionID: "tx-1"}); err == nil {
		t.Fatal("expected error for missing encounter id")
	}
	if err := cache.Put(context.Background(), Entry{EncounterID: "enc-1"}); err == nil {
		t.Fatal("expected error for missing transaction id")
	}
}

func TestConcurrentPuts(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = cache.Put(ctx, Entry{
				EncounterID:   "enc-1",
				TransactionID: "tx-shared",
				Confidence:    n,
			})
		}(i)
	}
	wg.Wait()

	if cache.Len() != 1 {
		t.Fatalf("expected single key, got %d", cache.Len())
	}
	if _, err := cache.Get(ctx, "enc-1", "tx-shared"); err != nil {
		t.Fatalf("Get after concurrent puts: %v", err)
	}
}
