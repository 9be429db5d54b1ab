package store

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryPutGetDelete(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	if err := s.Put("k1", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get("k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("expected v1, got %q", got)
	}

	if err := s.Delete("k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	if err := s.PutTTL("k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("put ttl: %v", err)
	}
	if _, err := s.Get("k1"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Get("k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound after expiry, got %v", err)
	}
}

func TestMemoryScanIsPrefixBoundAndSorted(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	for _, k := range []string{"audit:b", "audit:a", "other:z", "audit:c"} {
		if err := s.Put(k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	keys, err := s.Scan("audit:")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{"audit:a", "audit:b", "audit:c"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("key %d: expected %s, got %s", i, k, keys[i])
		}
	}
}
