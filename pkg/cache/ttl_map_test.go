package cache

import (
	"testing"
	"time"
)

func TestTTLMapExpiry(t *testing.T) {
	m := NewTTLMap[string, int]()
	now := time.Now()

	m.SetWithExpiry("a", 1, now.Add(time.Minute))
	if v, ok := m.GetFresh("a", now); !ok || v != 1 {
		t.Fatalf("expected fresh value, got %v %v", v, ok)
	}
	if _, ok := m.GetFresh("a", now.Add(2*time.Minute)); ok {
		t.Fatal("expected entry to be expired")
	}
	// Expired entries stay until overwritten; only freshness changes.
	if m.Len() != 1 {
		t.Fatalf("unexpected len %d", m.Len())
	}
}

func TestTTLMapZeroExpiryNeverExpires(t *testing.T) {
	m := NewTTLMap[string, int]()
	m.SetWithExpiry("a", 1, time.Time{})
	if _, ok := m.GetFresh("a", time.Now().Add(100*time.Hour)); !ok {
		t.Fatal("zero expiry entry must never expire")
	}
}

func TestTTLMapDelete(t *testing.T) {
	m := NewTTLMap[string, int]()
	m.SetWithExpiry("a", 1, time.Now().Add(time.Minute))
	m.Delete("a")
	if _, ok := m.GetFresh("a", time.Now()); ok {
		t.Fatal("expected deleted entry to be gone")
	}
}

func TestTTLMapOverwrite(t *testing.T) {
	m := NewTTLMap[string, int]()
	now := time.Now()
	m.SetWithExpiry("a", 1, now.Add(time.Minute))
	m.SetWithExpiry("a", 2, now.Add(time.Hour))
	if v, _ := m.GetFresh("a", now.Add(30*time.Minute)); v != 2 {
		t.Fatalf("expected overwritten value 2, got %d", v)
	}
}
