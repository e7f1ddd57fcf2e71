package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_GetSetDelete(t *testing.T) {
	t.Parallel()
	m, err := NewMemory[string](100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok := m.Get(ctx, "missing"); ok {
		t.Error("should not find missing key")
	}

	m.Set(ctx, "channel-1", "general", time.Minute)
	time.Sleep(50 * time.Millisecond)

	val, ok := m.Get(ctx, "channel-1")
	if !ok {
		t.Fatal("should find channel-1")
	}
	if val != "general" {
		t.Errorf("value = %q, want %q", val, "general")
	}

	m.Delete(ctx, "channel-1")
	if _, ok := m.Get(ctx, "channel-1"); ok {
		t.Error("should not find deleted key")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	t.Parallel()
	m, err := NewMemory[string](100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	m.Set(ctx, "expiring", "data", 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	if _, ok := m.Get(ctx, "expiring"); ok {
		t.Error("entry should be expired")
	}
}

func TestMemory_Purge(t *testing.T) {
	t.Parallel()
	m, err := NewMemory[string](100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	m.Set(ctx, "a", "1", time.Minute)
	m.Set(ctx, "b", "2", time.Minute)
	time.Sleep(50 * time.Millisecond)

	m.Purge(ctx)

	if _, ok := m.Get(ctx, "a"); ok {
		t.Error("purge should remove all keys")
	}
	if _, ok := m.Get(ctx, "b"); ok {
		t.Error("purge should remove all keys")
	}
}
