package circuitbreaker

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		ErrorThreshold: 0.5,
		MinSamples:     4,
		WindowSeconds:  60,
		OpenTimeout:    10 * time.Millisecond,
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testConfig())
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", b.State())
	}
	if !b.Allow() {
		t.Error("Allow() should be true when closed")
	}
}

func TestBreaker_OpensAfterThresholdBreached(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testConfig())

	for range 4 {
		b.RecordError(1.0)
	}
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}
	if b.Allow() {
		t.Error("Allow() should be false when open")
	}
}

func TestBreaker_StaysClosedBelowMinSamples(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testConfig())

	b.RecordError(1.0)
	b.RecordError(1.0)
	if b.State() != StateClosed {
		t.Errorf("State() = %v, want closed below MinSamples", b.State())
	}
}

func TestBreaker_HalfOpenAfterTimeoutThenCloses(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testConfig())
	for range 4 {
		b.RecordError(1.0)
	}
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("Allow() should permit the half-open probe")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half_open", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed after successful probe", b.State())
	}
}

func TestBreaker_HalfOpenReopensOnFailedProbe(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testConfig())
	for range 4 {
		b.RecordError(1.0)
	}
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("Allow() should permit the probe")
	}

	b.RecordError(1.0)
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open after failed probe", b.State())
	}
}

func TestBreaker_HalfOpenRejectsSecondProbe(t *testing.T) {
	t.Parallel()
	b := NewBreaker(testConfig())
	for range 4 {
		b.RecordError(1.0)
	}
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("first probe should be allowed")
	}
	if b.Allow() {
		t.Error("second concurrent probe should be rejected")
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()
	if got := ClassifyError(nil); got != 0 {
		t.Errorf("nil error weight = %v, want 0", got)
	}
}

func TestRegistry_GetOrCreateIsStable(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testConfig())
	a := r.GetOrCreate("/messages")
	b := r.GetOrCreate("/messages")
	if a != b {
		t.Error("GetOrCreate should return the same breaker for the same route")
	}
	if r.Get("/channels") != nil {
		t.Error("Get on an unknown route should return nil")
	}
}

func TestRegistry_EvictStale(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testConfig())
	r.GetOrCreate("/messages")

	evicted := r.EvictStale(time.Now().Add(time.Minute))
	if evicted != 1 {
		t.Errorf("EvictStale() = %d, want 1", evicted)
	}
	if r.Get("/messages") != nil {
		t.Error("evicted breaker should no longer be retrievable")
	}
}
