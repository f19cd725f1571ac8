package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestPacerFirstCallImmediate(t *testing.T) {
	p := NewPacer(time.Second)
	start := time.Now()
	if err := p.Wait(context.Background(), "alpha"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("first call should not block")
	}
}

func TestPacerEnforcesInterval(t *testing.T) {
	p := NewPacer(50 * time.Millisecond)
	ctx := context.Background()
	if err := p.Wait(ctx, "alpha"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	start := time.Now()
	if err := p.Wait(ctx, "alpha"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("second call returned too early: %v", elapsed)
	}
}

func TestPacerKeysIndependent(t *testing.T) {
	p := NewPacer(time.Second)
	ctx := context.Background()
	if err := p.Wait(ctx, "alpha"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	start := time.Now()
	if err := p.Wait(ctx, "other"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("different key should not block")
	}
}

func TestPacerCancelled(t *testing.T) {
	p := NewPacer(time.Second)
	ctx := context.Background()
	if err := p.Wait(ctx, "alpha"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.Wait(cctx, "alpha"); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
