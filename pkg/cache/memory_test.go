package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type cachedPage struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

func TestMemoryCacheGetTypedDestination(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	in := &cachedPage{Title: "snapshot", Count: 3}
	if err := mc.Set(ctx, "page:test", in, time.Minute); err != nil {
		t.Fatal(err)
	}

	// Repeated reads into a typed struct pointer must each succeed.
	for i := 0; i < 2; i++ {
		var out cachedPage
		if err := mc.Get(ctx, "page:test", &out); err != nil {
			t.Fatalf("read %d: %v", i+1, err)
		}
		if out.Title != "snapshot" || out.Count != 3 {
			t.Fatalf("read %d: got %+v", i+1, out)
		}
	}
}

func TestMemoryCacheGetStringFastPath(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	var s string
	if err := mc.Get(ctx, "k", &s); err != nil {
		t.Fatal(err)
	}
	if s != "v" {
		t.Fatalf("got %q", s)
	}
}

func TestMemoryCacheGetMiss(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()

	var out cachedPage
	err := mc.Get(context.Background(), "absent", &out)
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v, want ErrCacheMiss", err)
	}
}
