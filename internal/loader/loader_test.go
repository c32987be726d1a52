package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"dmarcview.org/internal/model"
)

func TestLoadMemoizesValues(t *testing.T) {
	var calls int32
	l := New(stringKey, func(ctx context.Context, key string) (*model.User, error) {
		atomic.AddInt32(&calls, 1)
		return &model.User{ID: key}, nil
	})

	for i := 0; i < 3; i++ {
		u, err := l.Load(context.Background(), "u1")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if u.ID != "u1" {
			t.Fatalf("unexpected user %+v", u)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fetch ran %d times, want 1", got)
	}

	// Distinct keys fetch independently.
	if _, err := l.Load(context.Background(), "u2"); err != nil {
		t.Fatalf("Load u2: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("fetch ran %d times after second key, want 2", got)
	}
}

func TestLoadMemoizesErrors(t *testing.T) {
	var calls int32
	l := New(stringKey, func(ctx context.Context, key string) (*model.User, error) {
		atomic.AddInt32(&calls, 1)
		return nil, model.ErrNotFound
	})

	for i := 0; i < 2; i++ {
		if _, err := l.Load(context.Background(), "ghost"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("failed fetch ran %d times, want 1", got)
	}
}

func TestForgetTriggersRefetch(t *testing.T) {
	var calls int32
	l := New(stringKey, func(ctx context.Context, key string) (*model.User, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, model.ErrNotFound
		}
		return &model.User{ID: key}, nil
	})

	if _, err := l.Load(context.Background(), "u1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("first load: %v", err)
	}
	l.Forget("u1")
	u, err := l.Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load after Forget: %v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestPrimeSkipsFetch(t *testing.T) {
	l := New(stringKey, func(ctx context.Context, key string) (*model.Organization, error) {
		t.Fatalf("fetch must not run for a primed key")
		return nil, nil
	})
	l.Prime("org-1", &model.Organization{ID: "org-1", Slug: "acme"})

	org, err := l.Load(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if org.Slug != "acme" {
		t.Fatalf("unexpected org %+v", org)
	}
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	l := New(stringKey, func(ctx context.Context, key string) (*model.User, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &model.User{ID: key}, nil
	})

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Load(context.Background(), "u1")
		}(i)
	}
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("fetch ran %d times under concurrency, want 1", got)
	}
}

func TestLoadManyIsPositional(t *testing.T) {
	l := New(stringKey, func(ctx context.Context, key string) (*model.User, error) {
		if key == "missing" {
			return nil, model.ErrNotFound
		}
		return &model.User{ID: key}, nil
	})

	values, errs := l.LoadMany(context.Background(), []string{"a", "missing", "b"})
	if errs[0] != nil || errs[2] != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !errors.Is(errs[1], model.ErrNotFound) {
		t.Fatalf("errs[1] = %v, want ErrNotFound", errs[1])
	}
	if values[0].ID != "a" || values[2].ID != "b" {
		t.Fatalf("values out of position: %+v", values)
	}
}
