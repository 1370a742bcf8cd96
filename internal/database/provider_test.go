package database

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestProvider_ReturnsSameHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	p := NewProvider(path)
	t.Cleanup(func() { _ = p.Close() })

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("provider should not create the store before Get")
	}

	const callers = 32
	handles := make([]*DB, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Go(func() {
			handles[i], errs[i] = p.Get()
		})
	}
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: Get returned error: %v", i, errs[i])
		}
		if handles[i] != handles[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}

	again, err := p.Get()
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if again != handles[0] {
		t.Fatal("sequential Get returned a different handle")
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected store file to exist: %v", err)
	}
}

func TestProvider_FailureIsNotRetried(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	p := NewProvider(filepath.Join(dir, DefaultFileName))

	if _, err := p.Get(); !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}

	// Even once the directory exists the cached failure is returned
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	db, err := p.Get()
	if !errors.Is(err, ErrInit) || db != nil {
		t.Fatalf("expected cached ErrInit, got db=%v err=%v", db, err)
	}
}

func TestProvider_CloseBeforeGet(t *testing.T) {
	p := NewProvider(filepath.Join(t.TempDir(), DefaultFileName))

	if err := p.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := p.Get(); !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit after Close, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestNewProvider_DefaultPath(t *testing.T) {
	if got := NewProvider("").Path(); got != DefaultFileName {
		t.Fatalf("expected %q, got %q", DefaultFileName, got)
	}
}

func TestProvider_GetAfterClose(t *testing.T) {
	p := NewProvider(filepath.Join(t.TempDir(), DefaultFileName))

	if _, err := p.Get(); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	db, err := p.Get()
	if !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit after Close, got %v", err)
	}
	if db != nil {
		t.Fatal("expected no handle after Close")
	}
}
