package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("empty store Token() = %v, want ErrNoToken", err)
	}

	if err := store.Save(ctx, "jwt-1"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	token, err := store.Token(ctx)
	if err != nil || token != "jwt-1" {
		t.Fatalf("Token() = %q, %v", token, err)
	}

	if err := store.Remove(ctx); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("Token() after Remove = %v, want ErrNoToken", err)
	}
	if got := store.RemoveCount(); got != 1 {
		t.Errorf("RemoveCount() = %d, want 1", got)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "token")
	store := NewFileStore(path)

	if _, err := store.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("missing file Token() = %v, want ErrNoToken", err)
	}

	if err := store.Save(ctx, "jwt-abc"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}

	token, err := store.Token(ctx)
	if err != nil || token != "jwt-abc" {
		t.Fatalf("Token() = %q, %v (trailing newline should be trimmed)", token, err)
	}

	if err := store.Remove(ctx); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("Token() after Remove = %v, want ErrNoToken", err)
	}

	// Removing an absent token is not an error.
	if err := store.Remove(ctx); err != nil {
		t.Errorf("second Remove = %v, want nil", err)
	}
}

func TestFileStoreEmptyFileMeansNoToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(path)
	if _, err := store.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("whitespace-only file Token() = %v, want ErrNoToken", err)
	}
}
