package acl

import (
	"context"
	"errors"
	"testing"
)

// flakyStore wraps a Store and fails the configured method a fixed
// number of times with a transient error before delegating through.
type flakyStore struct {
	Store
	failures int
	calls    int
}

func (s *flakyStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, TransientStore("GetUser", "connection reset", errors.New("eof"))
	}
	return s.Store.GetUser(ctx, id)
}

func newFlakyAPI(t *testing.T, failures int) (*flakyStore, Store) {
	t.Helper()
	sqlite, err := OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	flaky := &flakyStore{Store: sqlite, failures: failures}
	return flaky, WithRetry(flaky)
}

func TestWithRetrySucceedsAfterOneTransientFailure(t *testing.T) {
	ctx := context.Background()
	flaky, retrying := newFlakyAPI(t, 1)

	u := &User{ID: "u1", UserName: "alice", Email: "alice@example.test"}
	if err := flaky.Store.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser (seed, unwrapped): %v", err)
	}

	got, err := retrying.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: unexpected error after retry: %v", err)
	}
	if got.UserName != "alice" {
		t.Fatalf("GetUser: got user %+v, want alice", got)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected exactly 2 calls (1 failure + 1 retry), got %d", flaky.calls)
	}
}

func TestWithRetrySurfacesInternalAfterPersistentTransientFailure(t *testing.T) {
	ctx := context.Background()
	flaky, retrying := newFlakyAPI(t, 2)

	u := &User{ID: "u1", UserName: "alice", Email: "alice@example.test"}
	if err := flaky.Store.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser (seed, unwrapped): %v", err)
	}

	_, err := retrying.GetUser(ctx, "u1")
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if !IsKind(err, KindInternal) {
		t.Fatalf("expected KindInternal after the retry also fails transiently, got %v", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected exactly 2 calls (no further retries), got %d", flaky.calls)
	}
}

func TestWithRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	ctx := context.Background()
	flaky, retrying := newFlakyAPI(t, 0)

	_, err := retrying.GetUser(ctx, "does-not-exist")
	if err == nil {
		t.Fatal("expected a not-found error, got nil")
	}
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected KindNotFound to pass through unwrapped, got %v", err)
	}
	if flaky.calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-transient error, got %d", flaky.calls)
	}
}
