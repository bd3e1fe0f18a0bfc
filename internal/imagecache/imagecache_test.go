package imagecache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/0xa1bed0/appimg/internal/dockerfile"
	"github.com/0xa1bed0/appimg/internal/state"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := state.Open(ctx, state.Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	kv, err := state.NewKVStore(ctx, db)
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	return New(kv)
}

var ctxDigest = digest.FromString("context")

func TestKeyForSeparatesLineBoundaries(t *testing.T) {
	t.Parallel()

	a := KeyFor(dockerfile.Dockerfile{"ab", "c"}, ctxDigest)
	b := KeyFor(dockerfile.Dockerfile{"a", "bc"}, ctxDigest)
	if a == b {
		t.Fatal("line boundaries must change the key")
	}
	if a != KeyFor(dockerfile.Dockerfile{"ab", "c"}, ctxDigest) {
		t.Fatal("key must be stable")
	}
	if a == KeyFor(dockerfile.Dockerfile{"ab", "c"}, digest.FromString("other")) {
		t.Fatal("context digest must change the key")
	}
	if len(a) != 64 {
		t.Fatalf("unexpected key length %d", len(a))
	}
}

func TestClaimSetGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestCache(t)
	k := KeyFor(dockerfile.Dockerfile{"FROM python:3.9-alpine3.13"}, ctxDigest)

	if _, st, err := c.Get(ctx, k); err != nil || st != Miss {
		t.Fatalf("Get on empty cache = %v, %v", st, err)
	}

	claim, ok, err := c.Claim(ctx, k)
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	if _, ok, _ := c.Claim(ctx, k); ok {
		t.Fatal("second claim must fail while the first is fresh")
	}
	if _, st, _ := c.Get(ctx, k); st != Building {
		t.Fatalf("status while claimed = %v", st)
	}

	rec := Record{ImageID: "sha256:abc", Tag: "app:latest", Dev: "skip", BuiltAt: time.Unix(1700000000, 0).UTC()}
	if err := c.Set(ctx, claim, rec); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, st, err := c.Get(ctx, k)
	if err != nil || st != Hit {
		t.Fatalf("Get after Set = %v, %v", st, err)
	}
	if got.ImageID != "sha256:abc" || got.Key != k || !got.BuiltAt.Equal(rec.BuiltAt) {
		t.Fatalf("unexpected record %+v", got)
	}

	list, err := c.List(ctx)
	if err != nil || len(list) != 1 || list[0].Tag != "app:latest" {
		t.Fatalf("List = %+v, %v", list, err)
	}
}

func TestRetagUpdatesFinishedRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestCache(t)
	k := Key("k3")

	claim, ok, err := c.Claim(ctx, k)
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	if err := c.Retag(ctx, k, "app:v2"); err != nil {
		t.Fatalf("Retag on a claim: %v", err)
	}
	if _, st, _ := c.Get(ctx, k); st != Building {
		t.Fatalf("Retag must leave a claim alone, status %v", st)
	}

	if err := c.Set(ctx, claim, Record{ImageID: "sha256:abc", Tag: "app:v1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Retag(ctx, k, "app:v2"); err != nil {
		t.Fatalf("Retag: %v", err)
	}
	got, st, err := c.Get(ctx, k)
	if err != nil || st != Hit {
		t.Fatalf("Get = %v, %v", st, err)
	}
	if got.Tag != "app:v2" || got.ImageID != "sha256:abc" {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := c.Retag(ctx, Key("missing"), "app:v3"); err != nil {
		t.Fatalf("Retag on a missing key: %v", err)
	}
}

func TestReleaseFreesKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestCache(t)
	k := Key("k1")

	claim, ok, err := c.Claim(ctx, k)
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	c.Release(ctx, claim)

	if _, st, _ := c.Get(ctx, k); st != Miss {
		t.Fatalf("status after release = %v", st)
	}
	if _, ok, _ := c.Claim(ctx, k); !ok {
		t.Fatal("key should be claimable after release")
	}
}

func TestStaleClaimIsTakenOver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestCache(t)
	k := Key("k2")

	past := time.Now().Add(-time.Hour)
	c.now = func() time.Time { return past }
	old, ok, err := c.Claim(ctx, k)
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}

	c.now = time.Now
	if _, st, _ := c.Get(ctx, k); st != Miss {
		t.Fatalf("stale claim should read as miss, got %v", st)
	}
	fresh, ok, err := c.Claim(ctx, k)
	if err != nil || !ok {
		t.Fatalf("takeover = %v, %v", ok, err)
	}

	if err := c.Set(ctx, old, Record{ImageID: "sha256:old"}); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("old claim must not store, got %v", err)
	}
	if err := c.Set(ctx, fresh, Record{ImageID: "sha256:new"}); err != nil {
		t.Fatalf("fresh claim Set: %v", err)
	}
}

func TestDisabledCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(nil)

	if c.Enabled() {
		t.Fatal("nil store must disable the cache")
	}
	claim, ok, err := c.Claim(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Claim on disabled cache = %v, %v", ok, err)
	}
	if err := c.Set(ctx, claim, Record{ImageID: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, st, _ := c.Get(ctx, "k"); st != Miss {
		t.Fatalf("disabled cache must miss, got %v", st)
	}
}
