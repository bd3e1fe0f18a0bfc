// Package imagecache remembers which image a given Dockerfile and build
// context produced, so identical inputs are built once.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/0xa1bed0/appimg/internal/dockerfile"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/state"
	"github.com/0xa1bed0/appimg/internal/version"
)

const (
	keyPrefix          = "build:"
	buildingPrefix     = "BUILDING:" // BUILDING:<unixTs>:<key>
	buildingStaleAfter = 10 * time.Minute
)

var ErrClaimLost = errors.New("build claim was taken over by another build")

type Key string

// KeyFor hashes the Dockerfile lines, each prefixed with its length so
// ["ab","c"] and ["a","bc"] differ, then the context digest and the image
// schema version.
func KeyFor(df dockerfile.Dockerfile, contextDigest digest.Digest) Key {
	h := sha256.New()
	var lenBuf [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
		h.Write(lenBuf[:])
		io.WriteString(h, s)
	}

	for _, line := range df {
		write(line)
	}
	write(contextDigest.String())
	write(strconv.Itoa(version.ImageSchemaVersion))

	return Key(hex.EncodeToString(h.Sum(nil)))
}

func (k Key) Short() string {
	if len(k) > 12 {
		return string(k[:12])
	}
	return string(k)
}

func (k Key) storeKey() state.KVStoreKey {
	return state.KVStoreKey(keyPrefix + string(k))
}

// Record is what a finished build leaves behind.
type Record struct {
	Key     Key       `json:"-"`
	ImageID string    `json:"image_id"`
	Tag     string    `json:"tag"`
	Project string    `json:"project"`
	Base    string    `json:"base"`
	Dev     string    `json:"dev"`
	BuiltAt time.Time `json:"built_at"`
}

// Claim marks a build in progress.
type Claim struct {
	Key   Key
	token string
}

type Status int

const (
	Miss Status = iota
	Hit
	Building
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Building:
		return "building"
	default:
		return "miss"
	}
}

type Cache struct {
	kv  *state.KVStore
	now func() time.Time
}

// New returns a cache over kv. A nil kv gives a cache that always misses.
func New(kv *state.KVStore) *Cache {
	if kv == nil {
		logs.Warnf("build cache is disabled, every build runs from scratch")
	}
	return &Cache{kv: kv, now: time.Now}
}

// Default opens the per-user state database. Failure disables the cache
// instead of failing the build.
func Default(ctx context.Context) *Cache {
	kv, err := state.DefaultKVStore(ctx)
	if err != nil {
		logs.Warnf("can't open build state: %v", err)
		return New(nil)
	}
	return New(kv)
}

func (c *Cache) Enabled() bool { return c.kv != nil }

func (c *Cache) newToken(k Key) string {
	return fmt.Sprintf("%s%d:%s", buildingPrefix, c.now().Unix(), k)
}

func isBuilding(v string) bool { return strings.HasPrefix(v, buildingPrefix) }

func (c *Cache) isStale(v string) bool {
	if !isBuilding(v) {
		return false
	}
	ts, _, ok := strings.Cut(strings.TrimPrefix(v, buildingPrefix), ":")
	if !ok {
		return true
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return true
	}
	return c.now().Sub(time.Unix(sec, 0)) > buildingStaleAfter
}

// Get looks k up. A stale claim counts as a miss.
func (c *Cache) Get(ctx context.Context, k Key) (*Record, Status, error) {
	if c.kv == nil {
		return nil, Miss, nil
	}
	entry, found, err := c.kv.Get(ctx, k.storeKey())
	if err != nil {
		return nil, Miss, err
	}
	if !found {
		return nil, Miss, nil
	}
	if isBuilding(entry.Value) {
		if c.isStale(entry.Value) {
			logs.Debugf("cache: stale claim on %s", k.Short())
			return nil, Miss, nil
		}
		return nil, Building, nil
	}

	rec, err := decode(k, entry.Value)
	if err != nil {
		logs.Warnf("cache: dropping unreadable entry %s: %v", k.Short(), err)
		_ = c.kv.Delete(ctx, k.storeKey())
		return nil, Miss, nil
	}
	return rec, Hit, nil
}

// Claim takes k for a build. It fails (ok=false) while another fresh claim
// or a finished record holds the key; stale claims are taken over.
func (c *Cache) Claim(ctx context.Context, k Key) (claim Claim, ok bool, err error) {
	token := c.newToken(k)
	if c.kv == nil {
		return Claim{Key: k, token: token}, true, nil
	}

	entry, found, err := c.kv.Get(ctx, k.storeKey())
	if err != nil {
		return Claim{}, false, err
	}
	prev := ""
	if found {
		if !c.isStale(entry.Value) {
			return Claim{}, false, nil
		}
		prev = entry.Value
		logs.Debugf("cache: taking over stale claim on %s", k.Short())
	}

	swapped, err := c.kv.CompareAndSwap(ctx, k.storeKey(), prev, token)
	if err != nil {
		return Claim{}, false, err
	}
	return Claim{Key: k, token: token}, swapped, nil
}

// Release drops claim if it is still ours.
func (c *Cache) Release(ctx context.Context, claim Claim) {
	if c.kv == nil || claim.token == "" {
		return
	}
	released, err := c.kv.DeleteIfValue(ctx, claim.Key.storeKey(), claim.token)
	if err != nil {
		logs.Warnf("can't release build claim on %s: %v", claim.Key.Short(), err)
		return
	}
	if !released {
		logs.Debugf("cache: claim on %s was already gone", claim.Key.Short())
	}
}

// Set replaces claim with the finished record.
func (c *Cache) Set(ctx context.Context, claim Claim, rec Record) error {
	if c.kv == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	swapped, err := c.kv.CompareAndSwap(ctx, claim.Key.storeKey(), claim.token, string(data))
	if err != nil {
		return err
	}
	if !swapped {
		return fmt.Errorf("%w: %s", ErrClaimLost, claim.Key.Short())
	}
	return nil
}

// Retag records that the image of k now carries tag. Claims and missing
// entries are left alone.
func (c *Cache) Retag(ctx context.Context, k Key, tag string) error {
	if c.kv == nil {
		return nil
	}
	entry, found, err := c.kv.Get(ctx, k.storeKey())
	if err != nil || !found || isBuilding(entry.Value) {
		return err
	}
	rec, err := decode(k, entry.Value)
	if err != nil {
		return err
	}
	if rec.Tag == tag {
		return nil
	}
	rec.Tag = tag
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := c.kv.CompareAndSwap(ctx, k.storeKey(), entry.Value, string(data)); err != nil {
		return err
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, k Key) error {
	if c.kv == nil {
		return nil
	}
	return c.kv.Delete(ctx, k.storeKey())
}

// List returns finished builds, most recently used first.
func (c *Cache) List(ctx context.Context) ([]Record, error) {
	if c.kv == nil {
		return nil, nil
	}
	entries, err := c.kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, e := range entries {
		if isBuilding(e.Value) {
			continue
		}
		k := Key(strings.TrimPrefix(string(e.Key), keyPrefix))
		rec, err := decode(k, e.Value)
		if err != nil {
			logs.Debugf("cache: skipping unreadable entry %s: %v", k.Short(), err)
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func decode(k Key, value string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, err
	}
	if rec.ImageID == "" {
		return nil, errors.New("record has no image id")
	}
	rec.Key = k
	return &rec, nil
}
