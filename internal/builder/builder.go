// Package builder runs one image build end to end: manifests, plan,
// Dockerfile, build context, cache lookup and the engine build.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/0xa1bed0/appimg/internal/buildcontext"
	"github.com/0xa1bed0/appimg/internal/buildplan"
	"github.com/0xa1bed0/appimg/internal/dockerclient"
	"github.com/0xa1bed0/appimg/internal/dockerfile"
	"github.com/0xa1bed0/appimg/internal/filesmanager"
	"github.com/0xa1bed0/appimg/internal/imagecache"
	"github.com/0xa1bed0/appimg/internal/logs"
	"github.com/0xa1bed0/appimg/internal/manifest"
)

const (
	CacheKeyLabel      = "appimg.cache_key"
	ContextDigestLabel = "appimg.context_digest"
	ProjectLabel       = "appimg.project"

	defaultPollInterval = 2 * time.Second
)

var ErrTagRequired = errors.New("image tag is required")

// Prepared is everything a build needs before the engine is involved.
type Prepared struct {
	Plan       *buildplan.Plan
	Dockerfile dockerfile.Dockerfile
	Context    *buildcontext.Context
	Runtime    *manifest.Manifest
	Dev        *manifest.Manifest
	Key        imagecache.Key
}

// Prepare reads the inputs and renders them. It touches no engine and no
// cache, so `appimg plan` uses it as is.
func Prepare(in buildplan.Inputs, ignore []string) (*Prepared, error) {
	fm, err := buildcontext.OpenAppDir(in.AppDir)
	if err != nil {
		return nil, err
	}

	runtimeManifest, err := manifest.Load(in.RuntimeManifest)
	if err != nil {
		return nil, fmt.Errorf("runtime manifest: %w", err)
	}
	devManifest, err := manifest.Load(in.DevManifest)
	if err != nil {
		return nil, fmt.Errorf("dev manifest: %w", err)
	}
	reportManifest(runtimeManifest)
	reportManifest(devManifest)

	plan, err := buildplan.New(in)
	if err != nil {
		return nil, err
	}

	if plan.DevIncluded() {
		logs.Infof("dev dependencies: included (%d packages only in dev)", len(manifest.Exclusive(devManifest, runtimeManifest)))
	} else {
		logs.Infof("dev dependencies: skipped")
	}

	if ok, err := fm.HasFilesWithExtensions("py", filesmanager.DefaultIgnore); err != nil {
		logs.Debugf("can't scan %s for python sources: %v", in.AppDir, err)
	} else if !ok {
		logs.Warnf("%s has no .py files, the image will have nothing to run", in.AppDir)
	}

	df := dockerfile.Generate(plan)
	bctx, err := buildcontext.Assemble(df, in, buildcontext.Options{Ignore: ignore, FileManager: fm})
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Plan:       plan,
		Dockerfile: df,
		Context:    bctx,
		Runtime:    runtimeManifest,
		Dev:        devManifest,
		Key:        imagecache.KeyFor(df, bctx.Digest),
	}, nil
}

func reportManifest(m *manifest.Manifest) {
	logs.Debugf("%s: %d packages", m.Source, len(m.Names()))
	for _, w := range m.Warnings {
		logs.Warnf("%s", w)
	}
	if len(m.Includes) > 0 {
		logs.Warnf("%s includes %s; only the manifest itself is copied into the image", m.Source, strings.Join(m.Includes, ", "))
	}
	if len(m.Editables) > 0 {
		logs.Warnf("%s has editable installs (%s) that need their sources in the build context", m.Source, strings.Join(m.Editables, ", "))
	}
}

type Options struct {
	Inputs  buildplan.Inputs
	Tag     string
	Project string
	Ignore  []string

	// Force skips the cache lookup. The result still replaces the cache entry.
	Force bool
}

type Result struct {
	ImageID  string
	Tag      string
	Cached   bool
	Prepared *Prepared
}

type Builder struct {
	engine       dockerclient.DockerImageBuilder
	cache        *imagecache.Cache
	now          func() time.Time
	pollInterval time.Duration
}

func New(engine dockerclient.DockerImageBuilder, cache *imagecache.Cache) *Builder {
	if cache == nil {
		cache = imagecache.New(nil)
	}
	return &Builder{
		engine:       engine,
		cache:        cache,
		now:          time.Now,
		pollInterval: defaultPollInterval,
	}
}

// Build produces the image for opts. Identical inputs reuse the image a
// previous build recorded. Concurrent builds of identical inputs wait for
// the first one. A failed or cancelled build leaves no cache entry.
func (b *Builder) Build(ctx context.Context, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.Tag) == "" {
		return nil, ErrTagRequired
	}

	prep, err := Prepare(opts.Inputs, opts.Ignore)
	if err != nil {
		return nil, err
	}
	key := prep.Key
	logs.Debugf("build key %s (context %s, %d files)", key.Short(), prep.Context.Digest, prep.Context.Files)

	if opts.Force {
		if err := b.cache.Delete(ctx, key); err != nil {
			logs.Warnf("can't drop cache entry %s: %v", key.Short(), err)
		}
	}

	claim, rec, err := b.claimOrReuse(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		// the tag may have moved since, or been asked for under a new name
		if err := b.engine.TagImage(ctx, rec.ImageID, opts.Tag); err != nil {
			return nil, err
		}
		if rec.Tag != opts.Tag {
			if err := b.cache.Retag(ctx, key, opts.Tag); err != nil {
				logs.Warnf("tagged %s but can't record it: %v", opts.Tag, err)
			}
		}
		logs.Successf("image %s is up to date (%s)", opts.Tag, shortID(rec.ImageID))
		return &Result{ImageID: rec.ImageID, Tag: opts.Tag, Cached: true, Prepared: prep}, nil
	}

	stored := false
	defer func() {
		if !stored {
			b.cache.Release(context.WithoutCancel(ctx), claim)
		}
	}()

	labels := map[string]string{
		CacheKeyLabel:      string(key),
		ContextDigestLabel: prep.Context.Digest.String(),
	}
	if opts.Project != "" {
		labels[ProjectLabel] = opts.Project
	}

	logs.Infof("building %s from %s", opts.Tag, prep.Plan.Base.Image)
	started := b.now()
	imageID, err := b.engine.BuildImage(ctx, prep.Context.Reader(), opts.Tag, labels)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", opts.Tag, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record := imagecache.Record{
		ImageID: imageID,
		Tag:     opts.Tag,
		Project: opts.Project,
		Base:    prep.Plan.Base.Image,
		Dev:     prep.Plan.Dev.String(),
		BuiltAt: b.now().UTC(),
	}
	if err := b.cache.Set(ctx, claim, record); err != nil {
		logs.Warnf("built %s but can't record it: %v", opts.Tag, err)
	} else {
		stored = true
	}

	logs.Successf("built %s (%s) in %s", opts.Tag, shortID(imageID), b.now().Sub(started).Round(time.Second))
	return &Result{ImageID: imageID, Tag: opts.Tag, Prepared: prep}, nil
}

// claimOrReuse returns either a usable cached record or a claim on key.
func (b *Builder) claimOrReuse(ctx context.Context, key imagecache.Key) (imagecache.Claim, *imagecache.Record, error) {
	waiting := false
	for {
		if err := ctx.Err(); err != nil {
			return imagecache.Claim{}, nil, err
		}
		rec, status, err := b.cache.Get(ctx, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return imagecache.Claim{}, nil, ctxErr
			}
			logs.Warnf("build cache lookup failed, building anyway: %v", err)
			return imagecache.Claim{Key: key}, nil, nil
		}

		switch status {
		case imagecache.Hit:
			if b.engine.ImageExists(ctx, rec.ImageID) {
				return imagecache.Claim{}, rec, nil
			}
			logs.Infof("cached image %s is gone from the engine, rebuilding", shortID(rec.ImageID))
			if err := b.cache.Delete(ctx, key); err != nil {
				return imagecache.Claim{}, nil, fmt.Errorf("drop stale cache entry: %w", err)
			}
			continue
		case imagecache.Building:
			if !waiting {
				logs.Infof("an identical build is already running, waiting for it")
				waiting = true
			}
			select {
			case <-ctx.Done():
				return imagecache.Claim{}, nil, ctx.Err()
			case <-time.After(b.pollInterval):
			}
			continue
		}

		claim, ok, err := b.cache.Claim(ctx, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return imagecache.Claim{}, nil, ctxErr
			}
			return imagecache.Claim{}, nil, fmt.Errorf("claim build %s: %w", key.Short(), err)
		}
		if ok {
			return claim, nil, nil
		}
	}
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
