package dockerclient

//go:generate mockgen -source=client.go -destination=mocks/dockerclient_mock.go -package=mocks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/go-sdk/client"

	"github.com/0xa1bed0/appimg/internal/logs"
)

// ImageConfig is the part of an image's config the build procedure sets.
type ImageConfig struct {
	ID           string
	User         string
	Env          []string
	WorkingDir   string
	ExposedPorts []string
	Labels       map[string]string
}

// ProbeResult is the outcome of a command run in a throwaway container.
type ProbeResult struct {
	Stdout   string
	Stderr   string
	ExitCode int64
}

type DockerImageBuilder interface {
	BuildImage(ctx context.Context, buildContext io.Reader, tag string, labels map[string]string) (string, error)
	ImageExists(ctx context.Context, ref string) bool
	TagImage(ctx context.Context, ref, tag string) error
	RemoveImage(ctx context.Context, ref string) error
}

type DockerImageProber interface {
	InspectImage(ctx context.Context, ref string) (*ImageConfig, error)
	Probe(ctx context.Context, ref string, script string) (*ProbeResult, error)
}

type DockerClient interface {
	DockerImageBuilder
	DockerImageProber
}

type dockerClient struct {
	client client.SDKClient
	sdkLog *switchWriter
}

// NewDockerClient connects to the engine from the environment (DOCKER_HOST,
// the current docker context). SDK logs go to debug output except while a
// build is streaming.
func NewDockerClient(ctx context.Context) (DockerClient, error) {
	sdkLog := &switchWriter{}
	sdkLog.Set(nil)

	cli, err := client.New(
		ctx,
		client.WithLogger(slog.New(slog.NewTextHandler(sdkLog, &slog.HandlerOptions{}))),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}

	return &dockerClient{
		client: cli,
		sdkLog: sdkLog,
	}, nil
}

func (dc *dockerClient) ImageExists(ctx context.Context, ref string) bool {
	_, err := dc.client.ImageInspect(ctx, ref)

	return err == nil
}

func (dc *dockerClient) InspectImage(ctx context.Context, ref string) (*ImageConfig, error) {
	inspect, err := dc.client.ImageInspect(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", ref, err)
	}

	out := &ImageConfig{ID: inspect.ID}
	if inspect.Config == nil {
		return out, nil
	}
	cfg := inspect.Config
	out.User = cfg.User
	out.Env = append(out.Env, cfg.Env...)
	out.WorkingDir = cfg.WorkingDir
	out.Labels = make(map[string]string, len(cfg.Labels))
	for k, v := range cfg.Labels {
		out.Labels[k] = v
	}
	for port := range cfg.ExposedPorts {
		out.ExposedPorts = append(out.ExposedPorts, port)
	}
	sort.Strings(out.ExposedPorts)

	return out, nil
}

// TagImage points tag at ref, moving it off whatever image held it.
func (dc *dockerClient) TagImage(ctx context.Context, ref, tag string) error {
	if err := dc.client.ImageTag(ctx, ref, tag); err != nil {
		return fmt.Errorf("tag image %s as %s: %w", ref, tag, err)
	}
	return nil
}

// RemoveImage deletes ref. An image that is already gone is not an error.
func (dc *dockerClient) RemoveImage(ctx context.Context, ref string) error {
	_, err := dc.client.ImageRemove(ctx, ref, image.RemoveOptions{PruneChildren: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("remove image %s: %w", ref, err)
	}
	return nil
}

// switchWriter lets the SDK logger target change after the client exists.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// Set points the writer at w. nil means debug logs.
func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w == nil {
		w = debugWriter{}
	}
	s.w = w
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type debugWriter struct{}

func (debugWriter) Write(p []byte) (int, error) {
	logs.Debugf("docker: %s", trimNewline(string(p)))
	return len(p), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
