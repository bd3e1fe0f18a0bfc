package dockerclient

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/build"
	sdkimage "github.com/docker/go-sdk/image"

	"github.com/0xa1bed0/appimg/internal/logs"
)

// BuildImage streams buildContext (a tar with a Dockerfile at its root) to
// the engine, tags the result and returns the image ID.
func (dc *dockerClient) BuildImage(ctx context.Context, buildContext io.Reader, tag string, labels map[string]string) (string, error) {
	tail := logs.TailWriter("docker build " + tag)
	dc.sdkLog.Set(tail)
	defer func() {
		dc.sdkLog.Set(nil)
		_ = tail.Close()
	}()

	buildTag, err := sdkimage.Build(
		ctx,
		buildContext,
		tag,
		sdkimage.WithBuildClient(dc.client),
		sdkimage.WithBuildOptions(build.ImageBuildOptions{
			Dockerfile:  "Dockerfile",
			Remove:      true, // remove intermediate containers
			ForceRemove: true,
			Labels:      labels,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("image build: %w", err)
	}

	inspect, err := dc.client.ImageInspect(ctx, buildTag)
	if err != nil {
		return "", fmt.Errorf("inspect built image %s: %w", buildTag, err)
	}

	return inspect.ID, nil
}
