package dockerclient

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

const probeTimeout = 2 * time.Minute

// Probe emulates:
//
//	docker run --rm --entrypoint /bin/sh IMAGE -c SCRIPT
//
// The container runs as the image's default user with the image's env, so
// what the script sees is what the application process would see.
func (dc *dockerClient) Probe(ctx context.Context, ref string, script string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cfg := &container.Config{
		Image:        ref,
		Entrypoint:   []string{"/bin/sh", "-c"},
		Cmd:          []string{script},
		AttachStdout: true,
		AttachStderr: true,
		Labels:       map[string]string{"appimg.probe": "1"},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
	}

	created, err := dc.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}
	id := created.ID

	defer func() {
		_ = dc.client.ContainerRemove(context.Background(), id, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		})
	}()

	// Register the wait before start so a fast exit is not missed.
	statusCh, errCh := dc.client.ContainerWait(ctx, id, container.WaitConditionNextExit)

	if err := dc.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("container start: %w", err)
	}

	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("container wait: %w", err)
		}
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return nil, fmt.Errorf("container wait: %s", st.Error.Message)
		}
		exitCode = st.StatusCode
	}

	rc, err := dc.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	// Tty is off, so the stream is multiplexed.
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return nil, fmt.Errorf("read container output: %w", err)
	}

	return &ProbeResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}
