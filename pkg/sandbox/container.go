package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerSandbox runs every block body in a throwaway Docker
// container, one per Run call. Grounded on spec.md §4.B's container
// backend description; testcontainers-go is wired because it's
// already a teacher test dependency and the pack's only
// container-orchestration library, so the production container
// backend and the test suite share one client.
type ContainerSandbox struct {
	image   string
	network bool
}

// NewContainerSandbox returns a backend that launches image (e.g.
// "python:3.12-slim") per Run call.
func NewContainerSandbox(image string) *ContainerSandbox {
	return &ContainerSandbox{image: image}
}

func (s *ContainerSandbox) Run(ctx context.Context, req Request) (*Result, error) {
	script := fmt.Sprintf(runnerTemplate, req.Code)
	inputsJSON, err := json.Marshal(req.Inputs)
	if err != nil {
		return nil, fmt.Errorf("sandbox: marshal inputs: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req2 := testcontainers.ContainerRequest{
		Image: s.image,
		Cmd:   []string{"python3", "-c", script, string(inputsJSON)},
		WaitingFor: wait.ForExit().WithExitTimeout(timeout),
	}
	if !req.NeedsNetwork {
		req2.NetworkMode = "none"
	}
	if req.MemoryLimitMB > 0 {
		req2.HostConfigModifier = func(hc *container.HostConfig) {
			hc.Resources.Memory = req.MemoryLimitMB * 1024 * 1024
		}
	}

	start := time.Now()
	container, err := testcontainers.GenericContainer(runCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: req2,
		Started:          true,
	})
	if err != nil {
		if runCtx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("sandbox: start container: %w", err)
	}
	defer func() { _ = container.Terminate(context.Background()) }()

	state, err := container.State(runCtx)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("sandbox: container state: %w", err)
	}

	logsReader, err := container.Logs(runCtx)
	var stdout bytes.Buffer
	if err == nil {
		_, _ = io.Copy(&stdout, logsReader)
	}

	result := &Result{
		Stdout:   stdout.String(),
		Duration: duration,
		ExitCode: state.ExitCode,
	}

	if runCtx.Err() != nil {
		return result, ErrTimeout
	}
	if state.ExitCode != 0 {
		return result, fmt.Errorf("%w: exit code %d", ErrNonZeroExit, state.ExitCode)
	}

	var output map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return result, fmt.Errorf("sandbox: parse block output: %w", err)
	}
	result.Output = output
	return result, nil
}

func (s *ContainerSandbox) Close() error { return nil }
