package sandbox

import (
	"fmt"
	"os"

	"github.com/kkkaaai/blockforge/internal/config"
)

// New builds the configured Sandbox backend. Callers decide allocation
// granularity (ModePerBlock vs ModeSharedFlow) by how often they call
// New, not by anything in this package — a single Sandbox instance
// works identically whether it's used once or reused across an entire
// flow run.
func New(cfg config.SandboxConfig) (Sandbox, error) {
	switch cfg.Backend {
	case "container":
		return NewContainerSandbox(cfg.Image), nil
	case "subprocess", "":
		workDir, err := os.MkdirTemp("", "blockforge-sandbox-*")
		if err != nil {
			return nil, fmt.Errorf("sandbox: create work dir: %w", err)
		}
		return NewSubprocessSandbox("python3", workDir), nil
	default:
		return nil, fmt.Errorf("sandbox: unknown backend %q", cfg.Backend)
	}
}

// RequestFromConfig fills the resource-limit fields of a Request from
// SandboxConfig, leaving Code/Inputs for the caller to set.
// blockNeedsNetwork is the block's own BlockMetadata.NeedsNetwork;
// network access is granted if either the block declares it needs it
// or the deployment's default posture allows it.
func RequestFromConfig(cfg config.SandboxConfig, blockNeedsNetwork bool) Request {
	return Request{
		Timeout:       cfg.DefaultTimeout,
		NeedsNetwork:  blockNeedsNetwork || cfg.NetworkDefault,
		MemoryLimitMB: cfg.MemoryLimitMB,
		CPULimit:      cfg.CPULimit,
	}
}
