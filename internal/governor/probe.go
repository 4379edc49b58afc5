package governor

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/marco-interact/colmap-mvp-sub000/internal/quality"
)

// Prober detects the available compute tier.
type Prober interface {
	Probe(ctx context.Context) quality.Tier
}

// NvidiaProber shells out to nvidia-smi to detect a usable CUDA device.
// Any failure downgrades to the CPU tier; probing never blocks startup.
type NvidiaProber struct {
	Binary  string
	Timeout time.Duration
}

// Probe returns the GPU tier when nvidia-smi reports at least one device.
func (p NvidiaProber) Probe(ctx context.Context) quality.Tier {
	binary := p.Binary
	if binary == "" {
		binary = "nvidia-smi"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, binary, "--query-gpu=name", "--format=csv,noheader").Output() //nolint:gosec
	if err != nil {
		return quality.TierCPU
	}
	if strings.TrimSpace(string(out)) == "" {
		return quality.TierCPU
	}
	return quality.TierGPU
}

// StaticProber always reports a fixed tier. Used in tests and on hosts where
// the operator pins the tier explicitly.
type StaticProber struct {
	Tier quality.Tier
}

func (p StaticProber) Probe(context.Context) quality.Tier {
	return p.Tier
}
