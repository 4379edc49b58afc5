package quality

import (
	"fmt"
	"strings"
)

// Preset names a parameter bundle controlling resolution and feature budgets.
type Preset string

const (
	Low    Preset = "low"
	Medium Preset = "medium"
	High   Preset = "high"
)

// Tier selects between the accelerated and CPU-only parameter rows.
type Tier string

const (
	TierGPU Tier = "gpu"
	TierCPU Tier = "cpu"
)

// Params is the resolved engine parameter bundle for one job. It is computed
// exactly once, at job creation, and never re-derived mid-pipeline.
type Params struct {
	Preset          Preset
	Tier            Tier
	MaxImageSize    int
	MaxFeatureCount int
	MaxMatchCount   int
	NumThreads      int
	MaxFrames       int
	FrameScale      string
	DenseEnabled    bool
}

// Parse converts a request string into a known Preset.
func Parse(value string) (Preset, error) {
	switch Preset(strings.ToLower(strings.TrimSpace(value))) {
	case Low:
		return Low, nil
	case Medium:
		return Medium, nil
	case High:
		return High, nil
	default:
		return "", fmt.Errorf("unknown quality preset %q (want low, medium, or high)", value)
	}
}

// Presets returns the known presets in ascending fidelity order.
func Presets() []Preset {
	return []Preset{Low, Medium, High}
}

type row struct {
	maxImageSize    int
	maxFeatureCount int
	maxMatchCount   int
	maxFrames       int
	frameScale      string
}

// The GPU rows follow the engine defaults this service was tuned with; the
// CPU rows are a reduced sub-tier of the same table, not a separate code path.
var gpuRows = map[Preset]row{
	Low:    {maxImageSize: 2048, maxFeatureCount: 16384, maxMatchCount: 32768, maxFrames: 50, frameScale: "1280:-2"},
	Medium: {maxImageSize: 4096, maxFeatureCount: 32768, maxMatchCount: 65536, maxFrames: 80, frameScale: "1920:-2"},
	High:   {maxImageSize: 8192, maxFeatureCount: 65536, maxMatchCount: 131072, maxFrames: 120, frameScale: "3840:-2"},
}

var cpuRows = map[Preset]row{
	Low:    {maxImageSize: 1024, maxFeatureCount: 8192, maxMatchCount: 16384, maxFrames: 40, frameScale: "1280:-2"},
	Medium: {maxImageSize: 2048, maxFeatureCount: 16384, maxMatchCount: 32768, maxFrames: 60, frameScale: "1920:-2"},
	High:   {maxImageSize: 4096, maxFeatureCount: 32768, maxMatchCount: 65536, maxFrames: 80, frameScale: "1920:-2"},
}

// Resolve maps a preset and hardware tier to the static parameter bundle.
// Dense reconstruction is only enabled for medium and high presets on the GPU
// tier; CPU-only runs always stop at the sparse model.
func Resolve(preset Preset, tier Tier, numThreads int) Params {
	rows := gpuRows
	if tier == TierCPU {
		rows = cpuRows
	}
	r, ok := rows[preset]
	if !ok {
		r = rows[Medium]
		preset = Medium
	}
	if numThreads <= 0 {
		numThreads = 8
	}
	return Params{
		Preset:          preset,
		Tier:            tier,
		MaxImageSize:    r.maxImageSize,
		MaxFeatureCount: r.maxFeatureCount,
		MaxMatchCount:   r.maxMatchCount,
		NumThreads:      numThreads,
		MaxFrames:       r.maxFrames,
		FrameScale:      r.frameScale,
		DenseEnabled:    tier == TierGPU && preset != Low,
	}
}
