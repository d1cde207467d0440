// Package config loads render settings from HCL files.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"runtime"
	"time"

	"github.com/achilleasa/tilefarm/balancer"
	"github.com/achilleasa/tilefarm/distributed"
	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/log"
	"github.com/achilleasa/tilefarm/renderer"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/types"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/muesli/gamut"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var (
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

type Config struct {
	LogLevel string `hcl:"log_level,optional"`

	Frame    *FrameBlock    `hcl:"frame,block"`
	Render   *RenderBlock   `hcl:"render,block"`
	Balancer *BalancerBlock `hcl:"balancer,block"`
	Cluster  *ClusterBlock  `hcl:"cluster,block"`
	Camera   *CameraBlock   `hcl:"camera,block"`
	Regions  []*RegionBlock `hcl:"region,block"`
}

type FrameBlock struct {
	Width    int     `hcl:"width,optional"`
	Height   int     `hcl:"height,optional"`
	TileSize int     `hcl:"tile_size,optional"`
	Format   string  `hcl:"format,optional"`
	Depth    bool    `hcl:"depth,optional"`
	Variance *bool   `hcl:"variance,optional"`
	Exposure float64 `hcl:"exposure,optional"`
}

type RenderBlock struct {
	Tracer         string  `hcl:"tracer,optional"`
	Method         string  `hcl:"method,optional"`
	MaxPasses      int     `hcl:"max_passes,optional"`
	ErrorThreshold float64 `hcl:"error_threshold,optional"`
}

type BalancerBlock struct {
	Workers        int `hcl:"workers,optional"`
	TasksPerWorker int `hcl:"tasks_per_worker,optional"`
}

type ClusterBlock struct {
	Ranks               int    `hcl:"ranks,optional"`
	Policy              string `hcl:"policy,optional"`
	Batch               int    `hcl:"batch,optional"`
	ContributionTimeout string `hcl:"contribution_timeout,optional"`
}

type CameraBlock struct {
	WindowMin []float64 `hcl:"window_min,optional"`
	WindowMax []float64 `hcl:"window_max,optional"`
	Near      float64   `hcl:"near,optional"`
}

type RegionBlock struct {
	Name    string    `hcl:"name,label"`
	Min     []float64 `hcl:"min"`
	Max     []float64 `hcl:"max"`
	Owner   *int      `hcl:"owner,optional"`
	Color   string    `hcl:"color,optional"`
	Opacity *float64  `hcl:"opacity,optional"`
}

// Get the default configuration: a 512x512 debug render on a single rank.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func newHCLEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"cpus": cty.NumberIntVal(int64(runtime.NumCPU())),
		},
		Functions: map[string]function.Function{
			"min": stdlib.MinFunc,
			"max": stdlib.MaxFunc,
		},
	}
}

// Load and validate a configuration file.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, newHCLEvalContext(), &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

// Parse and validate configuration source. The filename is used for error
// messages and must have an .hcl or .json suffix.
func Parse(filename string, src []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, src, newHCLEvalContext(), &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Frame == nil {
		cfg.Frame = &FrameBlock{}
	}
	if cfg.Frame.Width == 0 {
		cfg.Frame.Width = 512
	}
	if cfg.Frame.Height == 0 {
		cfg.Frame.Height = 512
	}
	if cfg.Frame.TileSize == 0 {
		cfg.Frame.TileSize = fb.TileSize
	}
	if cfg.Frame.Format == "" {
		cfg.Frame.Format = fb.FormatRGBA8.String()
	}
	if cfg.Frame.Variance == nil {
		variance := true
		cfg.Frame.Variance = &variance
	}

	if cfg.Render == nil {
		cfg.Render = &RenderBlock{}
	}
	if cfg.Render.Tracer == "" {
		cfg.Render.Tracer = "debug"
	}
	if cfg.Render.MaxPasses == 0 {
		cfg.Render.MaxPasses = 16
	}

	if cfg.Balancer == nil {
		cfg.Balancer = &BalancerBlock{}
	}
	if cfg.Balancer.TasksPerWorker == 0 {
		cfg.Balancer.TasksPerWorker = balancer.DefaultTasksPerWorker
	}

	if cfg.Cluster == nil {
		cfg.Cluster = &ClusterBlock{}
	}
	if cfg.Cluster.Ranks == 0 {
		cfg.Cluster.Ranks = 1
	}
	if cfg.Cluster.Policy == "" {
		cfg.Cluster.Policy = distributed.PolicyStatic.String()
	}
	if cfg.Cluster.Batch == 0 {
		cfg.Cluster.Batch = distributed.DefaultBatch
	}

	if cfg.Camera == nil {
		cfg.Camera = &CameraBlock{}
	}
	if cfg.Camera.WindowMin == nil {
		cfg.Camera.WindowMin = []float64{0, 0}
	}
	if cfg.Camera.WindowMax == nil {
		cfg.Camera.WindowMax = []float64{1, 1}
	}
}

// Check the configuration for values that cannot be used.
func (cfg *Config) Validate() error {
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := fb.ParseColorFormat(cfg.Frame.Format); err != nil {
		return fmt.Errorf("%w: frame: %v", ErrInvalidConfig, err)
	}
	if _, err := fb.NewGrid(cfg.Frame.Width, cfg.Frame.Height, cfg.Frame.TileSize); err != nil {
		return fmt.Errorf("%w: frame: %v", ErrInvalidConfig, err)
	}
	if cfg.Frame.Exposure < 0 {
		return fmt.Errorf("%w: frame: exposure must not be negative", ErrInvalidConfig)
	}
	if cfg.Render.MaxPasses < 1 {
		return fmt.Errorf("%w: render: max_passes must be at least 1", ErrInvalidConfig)
	}
	if cfg.Render.ErrorThreshold < 0 {
		return fmt.Errorf("%w: render: error_threshold must not be negative", ErrInvalidConfig)
	}
	if cfg.Balancer.Workers < 0 || cfg.Balancer.TasksPerWorker < 1 {
		return fmt.Errorf("%w: balancer: workers must not be negative and tasks_per_worker must be positive", ErrInvalidConfig)
	}
	if cfg.Cluster.Ranks < 1 || cfg.Cluster.Batch < 1 {
		return fmt.Errorf("%w: cluster: ranks and batch must be positive", ErrInvalidConfig)
	}
	if _, err := distributed.ParsePolicy(cfg.Cluster.Policy); err != nil {
		return fmt.Errorf("%w: cluster: %v", ErrInvalidConfig, err)
	}
	if _, err := cfg.contributionTimeout(); err != nil {
		return fmt.Errorf("%w: cluster: %v", ErrInvalidConfig, err)
	}
	if len(cfg.Camera.WindowMin) != 2 || len(cfg.Camera.WindowMax) != 2 {
		return fmt.Errorf("%w: camera: window_min and window_max need 2 components", ErrInvalidConfig)
	}
	if err := cfg.BuildCamera().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, r := range cfg.Regions {
		if len(r.Min) != 3 || len(r.Max) != 3 {
			return fmt.Errorf("%w: region %q: min and max need 3 components", ErrInvalidConfig, r.Name)
		}
		if r.Owner != nil && *r.Owner >= cfg.Cluster.Ranks {
			return fmt.Errorf("%w: region %q: owner %d outside of cluster with %d ranks", ErrInvalidConfig, r.Name, *r.Owner, cfg.Cluster.Ranks)
		}
	}
	if _, err := cfg.BuildWorld(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Get the configured log level.
func (cfg *Config) Level() log.Level {
	level, _ := log.ParseLevel(cfg.LogLevel)
	return level
}

// Get the frame buffer options. Accumulation is always enabled.
func (cfg *Config) FrameBufferOptions() fb.Options {
	format, _ := fb.ParseColorFormat(cfg.Frame.Format)
	opts := fb.Options{
		Format:   format,
		Depth:    cfg.Frame.Depth,
		Accum:    true,
		Variance: *cfg.Frame.Variance,
		TileSize: cfg.Frame.TileSize,
	}
	if cfg.Frame.Exposure > 0 {
		opts.PixelOp = fb.ToneMap{Exposure: float32(cfg.Frame.Exposure)}
	}
	return opts
}

func (cfg *Config) RendererOptions() renderer.Options {
	return renderer.Options{
		MaxPasses:      cfg.Render.MaxPasses,
		ErrorThreshold: float32(cfg.Render.ErrorThreshold),
		ClearOnRender:  true,
	}
}

func (cfg *Config) LocalOptions() balancer.LocalOptions {
	return balancer.LocalOptions{
		Workers:        cfg.Balancer.Workers,
		TasksPerWorker: cfg.Balancer.TasksPerWorker,
	}
}

func (cfg *Config) DistributedOptions() distributed.Options {
	policy, _ := distributed.ParsePolicy(cfg.Cluster.Policy)
	timeout, _ := cfg.contributionTimeout()
	return distributed.Options{
		Policy:              policy,
		Batch:               cfg.Cluster.Batch,
		ContributionTimeout: timeout,
		Local:               cfg.LocalOptions(),
	}
}

func (cfg *Config) contributionTimeout() (time.Duration, error) {
	if cfg.Cluster.ContributionTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(cfg.Cluster.ContributionTimeout)
}

func (cfg *Config) BuildCamera() *scene.Camera {
	cam := scene.NewCamera(
		types.XY(float32(cfg.Camera.WindowMin[0]), float32(cfg.Camera.WindowMin[1])),
		types.XY(float32(cfg.Camera.WindowMax[0]), float32(cfg.Camera.WindowMax[1])),
	)
	cam.Near = float32(cfg.Camera.Near)
	return cam
}

// Build the world as seen by rank 0. Without any region blocks the world is a
// single replicated region covering the camera window.
func (cfg *Config) BuildWorld() (*scene.World, error) {
	world := scene.NewWorld(0)
	if len(cfg.Regions) == 0 {
		err := world.AddRegion(&scene.Region{
			Name: "world",
			Bounds: scene.Box3{
				Min: types.XYZ(float32(cfg.Camera.WindowMin[0]), float32(cfg.Camera.WindowMin[1]), float32(cfg.Camera.Near)),
				Max: types.XYZ(float32(cfg.Camera.WindowMax[0]), float32(cfg.Camera.WindowMax[1]), float32(cfg.Camera.Near)+1),
			},
			Owner:   scene.AllRanks,
			Color:   types.XYZ(1, 1, 1),
			Opacity: 1,
		})
		return world, err
	}

	paletteSize := len(cfg.Regions)
	if paletteSize < 2 {
		paletteSize = 2
	}
	palette := gamut.Blends(gamut.Hex("#26A69A"), gamut.Hex("#EF5350"), paletteSize)
	for i, r := range cfg.Regions {
		region := &scene.Region{
			Name: r.Name,
			Bounds: scene.Box3{
				Min: types.XYZ(float32(r.Min[0]), float32(r.Min[1]), float32(r.Min[2])),
				Max: types.XYZ(float32(r.Max[0]), float32(r.Max[1]), float32(r.Max[2])),
			},
			Owner:   scene.AllRanks,
			Color:   toVec3(palette[i%len(palette)]),
			Opacity: 1,
		}
		if r.Owner != nil {
			region.Owner = *r.Owner
		}
		if r.Color != "" {
			region.Color = toVec3(gamut.Hex(r.Color))
		}
		if r.Opacity != nil {
			region.Opacity = float32(*r.Opacity)
		}
		if err := world.AddRegion(region); err != nil {
			return nil, err
		}
	}
	return world, nil
}

func toVec3(c color.Color) types.Vec3 {
	r, g, b, _ := c.RGBA()
	return types.XYZ(float32(r)/0xffff, float32(g)/0xffff, float32(b)/0xffff)
}
