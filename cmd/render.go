package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"time"

	"github.com/achilleasa/tilefarm/balancer"
	"github.com/achilleasa/tilefarm/config"
	"github.com/achilleasa/tilefarm/distributed"
	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/renderer"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tracer"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Render a frame progressively and save it as a PNG image.
func RenderFrame(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	tr, err := tracer.New(cfg.Render.Tracer, cfg.Render.Method)
	if err != nil {
		return err
	}
	world, err := cfg.BuildWorld()
	if err != nil {
		return err
	}

	frame, lb, err := setupBalancer(cfg, tr, world)
	if err != nil {
		return err
	}

	r, err := renderer.NewProgressive(frame, lb, tr, cfg.BuildCamera(), world, cfg.RendererOptions())
	if err != nil {
		if cluster, ok := lb.(*distributed.Cluster); ok {
			_ = cluster.Close(context.Background())
		}
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Errorf("shutting down: %v", err)
		}
	}()

	// Ctrl+C stops after the current pass and keeps what has accumulated.
	renderCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = r.Render(renderCtx)
	if err != nil && !errors.Is(err, renderer.ErrInterrupted) {
		return err
	}
	if err != nil {
		logger.Warning("render interrupted; saving partial frame")
	}

	displayFrameStats(r.Stats())
	return writeFrame(frame, ctx.String("out"))
}

// Create the frame buffer and load balancer. Multi-rank setups run an
// in-process cluster.
func setupBalancer(cfg *config.Config, tr tracer.Tracer, world *scene.World) (fb.FrameBuffer, balancer.LoadBalancer, error) {
	opts := cfg.FrameBufferOptions()
	if cfg.Cluster.Ranks == 1 {
		frame, err := fb.NewLocal(cfg.Frame.Width, cfg.Frame.Height, opts)
		if err != nil {
			return nil, nil, err
		}
		return frame, balancer.NewLocal(cfg.LocalOptions()), nil
	}

	frame, err := distributed.NewFrameBuffer(cfg.Frame.Width, cfg.Frame.Height, opts)
	if err != nil {
		return nil, nil, err
	}

	cluster, err := distributed.StartCluster(cfg.Cluster.Ranks, tr, world, cfg.DistributedOptions())
	if err != nil {
		return nil, nil, err
	}
	logger.Noticef("started in-process cluster with %d ranks", cfg.Cluster.Ranks)
	return frame, cluster, nil
}

// Encode the frame buffer's color output as PNG.
func writeFrame(frame fb.FrameBuffer, path string) error {
	view := frame.MapColorBuffer()
	defer func() {
		if err := frame.Unmap(view); err != nil {
			logger.Errorf("releasing color buffer: %v", err)
		}
	}()

	img := view.Image()
	if img == nil {
		return fmt.Errorf("frame buffer format %s has no color output to save", frame.Format())
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	if err = png.Encode(f, img); err != nil {
		return err
	}
	logger.Noticef("wrote frame to %s in %s", path, time.Since(start))
	return nil
}

func displayFrameStats(stats renderer.FrameStats) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Pass", "Frame error", "Render time"})
	for _, stat := range stats.Passes {
		table.Append([]string{
			fmt.Sprintf("%d", stat.Pass),
			fmt.Sprintf("%.5f", stat.FrameError),
			stat.RenderTime.String(),
		})
	}
	table.SetFooter([]string{"", fmt.Sprintf("converged: %t", stats.Converged), stats.RenderTime.String()})
	table.Render()

	buf.WriteByte('\n')
	table = tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Rank", "Tiles", "% of tiles"})
	for _, stat := range stats.Ranks {
		table.Append([]string{
			fmt.Sprintf("%d", stat.Rank),
			fmt.Sprintf("%d", stat.Tiles),
			fmt.Sprintf("%02.1f %%", stat.Percent),
		})
	}
	table.Render()

	logger.Noticef("frame statistics\n%s", buf.String())
}
