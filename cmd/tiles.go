package cmd

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/tilefarm/distributed"
	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/tracer"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// List the tile grid and the ranks contributing to each tile.
func ListTiles(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	grid, err := fb.NewGrid(cfg.Frame.Width, cfg.Frame.Height, cfg.Frame.TileSize)
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
	camera := cfg.BuildCamera()

	mode := distributed.SelectMode(tr, world)
	policy := cfg.DistributedOptions().Policy
	var own distributed.Ownership
	switch {
	case mode == distributed.ModeDataParallel:
		if own, err = distributed.DataParallel(grid, camera, world, cfg.Cluster.Ranks); err != nil {
			return err
		}
	case policy == distributed.PolicyDynamic:
		own = distributed.ReplicatedDynamic(grid)
	default:
		own = distributed.ReplicatedStatic(grid, cfg.Cluster.Ranks)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n%dx%d frame, %dx%d tiles of %d pixels, %d rank(s), %s mode, %s policy\n\n",
		grid.Size.X, grid.Size.Y, grid.TilesX, grid.TilesY, grid.TileSize, cfg.Cluster.Ranks, mode, policy,
	)

	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Tile", "Coord", "Region", "Contributors"})
	for _, id := range grid.TileIDs() {
		table.Append([]string{
			fmt.Sprintf("%d", id),
			grid.TileCoord(id).String(),
			grid.TileRegion(id).String(),
			formatRanks(own[id]),
		})
	}
	table.SetFooter([]string{"", "", "CONTRIBUTIONS", fmt.Sprintf("%d", own.Expected())})
	table.Render()

	logger.Notice(buf.String())
	return nil
}

func formatRanks(ranks []int) string {
	if len(ranks) == 0 {
		return "-"
	}
	if len(ranks) == 1 && ranks[0] == distributed.AnyRank {
		return "any"
	}
	return fmt.Sprint(ranks)
}
