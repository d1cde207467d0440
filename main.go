package main

import (
	"fmt"
	"os"

	"github.com/achilleasa/tilefarm/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	configFlag := cli.StringFlag{
		Name:  "config, c",
		Usage: "HCL file with frame, render and cluster settings",
	}
	ranksFlag := cli.IntFlag{
		Name:  "ranks, r",
		Usage: "number of in-process ranks (overrides the config file)",
	}
	policyFlag := cli.StringFlag{
		Name:  "policy, p",
		Usage: "tile assignment policy for replicated worlds: static or dynamic (overrides the config file)",
	}

	app := cli.NewApp()
	app.Name = "tilefarm"
	app.Usage = "render frames as progressively accumulated tiles across local workers and ranks"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "render",
			Usage: "render a frame",
			Description: `
Render passes until the frame error drops below the configured threshold or the
pass budget is exhausted and save the accumulated frame as a PNG image.

When more than one rank is requested an in-process cluster is started. Worlds
with regions owned by different ranks are rendered in data-parallel mode and
the partial tiles are composited on rank 0.`,
			Flags: []cli.Flag{
				configFlag,
				ranksFlag,
				policyFlag,
				cli.IntFlag{
					Name:  "passes",
					Usage: "maximum number of passes (overrides the config file)",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the rendered frame",
				},
			},
			Action: cmd.RenderFrame,
		},
		{
			Name:  "tiles",
			Usage: "list tiles and the ranks contributing to each one",
			Flags: []cli.Flag{
				configFlag,
				ranksFlag,
				policyFlag,
			},
			Action: cmd.ListTiles,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
