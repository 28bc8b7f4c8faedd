package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/achilleasa/lumen/cmd"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	deviceFlags := []cli.Flag{
		cli.StringSliceFlag{
			Name:  "blacklist, b",
			Value: &cli.StringSlice{},
			Usage: "blacklist devices whose name or vendor contains this value",
		},
		cli.StringFlag{
			Name:  "force-device",
			Usage: "force the use of the first device whose name or vendor contains this value",
		},
	}

	app := cli.NewApp()
	app.Name = "lumen"
	app.Usage = "render scenes using progressive wavefront path tracing"
	app.Version = "0.1.0"
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
			Name:   "list-devices",
			Usage:  "list available intersection devices",
			Flags:  deviceFlags,
			Action: cmd.ListDevices,
		},
		{
			Name:      "scene-info",
			Usage:     "display scene information",
			ArgsUsage: "scene_file",
			Action:    cmd.ShowSceneInfo,
		},
		{
			Name:  "render",
			Usage: "render a still frame",
			Description: `
Load a scene from a wavefront obj or yaml scene file and progressively
accumulate samples until the requested samples per pixel are reached.
The tonemapped frame is written as a PNG image.`,
			ArgsUsage: "scene_file",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "config, c",
					Usage: "load render options from a TOML file",
				},
				cli.IntFlag{
					Name:  "width",
					Value: 512,
					Usage: "frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 512,
					Usage: "frame height",
				},
				cli.IntFlag{
					Name:  "spp",
					Value: 16,
					Usage: "samples per pixel",
				},
				cli.IntFlag{
					Name:  "bounces",
					Value: 4,
					Usage: "number of path segments traced per sample",
				},
				cli.IntFlag{
					Name:  "tile-width",
					Value: 64,
					Usage: "tile width",
				},
				cli.IntFlag{
					Name:  "tile-height",
					Value: 64,
					Usage: "tile height",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 0xC0FFEE,
					Usage: "seed for the per-pixel random streams",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the rendered frame",
				},
			}, deviceFlags...),
			Action: cmd.RenderFrame,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}
