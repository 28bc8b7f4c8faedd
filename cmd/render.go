package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/achilleasa/lumen/renderer"
	"github.com/achilleasa/lumen/scene/reader"
)

// Build render options from the optional config file and any explicitly set
// flags. Flags override config file values.
func renderOptions(ctx *cli.Context) (renderer.Options, error) {
	opts := renderer.DefaultOptions()
	if cfgFile := ctx.String("config"); cfgFile != "" {
		var err error
		if opts, err = renderer.LoadOptions(cfgFile); err != nil {
			return opts, err
		}
	}

	if ctx.IsSet("width") {
		opts.FrameW = uint32(ctx.Int("width"))
	}
	if ctx.IsSet("height") {
		opts.FrameH = uint32(ctx.Int("height"))
	}
	if ctx.IsSet("spp") {
		opts.SamplesPerPixel = uint32(ctx.Int("spp"))
	}
	if ctx.IsSet("bounces") {
		opts.NumBounces = uint32(ctx.Int("bounces"))
	}
	if ctx.IsSet("tile-width") {
		opts.TileW = uint32(ctx.Int("tile-width"))
	}
	if ctx.IsSet("tile-height") {
		opts.TileH = uint32(ctx.Int("tile-height"))
	}
	if ctx.IsSet("seed") {
		opts.Seed = uint64(ctx.Int64("seed"))
	}
	if ctx.IsSet("blacklist") {
		opts.BlackListedDevices = ctx.StringSlice("blacklist")
	}
	if ctx.IsSet("force-device") {
		opts.ForcePrimaryDevice = ctx.String("force-device")
	}

	return opts, opts.Validate()
}

// Render a still frame.
func RenderFrame(ctx *cli.Context) error {
	setupLogging(ctx)

	opts, err := renderOptions(ctx)
	if err != nil {
		return err
	}

	// Load scene
	if ctx.NArg() != 1 {
		return errors.New("missing scene file argument")
	}

	sc, err := reader.ReadScene(ctx.Args().First())
	if err != nil {
		return err
	}

	r, err := renderer.NewDefault(sc, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Noticef("rendering %dx%d frame with %d spp", opts.FrameW, opts.FrameH, opts.SamplesPerPixel)
	start := time.Now()
	err = r.RenderFrames(sigCtx, 0)
	if err != nil && !errors.Is(err, renderer.ErrInterrupted) {
		return err
	}
	if err != nil {
		logger.Warningf("rendering interrupted after %d frames", r.FrameCount())
	}
	logger.Noticef("accumulated %d frames in %d ms", r.FrameCount(), time.Since(start).Nanoseconds()/1e6)

	// Display stats
	displayFrameStats(r.Stats())

	return r.WritePNG(ctx.String("out"))
}

func displayFrameStats(stats renderer.FrameStats) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Tile", "Size", "% of frame", "Ray gen", "Query", "Shade", "Render time"})
	for _, stat := range stats.Tiles {
		table.Append([]string{
			fmt.Sprintf("(%d, %d)", stat.Tile.X, stat.Tile.Y),
			fmt.Sprintf("%dx%d", stat.Tile.W, stat.Tile.H),
			fmt.Sprintf("%02.1f %%", stat.FramePercent),
			stat.Estimate.RayTime.String(),
			stat.Estimate.QueryTime.String(),
			stat.Estimate.ShadeTime.String(),
			stat.RenderTime.String(),
		})
	}
	table.SetFooter([]string{"", "", "", "", "", fmt.Sprintf("FRAME %d", stats.Frame), stats.RenderTime.String()})

	table.Render()
	logger.Noticef("frame statistics (%s)\n%s", stats.Device, buf.String())
}
